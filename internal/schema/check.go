package schema

import (
	"fmt"

	"github.com/roach88/parsekit/internal/record"
	"github.com/roach88/parsekit/internal/value"
)

// Check reports the first field of rec, staged or saved, whose value does
// not match its declaration. Undeclared fields and nulls are accepted.
func (c Class) Check(rec record.Record) error {
	pending := rec.Pending()
	for _, f := range c.Fields {
		v, ok := pending[f.Name]
		if !ok {
			if !rec.Has(f.Name) {
				continue
			}
			v = rec.Value(f.Name)
		}
		if value.IsNull(v) {
			continue
		}
		if err := f.check(v); err != nil {
			return &Error{Field: c.Name + "." + f.Name, Message: err.Error()}
		}
	}
	return nil
}

func (f Field) check(v value.Value) error {
	ok := false
	switch f.Kind {
	case KindString:
		_, ok = v.(value.String)
	case KindNumber:
		_, ok = v.(value.Number)
	case KindBoolean:
		_, ok = v.(value.Bool)
	case KindDate:
		_, ok = v.(value.Date)
	case KindBytes:
		_, ok = v.(value.Bytes)
	case KindFile:
		_, ok = v.(value.File)
	case KindGeoPoint:
		_, ok = v.(value.GeoPoint)
	case KindArray:
		_, ok = v.(value.Array)
	case KindObject:
		_, ok = v.(value.Object)
	case KindACL:
		_, ok = v.(value.ACL)
	case KindPointer:
		p, isPtr := v.(value.Pointer)
		if isPtr && p.ClassName != f.Target {
			return fmt.Errorf("points at %s, declared %s", p.ClassName, f.Target)
		}
		ok = isPtr
	case KindRelation:
		// Relations are server-side; their wire form decodes as an object.
		_, ok = v.(value.Object)
	}
	if !ok {
		return fmt.Errorf("got %s, declared %s", describe(v), f.Kind)
	}
	return nil
}

func describe(v value.Value) string {
	switch v.(type) {
	case value.String:
		return "string"
	case value.Number:
		return "number"
	case value.Bool:
		return "boolean"
	case value.Date:
		return "date"
	case value.Bytes:
		return "bytes"
	case value.File:
		return "file"
	case value.GeoPoint:
		return "geopoint"
	case value.Array:
		return "array"
	case value.Object:
		return "object"
	case value.ACL:
		return "acl"
	case value.Pointer:
		return "pointer"
	default:
		return fmt.Sprintf("%T", v)
	}
}
