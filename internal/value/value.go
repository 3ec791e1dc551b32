package value

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Value is a sealed interface over the wire values a record field can hold.
//
// Scalars (Null, Number, String, Bool) and containers (Array, Object) map to
// plain JSON. Typed variants (Date, Bytes, Pointer, GeoPoint, File) map to
// objects tagged with a "__type" discriminator. ACL has no discriminator and
// is recognised by field name.
type Value interface {
	value() // Sealed - only types in this package implement it
}

// Null is a JSON null or a missing field.
type Null struct{}

func (Null) value() {}

// Number is any JSON number. The wire format does not distinguish integers.
type Number float64

func (Number) value() {}

// String is a JSON string.
type String string

func (String) value() {}

// Bool is a JSON boolean.
type Bool bool

func (Bool) value() {}

// Array is a JSON array of values.
type Array []Value

func (Array) value() {}

// Object is a JSON object without a recognised "__type".
type Object map[string]Value

func (Object) value() {}

// DateLayout is the wire layout for dates: UTC with millisecond precision.
const DateLayout = "2006-01-02T15:04:05.000Z"

// Date is a point in time, serialized as {"__type":"Date","iso":...}.
type Date struct {
	Time time.Time
}

func (Date) value() {}

// NewDate truncates t to milliseconds in UTC so it survives a round trip.
func NewDate(t time.Time) Date {
	return Date{Time: t.UTC().Truncate(time.Millisecond)}
}

// ParseDate parses the wire ISO form.
func ParseDate(iso string) (Date, error) {
	t, err := time.Parse(DateLayout, iso)
	if err != nil {
		// Servers occasionally omit the milliseconds.
		t, err = time.Parse(time.RFC3339Nano, iso)
		if err != nil {
			return Date{}, fmt.Errorf("parse date %q: %w", iso, err)
		}
	}
	return NewDate(t), nil
}

// ISO returns the wire string form.
func (d Date) ISO() string {
	return d.Time.UTC().Format(DateLayout)
}

// Bytes is binary data, serialized as {"__type":"Bytes","base64":...}.
type Bytes []byte

func (Bytes) value() {}

// Base64 returns the standard base64 encoding.
func (b Bytes) Base64() string {
	return base64.StdEncoding.EncodeToString(b)
}

// Pointer references another object by class and id.
//
// Connections holds the pointer-valued fields of the referenced object when
// the pointer was built from a loaded record. Connections are never
// serialized and do not take part in equality.
type Pointer struct {
	ClassName   string
	ObjectID    string
	Connections map[string]Pointer
}

func (Pointer) value() {}

// NewPointer creates a pointer without connections.
func NewPointer(className, objectID string) Pointer {
	return Pointer{ClassName: className, ObjectID: objectID}
}

// Connection returns the nested pointer stored under key.
func (p Pointer) Connection(key string) (Pointer, bool) {
	c, ok := p.Connections[key]
	return c, ok
}

// SameAs reports whether both pointers reference the same object.
func (p Pointer) SameAs(o Pointer) bool {
	return p.ClassName == o.ClassName && p.ObjectID == o.ObjectID
}

func (p Pointer) String() string {
	return p.ClassName + "/" + p.ObjectID
}

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

func (GeoPoint) value() {}

// File references an uploaded file.
type File struct {
	Name string
	URL  string
}

func (File) value() {}

// ACLRule grants read and/or write to one principal ("*", a user id, or "role:<name>").
type ACLRule struct {
	Principal string
	Read      bool
	Write     bool
}

// ACL is an ordered list of rules. Principals are unique.
type ACL struct {
	Rules []ACLRule
}

func (ACL) value() {}

// PublicPrincipal is the wildcard principal.
const PublicPrincipal = "*"

// Rule returns the rule for principal.
func (a ACL) Rule(principal string) (ACLRule, bool) {
	for _, r := range a.Rules {
		if r.Principal == principal {
			return r, true
		}
	}
	return ACLRule{}, false
}

// CanRead reports whether principal, or the public principal, may read.
func (a ACL) CanRead(principal string) bool {
	if r, ok := a.Rule(PublicPrincipal); ok && r.Read {
		return true
	}
	r, ok := a.Rule(principal)
	return ok && r.Read
}

// CanWrite reports whether principal, or the public principal, may write.
func (a ACL) CanWrite(principal string) bool {
	if r, ok := a.Rule(PublicPrincipal); ok && r.Write {
		return true
	}
	r, ok := a.Rule(principal)
	return ok && r.Write
}

// OwnerACL grants public read and owner read/write.
func OwnerACL(ownerID string) ACL {
	return ACL{Rules: []ACLRule{
		{Principal: PublicPrincipal, Read: true},
		{Principal: ownerID, Read: true, Write: true},
	}}
}

// PublicACL grants public read and write.
func PublicACL() ACL {
	return ACL{Rules: []ACLRule{{Principal: PublicPrincipal, Read: true, Write: true}}}
}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Of converts a Go literal to a Value. Values pass through unchanged;
// time.Time becomes Date; []byte becomes Bytes. Anything else goes through
// FromJSON.
func Of(x any) Value {
	switch v := x.(type) {
	case Value:
		return v
	case time.Time:
		return NewDate(v)
	case []byte:
		return Bytes(v)
	case int:
		return Number(v)
	case int32:
		return Number(v)
	case int64:
		return Number(v)
	case uint:
		return Number(v)
	case float32:
		return Number(v)
	case []string:
		arr := make(Array, len(v))
		for i, s := range v {
			arr[i] = String(s)
		}
		return arr
	default:
		return FromJSON(x)
	}
}
