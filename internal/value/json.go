package value

import (
	"encoding/base64"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
)

// ACLField is the field name under which access control lists are stored.
const ACLField = "ACL"

// FromJSON converts a decoded JSON tree into a Value.
//
// Objects carrying a recognised "__type" become typed variants; malformed or
// unrecognised tagged objects stay Object so nothing is lost.
func FromJSON(x any) Value {
	switch v := x.(type) {
	case nil:
		return Null{}
	case bool:
		return Bool(v)
	case string:
		return String(v)
	case float64:
		return Number(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return String(string(v))
		}
		return Number(f)
	case int:
		return Number(v)
	case int64:
		return Number(v)
	case []any:
		arr := make(Array, len(v))
		for i, elem := range v {
			arr[i] = FromJSON(elem)
		}
		return arr
	case map[string]any:
		if typed, ok := fromTagged(v); ok {
			return typed
		}
		obj := make(Object, len(v))
		for k, elem := range v {
			obj[k] = FromJSON(elem)
		}
		return obj
	default:
		return Null{}
	}
}

// FromField converts a decoded field, applying the field-name rule for ACLs.
func FromField(name string, x any) Value {
	if name == ACLField {
		if m, ok := x.(map[string]any); ok {
			if acl, ok := aclFromJSON(m); ok {
				return acl
			}
		}
	}
	return FromJSON(x)
}

func fromTagged(m map[string]any) (Value, bool) {
	tag, _ := m["__type"].(string)
	switch tag {
	case "Date":
		iso, ok := m["iso"].(string)
		if !ok {
			return nil, false
		}
		d, err := ParseDate(iso)
		if err != nil {
			return nil, false
		}
		return d, true
	case "Bytes":
		enc, ok := m["base64"].(string)
		if !ok {
			return nil, false
		}
		raw, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, false
		}
		return Bytes(raw), true
	case "Pointer":
		className, ok1 := m["className"].(string)
		objectID, ok2 := m["objectId"].(string)
		if !ok1 || !ok2 {
			return nil, false
		}
		return NewPointer(className, objectID), true
	case "GeoPoint":
		lat, ok1 := number(m["latitude"])
		lng, ok2 := number(m["longitude"])
		if !ok1 || !ok2 {
			return nil, false
		}
		return GeoPoint{Latitude: lat, Longitude: lng}, true
	case "File":
		name, ok := m["name"].(string)
		if !ok {
			return nil, false
		}
		url, _ := m["url"].(string)
		return File{Name: name, URL: url}, true
	default:
		return nil, false
	}
}

func number(x any) (float64, bool) {
	switch v := x.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func aclFromJSON(m map[string]any) (ACL, bool) {
	principals := make([]string, 0, len(m))
	for k := range m {
		principals = append(principals, k)
	}
	sort.Strings(principals)

	acl := ACL{Rules: make([]ACLRule, 0, len(m))}
	for _, p := range principals {
		perms, ok := m[p].(map[string]any)
		if !ok {
			return ACL{}, false
		}
		read, _ := perms["read"].(bool)
		write, _ := perms["write"].(bool)
		acl.Rules = append(acl.Rules, ACLRule{Principal: p, Read: read, Write: write})
	}
	return acl, true
}

// Wire converts a Value back to its JSON tree.
func Wire(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case Number:
		return float64(val)
	case String:
		return string(val)
	case Bool:
		return bool(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Wire(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = Wire(elem)
		}
		return out
	case Date:
		return map[string]any{"__type": "Date", "iso": val.ISO()}
	case Bytes:
		return map[string]any{"__type": "Bytes", "base64": val.Base64()}
	case Pointer:
		return map[string]any{"__type": "Pointer", "className": val.ClassName, "objectId": val.ObjectID}
	case GeoPoint:
		return map[string]any{"__type": "GeoPoint", "latitude": val.Latitude, "longitude": val.Longitude}
	case File:
		out := map[string]any{"__type": "File", "name": val.Name}
		if val.URL != "" {
			out["url"] = val.URL
		}
		return out
	case ACL:
		out := make(map[string]any, len(val.Rules))
		for _, r := range val.Rules {
			perms := map[string]any{}
			if r.Read {
				perms["read"] = true
			}
			if r.Write {
				perms["write"] = true
			}
			out[r.Principal] = perms
		}
		return out
	default:
		panic(fmt.Sprintf("value: unhandled type %T", v))
	}
}

// Marshal encodes v in canonical form (object keys sorted).
func Marshal(v Value) ([]byte, error) {
	return json.Marshal(Wire(v))
}

// Parse decodes JSON bytes into a Value.
func Parse(data []byte) (Value, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse value: %w", err)
	}
	return FromJSON(raw), nil
}

// ParseField decodes JSON bytes stored under field name.
func ParseField(name string, data []byte) (Value, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse field %q: %w", name, err)
	}
	return FromField(name, raw), nil
}
