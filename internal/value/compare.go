package value

import (
	"bytes"
	"strconv"
	"strings"
)

// Equal reports typed equality. Values of different kinds are never equal.
// Pointers compare by class and id; ACL rule order is ignored.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}

	switch x := a.(type) {
	case Number:
		y, ok := b.(Number)
		return ok && x == y
	case String:
		y, ok := b.(String)
		return ok && x == y
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case Date:
		y, ok := b.(Date)
		return ok && x.Time.Equal(y.Time)
	case Bytes:
		y, ok := b.(Bytes)
		return ok && bytes.Equal(x, y)
	case Pointer:
		y, ok := b.(Pointer)
		return ok && x.SameAs(y)
	case GeoPoint:
		y, ok := b.(GeoPoint)
		return ok && x == y
	case File:
		y, ok := b.(File)
		return ok && x.Name == y.Name
	case ACL:
		y, ok := b.(ACL)
		if !ok || len(x.Rules) != len(y.Rules) {
			return false
		}
		for _, r := range x.Rules {
			o, found := y.Rule(r.Principal)
			if !found || o != r {
				return false
			}
		}
		return true
	case Array:
		y, ok := b.(Array)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Object:
		y, ok := b.(Object)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, found := y[k]
			if !found || !Equal(xv, yv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Compare orders two values of the same comparable kind (Number, String,
// Bool, Date). It returns ok=false when either side is Null or the kinds
// differ; callers treat that as "no order".
func Compare(a, b Value) (int, bool) {
	if IsNull(a) || IsNull(b) {
		return 0, false
	}

	switch x := a.(type) {
	case Number:
		y, ok := b.(Number)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case String:
		y, ok := b.(String)
		if !ok {
			return 0, false
		}
		return strings.Compare(string(x), string(y)), true
	case Bool:
		y, ok := b.(Bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !bool(x):
			return -1, true
		}
		return 1, true
	case Date:
		y, ok := b.(Date)
		if !ok {
			return 0, false
		}
		return x.Time.Compare(y.Time), true
	default:
		return 0, false
	}
}

// Render returns the string form used by regex matching.
// Only scalar and date values render.
func Render(v Value) (string, bool) {
	switch x := v.(type) {
	case String:
		return string(x), true
	case Number:
		return strconv.FormatFloat(float64(x), 'f', -1, 64), true
	case Bool:
		return strconv.FormatBool(bool(x)), true
	case Date:
		return x.ISO(), true
	case Pointer:
		return x.ObjectID, true
	default:
		return "", false
	}
}
