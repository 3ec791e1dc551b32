// Package operation composes field update operations and writes objects
// through to the server and the local caches.
package operation

import (
	"github.com/roach88/parsekit/internal/value"
)

// Op is one field update.
//
// This is a sealed interface - only types in this package implement it.
type Op interface {
	opNode()
}

// AddUnique appends objects to an array field, skipping those present.
type AddUnique struct {
	Key     string
	Objects []value.Value
}

// Add appends objects to an array field.
type Add struct {
	Key     string
	Objects []value.Value
}

// Remove deletes every occurrence of objects from an array field.
type Remove struct {
	Key     string
	Objects []value.Value
}

// Increment adds Amount to a numeric field atomically on the server.
type Increment struct {
	Key    string
	Amount float64
}

// Set assigns a value.
type Set struct {
	Key   string
	Value value.Value
}

// AddRelation adds To to the relation Key.
type AddRelation struct {
	Key string
	To  value.Pointer
}

// RemoveRelation removes To from the relation Key.
type RemoveRelation struct {
	Key string
	To  value.Pointer
}

// SetSecurity makes the object publicly readable and writable only by
// OwnerID.
type SetSecurity struct {
	OwnerID string
}

// ClearSecurity makes the object publicly readable and writable.
type ClearSecurity struct{}

// DeleteColumn removes a field.
type DeleteColumn struct {
	Key string
}

func (AddUnique) opNode()      {}
func (Add) opNode()            {}
func (Remove) opNode()         {}
func (Increment) opNode()      {}
func (Set) opNode()            {}
func (AddRelation) opNode()    {}
func (RemoveRelation) opNode() {}
func (SetSecurity) opNode()    {}
func (ClearSecurity) opNode()  {}
func (DeleteColumn) opNode()   {}

// SetValue builds a Set from a Go literal.
func SetValue(key string, v any) Set {
	return Set{Key: key, Value: value.Of(v)}
}

// Objects converts Go literals for the array operations.
func Objects(xs ...any) []value.Value {
	out := make([]value.Value, len(xs))
	for i, x := range xs {
		out[i] = value.Of(x)
	}
	return out
}

// Compose builds the request body for ops. Later ops on the same field
// replace earlier ones.
func Compose(ops ...Op) map[string]any {
	body := make(map[string]any, len(ops))
	for _, op := range ops {
		switch o := op.(type) {
		case AddUnique:
			body[o.Key] = arrayOp("AddUnique", o.Objects)
		case Add:
			body[o.Key] = arrayOp("Add", o.Objects)
		case Remove:
			body[o.Key] = arrayOp("Remove", o.Objects)
		case Increment:
			body[o.Key] = map[string]any{"__op": "Increment", "amount": o.Amount}
		case Set:
			body[o.Key] = value.Wire(o.Value)
		case AddRelation:
			body[o.Key] = map[string]any{"__op": "AddRelation", "objects": []any{value.Wire(o.To)}}
		case RemoveRelation:
			body[o.Key] = map[string]any{"__op": "RemoveRelation", "objects": []any{value.Wire(o.To)}}
		case SetSecurity:
			body[value.ACLField] = value.Wire(value.OwnerACL(o.OwnerID))
		case ClearSecurity:
			body[value.ACLField] = value.Wire(value.PublicACL())
		case DeleteColumn:
			body[o.Key] = map[string]any{"__op": "Delete"}
		}
	}
	return body
}

func arrayOp(name string, objects []value.Value) map[string]any {
	wire := make([]any, len(objects))
	for i, v := range objects {
		wire[i] = value.Wire(v)
	}
	return map[string]any{"__op": name, "objects": wire}
}
