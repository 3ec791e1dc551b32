// Package schema loads explicit class declarations.
//
// Declarations are CUE files of the form
//
//	class: Note: {
//		expireAfter: "1h"
//		fields: {
//			title:  "string"
//			folder: "pointer:Folder"
//			tags:   "relation:Tag"
//		}
//	}
//
// Every declared class gets a local store with the given expiry. Field
// types are optional and only used to check records before they are saved.
package schema

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/parsekit/internal/localstore"
)

// Kind is the declared type of a field.
type Kind string

const (
	KindString   Kind = "string"
	KindNumber   Kind = "number"
	KindBoolean  Kind = "boolean"
	KindDate     Kind = "date"
	KindBytes    Kind = "bytes"
	KindFile     Kind = "file"
	KindGeoPoint Kind = "geopoint"
	KindArray    Kind = "array"
	KindObject   Kind = "object"
	KindACL      Kind = "acl"
	KindPointer  Kind = "pointer"
	KindRelation Kind = "relation"
)

var kinds = []Kind{
	KindString, KindNumber, KindBoolean, KindDate, KindBytes, KindFile,
	KindGeoPoint, KindArray, KindObject, KindACL, KindPointer, KindRelation,
}

// Field is one declared field. Target is set for pointers and relations.
type Field struct {
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Target string `json:"target,omitempty"`
}

// Class is one declared class.
type Class struct {
	Name        string
	ExpireAfter time.Duration
	Fields      []Field

	pos token.Pos
}

// Field returns the declaration for name.
func (c Class) Field(name string) (Field, bool) {
	i := slices.IndexFunc(c.Fields, func(f Field) bool { return f.Name == name })
	if i < 0 {
		return Field{}, false
	}
	return c.Fields[i], true
}

// Error is a declaration problem, positioned at the CUE source when known.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsError reports whether err is a declaration or record check error.
func IsError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

// classDef is unified with every declaration so unknown keys and wrongly
// typed values are reported by CUE with their source position.
const classDef = `
#Class: {
	expireAfter: string
	fields?: [string]: string
}
`

// Load reads every .cue file in dir. All declaration errors are reported,
// joined.
func Load(dir string) ([]Class, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &Error{Field: "schemaDir", Message: err.Error()}
	}
	if !info.IsDir() {
		return nil, &Error{Field: "schemaDir", Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &Error{Field: "cue", Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}

	ctx := cuecontext.New()
	return decode(ctx, ctx.BuildInstance(inst))
}

// Parse reads declarations from CUE source.
func Parse(filename, src string) ([]Class, error) {
	ctx := cuecontext.New()
	return decode(ctx, ctx.CompileString(src, cue.Filename(filename)))
}

func decode(ctx *cue.Context, v cue.Value) ([]Class, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	def := ctx.CompileString(classDef).LookupPath(cue.ParsePath("#Class"))

	classesVal := v.LookupPath(cue.ParsePath("class"))
	if !classesVal.Exists() {
		return nil, nil
	}
	iter, err := classesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var (
		classes []Class
		errs    []error
	)
	for iter.Next() {
		c, err := compileClass(iter.Selector().Unquoted(), def.Unify(iter.Value()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		classes = append(classes, c)
	}
	slices.SortFunc(classes, func(a, b Class) int { return strings.Compare(a.Name, b.Name) })
	return classes, errors.Join(errs...)
}

func compileClass(name string, v cue.Value) (Class, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Class{}, formatCUEError(err)
	}
	c := Class{Name: name, pos: v.Pos()}

	expVal := v.LookupPath(cue.ParsePath("expireAfter"))
	exp, err := expVal.String()
	if err != nil {
		return Class{}, formatCUEError(err)
	}
	c.ExpireAfter, err = time.ParseDuration(exp)
	if err != nil || c.ExpireAfter <= 0 {
		return Class{}, &Error{
			Field:   "class." + name + ".expireAfter",
			Message: fmt.Sprintf("invalid duration %q", exp),
			Pos:     expVal.Pos(),
		}
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return c, nil
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return Class{}, formatCUEError(err)
	}
	for iter.Next() {
		fieldName := iter.Selector().Unquoted()
		decl, err := iter.Value().String()
		if err != nil {
			return Class{}, formatCUEError(err)
		}
		f, err := ParseField(fieldName, decl)
		if err != nil {
			var se *Error
			if errors.As(err, &se) {
				se.Field = "class." + name + "." + se.Field
				se.Pos = iter.Value().Pos()
			}
			return Class{}, err
		}
		c.Fields = append(c.Fields, f)
	}
	slices.SortFunc(c.Fields, func(a, b Field) int { return strings.Compare(a.Name, b.Name) })
	return c, nil
}

// ParseField parses a type declaration such as "string" or "pointer:Folder".
func ParseField(name, decl string) (Field, error) {
	kind, target, _ := strings.Cut(decl, ":")
	f := Field{Name: name, Kind: Kind(kind), Target: target}
	if !slices.Contains(kinds, f.Kind) {
		return Field{}, &Error{Field: "fields." + name, Message: fmt.Sprintf("unknown type %q", decl)}
	}
	needsTarget := f.Kind == KindPointer || f.Kind == KindRelation
	if needsTarget && target == "" {
		return Field{}, &Error{Field: "fields." + name, Message: fmt.Sprintf("%s needs a target class", kind)}
	}
	if !needsTarget && target != "" {
		return Field{}, &Error{Field: "fields." + name, Message: fmt.Sprintf("%s takes no target class", kind)}
	}
	return f, nil
}

// Register creates a local store for every class.
func Register(reg *localstore.Registry, classes []Class) error {
	for _, c := range classes {
		if _, err := reg.Register(c.Name, c.ExpireAfter); err != nil {
			return &Error{Field: "class." + c.Name, Message: err.Error(), Pos: c.pos}
		}
	}
	return nil
}

func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &Error{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return &Error{Field: "cue", Message: first.Error()}
}
