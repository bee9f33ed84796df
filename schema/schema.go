// Package schema holds the storage declarations of record types.
//
// Record types are Go structs stored in a bstore database: the first field is
// the primary key, references to other records are declared with the bstore
// "ref" struct tag. Storage accounting is declared with a "databyte" struct
// tag, using the same syntax as bstore tags:
//
//	databyte:"total"          Automated storage attribute: integer, recomputed on save/delete.
//	databyte:"total,parents"  Same, and the record counts toward its storage parents.
//	databyte:"external"       External storage attribute: integer, maintained by other code.
//	databyte:"file"           String with a reference to a file in the file backend.
//	databyte:"parent"         On a bstore "ref" field: the referenced record is a storage parent.
//	databyte:"kind email"     Explicit cost kind, see fieldcost.ParseKind.
//	databyte:"-"              Field is not part of the own field cost.
//
// A Registry is built once, at startup, from the Definitions of all types. It
// resolves references between types, so storage computations only walk
// precomputed field lists.
package schema

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/mjl-/bstore"

	"github.com/databyte/databyte/fieldcost"
)

// ErrDeclaration is returned for invalid storage declarations.
var ErrDeclaration = errors.New("bad storage declaration")

// Field is a stored field of a record type.
type Field struct {
	Name   string // As known to bstore, for use in queries.
	GoName string
	Index  []int // For reflect.Value.FieldByIndex.
	Kind   fieldcost.Kind
	Ignore bool // Not part of own field cost.
}

// Total is the automated storage attribute of a type.
type Total struct {
	Field                 Field
	IncludeInParentsCount bool
}

// ParentLink is a reference from a record to a parent record.
type ParentLink struct {
	Field                Field
	TargetName           string
	Target               *Type
	CountAsStorageParent bool
}

// ChildRelation is a parent link in another type, pointing at this type, that
// counts toward the storage of this type.
type ChildRelation struct {
	Child *Type
	Link  ParentLink
}

// Type is the storage metadata of a record type.
type Type struct {
	Name     string // bstore type name.
	GoType   reflect.Type
	PK       Field
	Fields   []Field // All stored fields, including the primary key.
	Total    *Total  // Nil if the type is not trackable.
	External []Field
	Files    []Field
	Parents  []ParentLink
	Children []ChildRelation

	own []Field
	def Definition
}

// Trackable returns whether the type has an automated storage attribute.
func (t *Type) Trackable() bool {
	return t.Total != nil
}

// IncludeInParentsCount returns whether records of this type count toward the
// storage of their storage parents.
func (t *Type) IncludeInParentsCount() bool {
	return t.Total != nil && t.Total.IncludeInParentsCount
}

// OwnFields returns the fields that make up the own field cost: all stored
// fields except the automated and external storage attributes and ignored
// fields.
func (t *Type) OwnFields() []Field {
	return t.own
}

// Registry holds the types of a database.
type Registry struct {
	types  []*Type
	byName map[string]*Type
	byGo   map[reflect.Type]*Type
}

// New parses the declarations of the types, and resolves the references
// between them. All types referenced by a parent link must be present.
func New(defs ...Definition) (*Registry, error) {
	r := &Registry{
		byName: map[string]*Type{},
		byGo:   map[reflect.Type]*Type{},
	}
	for _, d := range defs {
		t, err := parseType(d)
		if err != nil {
			return nil, err
		}
		if _, ok := r.byName[t.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate type name %q", ErrDeclaration, t.Name)
		}
		r.types = append(r.types, t)
		r.byName[t.Name] = t
		r.byGo[t.GoType] = t
	}

	for _, t := range r.types {
		for i := range t.Parents {
			pl := &t.Parents[i]
			pl.Target = r.byName[pl.TargetName]
			if pl.Target == nil {
				return nil, fmt.Errorf("%w: %s.%s references unregistered type %q", ErrDeclaration, t.Name, pl.Field.GoName, pl.TargetName)
			}
		}
	}
	for _, t := range r.types {
		if !t.IncludeInParentsCount() {
			continue
		}
		for _, pl := range t.Parents {
			if pl.CountAsStorageParent {
				pl.Target.Children = append(pl.Target.Children, ChildRelation{t, pl})
			}
		}
	}
	return r, nil
}

// Types returns all types, in order of registration.
func (r *Registry) Types() []*Type {
	return r.types
}

// Lookup returns the type by its bstore name, or nil.
func (r *Registry) Lookup(name string) *Type {
	return r.byName[name]
}

// TypeOf returns the type of a record, or of a pointer to a record. Nil is
// returned for unregistered types.
func (r *Registry) TypeOf(v any) *Type {
	rt := reflect.TypeOf(v)
	if rt == nil {
		return nil
	}
	if rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	return r.byGo[rt]
}

// Values returns zero values for all types, for use with bstore.Open.
func (r *Registry) Values() []any {
	l := make([]any, len(r.types))
	for i, t := range r.types {
		l[i] = t.def.zero
	}
	return l
}

func parseType(d Definition) (*Type, error) {
	rt := d.rtype
	if rt == nil || rt.Kind() != reflect.Struct || rt.NumField() == 0 {
		return nil, fmt.Errorf("%w: type %v must be a struct with a primary key", ErrDeclaration, rt)
	}
	t := &Type{Name: rt.Name(), GoType: rt, def: d}

	for i, sf := range reflect.VisibleFields(rt) {
		btags, err := parseTags(sf.Tag.Get("bstore"), nil)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			if name, err := btags.Get("typename"); err != nil {
				return nil, fmt.Errorf("type %s: %w", rt.Name(), err)
			} else if name != "" {
				t.Name = name
			}
		}
		if sf.Anonymous || !sf.IsExported() || btags.Has("-") {
			continue
		}

		dtags, err := parseTags(sf.Tag.Get("databyte"), databyteWords)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", rt.Name(), sf.Name, err)
		}
		f, err := parseField(rt, sf, btags, dtags)
		if err != nil {
			return nil, err
		}
		refs := btags.List("ref")

		if i == 0 {
			if len(dtags) > 0 {
				return nil, fmt.Errorf("%w: primary key %s.%s cannot have databyte tag", ErrDeclaration, rt.Name(), sf.Name)
			}
			t.PK = f
		}
		t.Fields = append(t.Fields, f)

		isInt := fieldcost.KindOf(sf.Type) == fieldcost.KindInteger && sf.Type.Kind() != reflect.Ptr
		switch {
		case dtags.Has("total"):
			if !isInt {
				return nil, fmt.Errorf("%w: total field %s.%s must be an integer", ErrDeclaration, rt.Name(), sf.Name)
			}
			if t.Total != nil {
				return nil, fmt.Errorf("%w: multiple total fields in %s", ErrDeclaration, rt.Name())
			}
			t.Total = &Total{f, dtags.Has("parents")}
			continue
		case dtags.Has("parents"):
			return nil, fmt.Errorf("%w: %s.%s: parents requires total", ErrDeclaration, rt.Name(), sf.Name)
		case dtags.Has("external"):
			if !isInt {
				return nil, fmt.Errorf("%w: external field %s.%s must be an integer", ErrDeclaration, rt.Name(), sf.Name)
			}
			t.External = append(t.External, f)
			continue
		}

		if dtags.Has("file") {
			if sf.Type.Kind() != reflect.String {
				return nil, fmt.Errorf("%w: file field %s.%s must be a string", ErrDeclaration, rt.Name(), sf.Name)
			}
			t.Files = append(t.Files, f)
		}
		if dtags.Has("parent") && len(refs) == 0 {
			return nil, fmt.Errorf(`%w: %s.%s: parent requires bstore "ref"`, ErrDeclaration, rt.Name(), sf.Name)
		}
		for _, ref := range refs {
			t.Parents = append(t.Parents, ParentLink{Field: f, TargetName: ref, CountAsStorageParent: dtags.Has("parent")})
		}
		if !f.Ignore {
			t.own = append(t.own, f)
		}
	}
	return t, nil
}

func parseField(rt reflect.Type, sf reflect.StructField, btags, dtags tags) (Field, error) {
	f := Field{
		Name:   sf.Name,
		GoName: sf.Name,
		Index:  sf.Index,
		Kind:   fieldcost.KindOf(sf.Type),
		Ignore: dtags.Has("-"),
	}
	if name, err := btags.Get("name"); err != nil {
		return f, fmt.Errorf("field %s.%s: %w", rt.Name(), sf.Name, err)
	} else if name != "" {
		f.Name = name
	}
	switch {
	case dtags.Has("file"):
		f.Kind = fieldcost.KindFile
	case len(btags.List("ref")) > 0:
		f.Kind = fieldcost.KindForeignKey
	}
	if s, err := dtags.Get("kind"); err != nil {
		return f, fmt.Errorf("field %s.%s: %w", rt.Name(), sf.Name, err)
	} else if s != "" {
		k, err := fieldcost.ParseKind(s)
		if err != nil {
			return f, fmt.Errorf("%w: field %s.%s: %v", ErrDeclaration, rt.Name(), sf.Name, err)
		}
		f.Kind = k
	}
	return f, nil
}

// Definition holds a record type and typed functions to fetch its records.
// Create with Define.
type Definition struct {
	zero  any
	rtype reflect.Type
	get   func(tx *bstore.Tx, pk any) (any, error)
	list  func(tx *bstore.Tx, field string, value any) ([]any, error)
	each  func(tx *bstore.Tx, fn func(v any) error) error
}

// Define returns the Definition for record type T, to pass to New.
func Define[T any]() Definition {
	var zero T
	return Definition{
		zero:  zero,
		rtype: reflect.TypeOf(zero),
		get: func(tx *bstore.Tx, pk any) (any, error) {
			v, err := bstore.QueryTx[T](tx).FilterID(pk).Get()
			if err != nil {
				return nil, err
			}
			return &v, nil
		},
		list: func(tx *bstore.Tx, field string, value any) ([]any, error) {
			l, err := bstore.QueryTx[T](tx).FilterEqual(field, value).List()
			if err != nil {
				return nil, err
			}
			r := make([]any, len(l))
			for i := range l {
				r[i] = &l[i]
			}
			return r, nil
		},
		each: func(tx *bstore.Tx, fn func(v any) error) error {
			return bstore.QueryTx[T](tx).ForEach(func(v T) error {
				return fn(&v)
			})
		},
	}
}
