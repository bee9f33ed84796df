package schema

import (
	"fmt"
	"reflect"

	"github.com/mjl-/bstore"

	"github.com/databyte/databyte/fieldcost"
)

// Struct returns the struct value of record v, which must be of type t or a
// pointer to it. Only values from a pointer are settable.
func (t *Type) Struct(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("nil %s record", t.Name)
		}
		rv = rv.Elem()
	}
	if rv.Type() != t.GoType {
		return reflect.Value{}, fmt.Errorf("record of type %v is not a %s", rv.Type(), t.Name)
	}
	return rv, nil
}

// Value returns the value of field f in struct rv, as used for computing
// costs. Nil pointers and zero references are absent values, returned as nil.
func (f Field) Value(rv reflect.Value) any {
	fv, err := rv.FieldByIndexErr(f.Index)
	if err != nil {
		// Nil embedded struct pointer.
		return nil
	}
	if fv.Kind() == reflect.Ptr || fv.Kind() == reflect.Interface {
		if fv.IsNil() {
			return nil
		}
		fv = fv.Elem()
	}
	switch f.Kind {
	case fieldcost.KindForeignKey:
		if fv.IsZero() {
			return nil
		}
	case fieldcost.KindText, fieldcost.KindFile:
		if fv.Kind() == reflect.String {
			return fv.String()
		}
	}
	return fv.Interface()
}

// Int returns the value of integer field f in struct rv.
func (f Field) Int(rv reflect.Value) int64 {
	fv := rv.FieldByIndex(f.Index)
	if fv.CanInt() {
		return fv.Int()
	}
	return int64(fv.Uint())
}

// SetInt sets integer field f in settable struct rv.
func (f Field) SetInt(rv reflect.Value, n int64) {
	fv := rv.FieldByIndex(f.Index)
	if fv.CanInt() {
		fv.SetInt(n)
	} else {
		fv.SetUint(uint64(n))
	}
}

// PKValue returns the primary key of record v.
func (t *Type) PKValue(v any) (any, error) {
	rv, err := t.Struct(v)
	if err != nil {
		return nil, err
	}
	return rv.FieldByIndex(t.PK.Index).Interface(), nil
}

// Get returns a pointer to the record with primary key pk. If absent,
// bstore.ErrAbsent is returned.
func (t *Type) Get(tx *bstore.Tx, pk any) (any, error) {
	return t.def.get(tx, pk)
}

// ListReferencing returns pointers to all records of type t with field equal
// to value.
func (t *Type) ListReferencing(tx *bstore.Tx, field Field, value any) ([]any, error) {
	return t.def.list(tx, field.Name, value)
}

// ForEach calls fn with a pointer to each record of type t.
func (t *Type) ForEach(tx *bstore.Tx, fn func(v any) error) error {
	return t.def.each(tx, fn)
}
