// Package usage computes and maintains the storage totals of records.
//
// The total of a record is the sum of its own field cost, its external
// storage, the sizes of its files and the cost of its children. A child is a
// record of a type that counts toward its parents, referencing this record
// through a link marked as storage parent. The cost of a child is its own field
// cost plus the cost of its children. External storage and file sizes of a
// child are only counted in the child's own total, not again at each ancestor.
//
// A Trigger keeps totals up to date as records are written through a
// store.Store. RecomputeAll repairs all totals at once.
package usage

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/databyte/databyte/fieldcost"
	"github.com/databyte/databyte/filestore"
	"github.com/databyte/databyte/mlog"
	"github.com/databyte/databyte/schema"
	"github.com/databyte/databyte/store"
)

var (
	metricFileErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "databyte_usage_file_errors_total",
			Help: "Number of failed file size lookups, counted as 0 bytes.",
		},
	)
	metricCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "databyte_usage_cycles_total",
			Help: "Number of records skipped because they were already being counted higher up the same chain of parents.",
		},
	)
)

// Breakdown is the storage of a record, by source.
type Breakdown struct {
	Own      int64 // Cost of the stored fields.
	External int64 // Sum of external storage attributes.
	Files    int64 // Sizes of referenced files.
	Children int64 // Cost of children, recursively.
}

// Total returns the storage total.
func (b Breakdown) Total() int64 {
	return b.Own + b.External + b.Files + b.Children
}

// Computer computes storage of records.
type Computer struct {
	Registry *schema.Registry
	Files    filestore.Backend // If nil, files are not counted.
	Log      mlog.Log
}

// NewComputer returns a computer for the types in reg. Files can be nil.
func NewComputer(log mlog.Log, reg *schema.Registry, files filestore.Backend) *Computer {
	return &Computer{reg, files, log}
}

// key identifies a record during traversal.
type key struct {
	t  *schema.Type
	pk any
}

// Compute returns the storage of record v, a (pointer to a) registered type.
// Errors are only returned for failing database lookups and unregistered
// types. Failing file size lookups are logged and count as 0.
func (c *Computer) Compute(tx *store.Tx, v any) (Breakdown, error) {
	t := c.Registry.TypeOf(v)
	if t == nil {
		return Breakdown{}, fmt.Errorf("compute storage: unregistered type %T", v)
	}
	rv, err := t.Struct(v)
	if err != nil {
		return Breakdown{}, err
	}
	pk := t.PK.Value(rv)

	var b Breakdown
	b.Own = c.Own(t, v)
	for _, f := range t.External {
		b.External += f.Int(rv)
	}
	b.Files = c.files(tx, t, rv, pk)
	path := map[key]bool{{t, pk}: true}
	b.Children, err = c.children(tx, t, pk, path)
	if err != nil {
		return Breakdown{}, err
	}
	return b, nil
}

// Own returns the own field cost of record v of type t.
func (c *Computer) Own(t *schema.Type, v any) int64 {
	rv, err := t.Struct(v)
	if err != nil {
		return 0
	}
	var n int64
	for _, f := range t.OwnFields() {
		n += fieldcost.Cost(f.Kind, f.Value(rv))
	}
	return n
}

func (c *Computer) files(tx *store.Tx, t *schema.Type, rv reflect.Value, pk any) int64 {
	if c.Files == nil {
		return 0
	}
	var n int64
	for _, f := range t.Files {
		ref, _ := f.Value(rv).(string)
		if ref == "" {
			continue
		}
		size, err := c.Files.Size(tx.Context(), ref)
		if err != nil {
			metricFileErrors.Inc()
			c.Log.Errorx("file size for storage total, counting as 0", err,
				slog.String("type", t.Name),
				slog.Any("pk", pk),
				slog.String("field", f.GoName),
				slog.String("ref", ref))
			continue
		}
		n += size
	}
	return n
}

// children returns the cost of the children of the record of type t with
// primary key pk. Path holds the records currently being counted, a record
// reached again through a cycle of references is skipped.
func (c *Computer) children(tx *store.Tx, t *schema.Type, pk any, path map[key]bool) (int64, error) {
	var n int64
	for _, cr := range t.Children {
		l, err := cr.Child.ListReferencing(tx.Tx, cr.Link.Field, pk)
		if err != nil {
			return 0, fmt.Errorf("listing %s children of %s %v: %w", cr.Child.Name, t.Name, pk, err)
		}
		for _, cv := range l {
			cpk, err := cr.Child.PKValue(cv)
			if err != nil {
				return 0, err
			}
			k := key{cr.Child, cpk}
			if path[k] {
				metricCycles.Inc()
				c.Log.Error("cycle in storage parents, not counting record again",
					slog.String("type", cr.Child.Name),
					slog.Any("pk", cpk),
					slog.String("parenttype", t.Name),
					slog.Any("parentpk", pk))
				continue
			}
			path[k] = true
			sub, err := c.children(tx, cr.Child, cpk, path)
			delete(path, k)
			if err != nil {
				return 0, err
			}
			n += c.Own(cr.Child, cv) + sub
		}
	}
	return n, nil
}
