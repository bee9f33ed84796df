/*
Package store is the persistence layer for records with storage declarations.

A Store is a bstore database opened with the types of a schema.Registry.
Writes go through transactions of type Tx. After each successful insert,
update or delete through a Tx, the observers registered with Observe are
called synchronously, within the same transaction. There is no process-wide
registry of observers: whoever opens the store wires them up.

Observers cannot fail a write. They see the data as written in the
transaction, including changes made by observers called earlier.
*/
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mjl-/bstore"

	"github.com/databyte/databyte/databytevar"
	"github.com/databyte/databyte/mlog"
	"github.com/databyte/databyte/schema"
)

// Observer is notified of writes of records.
type Observer interface {
	// Saved is called after record v was inserted or updated. For updates, old
	// holds the record as it was stored before, for inserts old is nil.
	Saved(tx *Tx, old, v any)

	// Deleted is called after record v was deleted. V holds the field values of
	// the record as they were before the delete.
	Deleted(tx *Tx, v any)
}

// Store is an opened database.
type Store struct {
	DB       *bstore.DB
	Registry *schema.Registry
	Path     string

	log       mlog.Log
	observers []Observer
}

// Open opens the database at path, creating it if needed, with the types in
// reg.
func Open(ctx context.Context, log mlog.Log, path string, reg *schema.Registry) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		return nil, fmt.Errorf("making directory for database: %w", err)
	}
	opts := bstore.Options{Timeout: 5 * time.Second, Perm: 0660, RegisterLogger: databytevar.RegisterLogger(path, log.Logger)}
	db, err := bstore.Open(ctx, path, &opts, reg.Values()...)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	log.Debug("opened database", slog.String("path", path), slog.Int("types", len(reg.Types())))
	return &Store{DB: db, Registry: reg, Path: path, log: log}, nil
}

// Observe registers o to be called after writes. Observers are called in order
// of registration. Observe must be called before the store is used
// concurrently.
func (s *Store) Observe(o Observer) {
	s.observers = append(s.observers, o)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Write calls fn with a new writable transaction. If fn returns nil, the
// transaction is committed.
func (s *Store) Write(ctx context.Context, fn func(tx *Tx) error) error {
	return s.DB.Write(ctx, func(btx *bstore.Tx) error {
		return fn(&Tx{btx, ctx, s})
	})
}

// Read calls fn with a new read-only transaction.
func (s *Store) Read(ctx context.Context, fn func(tx *Tx) error) error {
	return s.DB.Read(ctx, func(btx *bstore.Tx) error {
		return fn(&Tx{btx, ctx, s})
	})
}

// Insert inserts values in a new transaction, notifying observers.
func (s *Store) Insert(ctx context.Context, values ...any) error {
	return s.Write(ctx, func(tx *Tx) error {
		return tx.Insert(values...)
	})
}

// Update updates values in a new transaction, notifying observers.
func (s *Store) Update(ctx context.Context, values ...any) error {
	return s.Write(ctx, func(tx *Tx) error {
		return tx.Update(values...)
	})
}

// Delete deletes values in a new transaction, notifying observers.
func (s *Store) Delete(ctx context.Context, values ...any) error {
	return s.Write(ctx, func(tx *Tx) error {
		return tx.Delete(values...)
	})
}

// Get fetches values by their primary key.
func (s *Store) Get(ctx context.Context, values ...any) error {
	return s.DB.Get(ctx, values...)
}

// Tx is a transaction. Writes through the methods of Tx notify the observers
// of the store. Writes through the embedded bstore.Tx do not.
type Tx struct {
	*bstore.Tx
	ctx   context.Context
	store *Store
}

// Context returns the context the transaction was started with.
func (tx *Tx) Context() context.Context {
	return tx.ctx
}

// Store returns the store of the transaction.
func (tx *Tx) Store() *Store {
	return tx.store
}

// Insert inserts values, each a pointer to a record, and notifies observers.
func (tx *Tx) Insert(values ...any) error {
	for _, v := range values {
		if err := tx.Tx.Insert(v); err != nil {
			return err
		}
		tx.saved(nil, v)
	}
	return nil
}

// Update updates values, each a pointer to a record, and notifies observers
// with both the previously stored and the new record.
func (tx *Tx) Update(values ...any) error {
	for _, v := range values {
		t := tx.store.Registry.TypeOf(v)
		if t == nil {
			return fmt.Errorf("update: unregistered type %T", v)
		}
		pk, err := t.PKValue(v)
		if err != nil {
			return err
		}
		old, err := t.Get(tx.Tx, pk)
		if err != nil {
			return fmt.Errorf("get %s %v before update: %w", t.Name, pk, err)
		}
		if err := tx.Tx.Update(v); err != nil {
			return err
		}
		tx.saved(old, v)
	}
	return nil
}

// Delete deletes values by their primary key, and notifies observers with the
// full records as they were stored.
func (tx *Tx) Delete(values ...any) error {
	for _, v := range values {
		t := tx.store.Registry.TypeOf(v)
		if t == nil {
			return fmt.Errorf("delete: unregistered type %T", v)
		}
		pk, err := t.PKValue(v)
		if err != nil {
			return err
		}
		old, err := t.Get(tx.Tx, pk)
		if err != nil {
			return fmt.Errorf("get %s %v before delete: %w", t.Name, pk, err)
		}
		if err := tx.Tx.Delete(old); err != nil {
			return err
		}
		for _, o := range tx.store.observers {
			o.Deleted(tx, old)
		}
	}
	return nil
}

func (tx *Tx) saved(old, v any) {
	for _, o := range tx.store.observers {
		o.Saved(tx, old, v)
	}
}

// IsAbsent returns whether err indicates a record was not found.
func IsAbsent(err error) bool {
	return errors.Is(err, bstore.ErrAbsent)
}
