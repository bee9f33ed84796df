package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mjl-/bstore"

	"github.com/databyte/databyte/mlog"
	"github.com/databyte/databyte/schema"
)

var ctxbg = context.Background()

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

type Project struct {
	ID      int64
	Name    string
	Storage int64 `databyte:"total"`
}

type Task struct {
	ID        int64
	ProjectID int64 `bstore:"nonzero,ref Project" databyte:"parent"`
	Title     string
	File      string `databyte:"file"`
	Storage   int64  `databyte:"total,parents"`
}

type event struct {
	op    string
	title string
	old   string // Title before an update.
}

type recorder struct {
	events []event
}

func (r *recorder) Saved(tx *Tx, old, v any) {
	if t, ok := v.(*Task); ok {
		e := event{"saved", t.Title, ""}
		if o, ok := old.(*Task); ok {
			e.old = o.Title
		}
		r.events = append(r.events, e)
	}
}

func (r *recorder) Deleted(tx *Tx, v any) {
	if t, ok := v.(*Task); ok {
		r.events = append(r.events, event{"deleted", t.Title, ""})
	}
}

func openTest(t *testing.T) *Store {
	t.Helper()
	reg, err := schema.New(schema.Define[Project](), schema.Define[Task]())
	tcheck(t, err, "registry")
	log := mlog.New("store", nil)
	s, err := Open(ctxbg, log, filepath.Join(t.TempDir(), "data", "test.db"), reg)
	tcheck(t, err, "open")
	t.Cleanup(func() {
		err := s.Close()
		tcheck(t, err, "close")
	})
	return s
}

func TestObserve(t *testing.T) {
	s := openTest(t)
	r := &recorder{}
	s.Observe(r)

	p := Project{Name: "p"}
	err := s.Insert(ctxbg, &p)
	tcheck(t, err, "insert project")

	task := Task{ProjectID: p.ID, Title: "a"}
	err = s.Insert(ctxbg, &task)
	tcheck(t, err, "insert task")

	task.Title = "b"
	err = s.Update(ctxbg, &task)
	tcheck(t, err, "update task")

	// Writes through the embedded bstore transaction are not observed.
	err = s.Write(ctxbg, func(tx *Tx) error {
		task.Title = "quiet"
		return tx.Tx.Update(&task)
	})
	tcheck(t, err, "raw update")

	// Delete with only the primary key set, observers get the stored record.
	err = s.Delete(ctxbg, &Task{ID: task.ID})
	tcheck(t, err, "delete task")

	exp := []event{{"saved", "a", ""}, {"saved", "b", "a"}, {"deleted", "quiet", ""}}
	if len(r.events) != len(exp) {
		t.Fatalf("events %v, expected %v", r.events, exp)
	}
	for i := range exp {
		if r.events[i] != exp[i] {
			t.Fatalf("event %d: %v, expected %v", i, r.events[i], exp[i])
		}
	}

	err = s.Get(ctxbg, &Task{ID: task.ID})
	if !IsAbsent(err) {
		t.Fatalf("get deleted task: got %v, expected absent", err)
	}
}

func TestRollback(t *testing.T) {
	s := openTest(t)
	r := &recorder{}
	s.Observe(r)

	p := Project{Name: "p"}
	err := s.Insert(ctxbg, &p)
	tcheck(t, err, "insert project")

	errStop := errors.New("stop")
	err = s.Write(ctxbg, func(tx *Tx) error {
		if tx.Context() != ctxbg || tx.Store() != s {
			t.Fatalf("transaction context or store mismatch")
		}
		err := tx.Insert(&Task{ProjectID: p.ID, Title: "gone"})
		tcheck(t, err, "insert")
		return errStop
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("write: got %v, expected errStop", err)
	}
	// Observers ran within the transaction, the record itself was rolled back.
	if len(r.events) != 1 {
		t.Fatalf("events %v, expected one", r.events)
	}
	n, err := bstore.QueryDB[Task](ctxbg, s.DB).Count()
	tcheck(t, err, "count")
	if n != 0 {
		t.Fatalf("got %d tasks, expected 0", n)
	}

	// Updating an absent record fails before observers are called.
	err = s.Update(ctxbg, &Task{ID: 999, ProjectID: p.ID, Title: "absent"})
	if !IsAbsent(err) {
		t.Fatalf("update absent: got %v, expected absent", err)
	}

	// Deleting an absent record fails before observers are called.
	err = s.Delete(ctxbg, &Task{ID: 999})
	if !IsAbsent(err) {
		t.Fatalf("delete absent: got %v, expected absent", err)
	}
	if len(r.events) != 1 {
		t.Fatalf("events %v after failed delete", r.events)
	}

	type Other struct{ ID int64 }
	err = s.Delete(ctxbg, &Other{ID: 1})
	if err == nil {
		t.Fatalf("delete unregistered type: expected error")
	}
}

func TestBackup(t *testing.T) {
	s := openTest(t)
	log := mlog.New("store", nil)

	filesDir := filepath.Join(t.TempDir(), "files")
	err := os.MkdirAll(filepath.Join(filesDir, "ab"), 0770)
	tcheck(t, err, "mkdir")
	err = os.WriteFile(filepath.Join(filesDir, "ab", "one.txt"), []byte("one"), 0660)
	tcheck(t, err, "write file")

	p := Project{Name: "p"}
	err = s.Insert(ctxbg, &p)
	tcheck(t, err, "insert project")
	err = s.Insert(ctxbg,
		&Task{ProjectID: p.ID, Title: "a", File: "ab/one.txt"},
		&Task{ProjectID: p.ID, Title: "b", File: "ab/one.txt"},
		&Task{ProjectID: p.ID, Title: "c", File: "ab/gone.txt"},
		&Task{ProjectID: p.ID, Title: "d"},
	)
	tcheck(t, err, "insert tasks")

	dst := filepath.Join(t.TempDir(), "backup")
	stats, err := s.Backup(ctxbg, log, filepath.Join(dst, "test.db"), filesDir, filepath.Join(dst, "files"))
	tcheck(t, err, "backup")
	if stats.Linked+stats.Copied != 1 || stats.Missing != 1 || stats.DBSize == 0 {
		t.Fatalf("unexpected backup stats %#v", stats)
	}
	buf, err := os.ReadFile(filepath.Join(dst, "files", "ab", "one.txt"))
	tcheck(t, err, "read backed up file")
	if string(buf) != "one" {
		t.Fatalf("backed up file has %q, expected one", buf)
	}

	// The copy is a usable database.
	b, err := Open(ctxbg, log, filepath.Join(dst, "test.db"), s.Registry)
	tcheck(t, err, "open backup")
	defer b.Close()
	n, err := bstore.QueryDB[Task](ctxbg, b.DB).Count()
	tcheck(t, err, "count tasks in backup")
	if n != 4 {
		t.Fatalf("got %d tasks in backup, expected 4", n)
	}

	// Backing up to an existing database fails.
	_, err = s.Backup(ctxbg, log, filepath.Join(dst, "test.db"), filesDir, filepath.Join(dst, "files"))
	if err == nil {
		t.Fatalf("backup to existing file: expected error")
	}
}
