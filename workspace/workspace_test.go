package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/databyte/databyte/filestore"
	"github.com/databyte/databyte/mlog"
	"github.com/databyte/databyte/usage"
)

var ctxbg = context.Background()

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v", got, exp)
	}
}

func terr(t *testing.T, err, exp error) {
	t.Helper()
	if !errors.Is(err, exp) {
		t.Fatalf("got err %v, expected %v", err, exp)
	}
}

func openTest(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	log := mlog.New("workspace", nil)
	a, err := Open(ctxbg, log, Options{DBPath: filepath.Join(dir, "databyte.db"), FilesDir: filepath.Join(dir, "files")})
	tcheck(t, err, "open")
	t.Cleanup(func() {
		err := a.Close()
		tcheck(t, err, "close")
	})
	return a
}

// usageOf returns the computed breakdown of a record, after checking it matches
// the stored total.
func usageOf(t *testing.T, a *App, typeName string, id int64) usage.Breakdown {
	t.Helper()
	b, stored, err := a.Usage(ctxbg, typeName, id)
	tcheck(t, err, "usage")
	if stored != b.Total() {
		t.Fatalf("%s %d: stored total %d, computed %d (%#v)", typeName, id, stored, b.Total(), b)
	}
	return b
}

func TestCleanName(t *testing.T) {
	// Decomposed e with acute accent becomes the single code point.
	s, err := CleanName(" e\u0301 ")
	tcheck(t, err, "clean name")
	tcompare(t, s, "\u00e9")

	_, err = CleanName(" \t")
	terr(t, err, ErrName)
	_, err = CleanName("a\nb")
	terr(t, err, ErrName)
}

func TestWorkspace(t *testing.T) {
	a := openTest(t)

	ws, err := a.AddWorkspace(ctxbg, " Notes ")
	tcheck(t, err, "add workspace")
	tcompare(t, ws.Name, "Notes")
	_, err = a.AddWorkspace(ctxbg, "Notes")
	terr(t, err, ErrExists)
	_, err = a.AddWorkspace(ctxbg, "")
	terr(t, err, ErrName)

	wsOwn := usageOf(t, a, "Workspace", ws.ID)
	tcompare(t, wsOwn.Children, int64(0))

	_, err = a.AddFolder(ctxbg, 999, "x")
	terr(t, err, ErrNotFound)

	// Primary key 8, reference "1" 1, "Drafts" 6.
	f, err := a.AddFolder(ctxbg, ws.ID, "Drafts")
	tcheck(t, err, "add folder")
	tcompare(t, f.Storage, int64(15))
	tcompare(t, usageOf(t, a, "Workspace", ws.ID).Children, int64(15))

	attachment := filepath.Join(t.TempDir(), "plan.pdf")
	err = os.WriteFile(attachment, make([]byte, 1000), 0660)
	tcheck(t, err, "write attachment")
	d, err := a.AddDocument(ctxbg, f.ID, NewDocument{Title: "Plan", Format: "markdown", Body: "héé", AttachmentPath: attachment})
	tcheck(t, err, "add document")
	db := usageOf(t, a, "Document", d.ID)
	tcompare(t, db.Files, int64(1000))
	tcompare(t, d.Storage, db.Total())

	size, err := a.Files.Size(ctxbg, d.Attachment)
	tcheck(t, err, "attachment size")
	tcompare(t, size, int64(1000))

	// The rendered size is external storage of the document only.
	d, err = a.SetRendered(ctxbg, d.ID, 500)
	tcheck(t, err, "set rendered")
	db = usageOf(t, a, "Document", d.ID)
	tcompare(t, db.External, int64(500))
	fb := usageOf(t, a, "Folder", f.ID)
	tcompare(t, fb.Children, db.Own)
	tcompare(t, usageOf(t, a, "Workspace", ws.ID).Children, fb.Own+db.Own)

	_, err = a.SetRendered(ctxbg, d.ID, -1)
	terr(t, err, ErrSize)
	_, err = a.SetRendered(ctxbg, 999, 1)
	terr(t, err, ErrNotFound)

	// Labels don't count toward the workspace.
	before := usageOf(t, a, "Workspace", ws.ID)
	l, err := a.AddLabel(ctxbg, ws.ID, "urgent", "red")
	tcheck(t, err, "add label")
	tcompare(t, l.Storage, int64(8+1+6+3))
	tcompare(t, usageOf(t, a, "Workspace", ws.ID), before)

	d2, err := a.AddDocument(ctxbg, f.ID, NewDocument{Title: "Zebra", Pinned: true})
	tcheck(t, err, "add pinned document")
	tcompare(t, d2.Format, "text")
	f2, err := a.AddFolder(ctxbg, ws.ID, "Archive")
	tcheck(t, err, "add folder")

	tree, err := a.Tree(ctxbg, ws.ID)
	tcheck(t, err, "tree")
	tcompare(t, tree.Usage, usageOf(t, a, "Workspace", ws.ID))
	tcompare(t, len(tree.Folders), 2)
	tcompare(t, tree.Folders[0].ID, f2.ID)
	tcompare(t, tree.Folders[1].ID, f.ID)
	tcompare(t, len(tree.Folders[1].Documents), 2)
	tcompare(t, tree.Folders[1].Documents[0].ID, d2.ID)
	tcompare(t, tree.Folders[1].Documents[1].ID, d.ID)
	tcompare(t, len(tree.Labels), 1)

	l2, err := a.Workspaces(ctxbg)
	tcheck(t, err, "list workspaces")
	tcompare(t, len(l2), 1)
	tcompare(t, l2[0].Storage, tree.Storage)

	// Removing the document shrinks folder and workspace, and removes the attachment.
	err = a.RemoveDocument(ctxbg, d.ID)
	tcheck(t, err, "remove document")
	d2b := usageOf(t, a, "Document", d2.ID)
	tcompare(t, usageOf(t, a, "Folder", f.ID).Children, d2b.Own)
	_, err = a.Files.Size(ctxbg, d.Attachment)
	terr(t, err, filestore.ErrNotFound)
	err = a.RemoveDocument(ctxbg, d.ID)
	terr(t, err, ErrNotFound)

	err = a.RemoveFolder(ctxbg, f.ID)
	tcheck(t, err, "remove folder")
	f2b := usageOf(t, a, "Folder", f2.ID)
	tcompare(t, usageOf(t, a, "Workspace", ws.ID).Children, f2b.Total())
	_, _, err = a.Usage(ctxbg, "Document", d2.ID)
	terr(t, err, ErrNotFound)
	_, _, err = a.Usage(ctxbg, "Bogus", 1)
	terr(t, err, ErrNotFound)

	stats, err := a.Recompute(ctxbg)
	tcheck(t, err, "recompute")
	tcompare(t, stats.Changed, 0)
	tcompare(t, stats.Records, 3)
}

func TestIgnoreFileSizes(t *testing.T) {
	dir := t.TempDir()
	log := mlog.New("workspace", nil)
	a, err := Open(ctxbg, log, Options{DBPath: filepath.Join(dir, "databyte.db"), FilesDir: filepath.Join(dir, "files"), IgnoreFileSizes: true})
	tcheck(t, err, "open")
	defer a.Close()

	ws, err := a.AddWorkspace(ctxbg, "w")
	tcheck(t, err, "add workspace")
	f, err := a.AddFolder(ctxbg, ws.ID, "f")
	tcheck(t, err, "add folder")

	attachment := filepath.Join(t.TempDir(), "big.bin")
	err = os.WriteFile(attachment, make([]byte, 4096), 0660)
	tcheck(t, err, "write attachment")
	d, err := a.AddDocument(ctxbg, f.ID, NewDocument{Title: "t", AttachmentPath: attachment})
	tcheck(t, err, "add document")
	tcompare(t, usageOf(t, a, "Document", d.ID).Files, int64(0))
}
