// Package workspace is a document store with storage accounting: workspaces
// hold folders, folders hold documents with optional attachments. Each has a
// storage total, kept up to date as records change.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/mjl-/bstore"
	"golang.org/x/exp/slices"
	"golang.org/x/text/unicode/norm"

	"github.com/databyte/databyte/filestore"
	"github.com/databyte/databyte/mlog"
	"github.com/databyte/databyte/schema"
	"github.com/databyte/databyte/store"
	"github.com/databyte/databyte/usage"
)

var (
	ErrName     = errors.New("invalid name")
	ErrExists   = errors.New("already exists")
	ErrNotFound = errors.New("not found")
	ErrSize     = errors.New("invalid size")
)

// Workspace is the top of a tree. Its total includes its folders and their
// documents, but not its labels.
type Workspace struct {
	ID      int64
	Name    string    `bstore:"nonzero,unique"`
	Created time.Time `bstore:"default now"`
	Storage int64     `databyte:"total"`
}

// Folder holds documents.
type Folder struct {
	ID          int64
	WorkspaceID int64  `bstore:"nonzero,ref Workspace" databyte:"parent"`
	Name        string `bstore:"nonzero"`
	Storage     int64  `databyte:"total,parents"`
}

// Document is a text with an optional attached file. Its rendered preview is
// stored elsewhere, only its size is tracked.
type Document struct {
	ID         int64
	FolderID   int64     `bstore:"nonzero,ref Folder" databyte:"parent"`
	UUID       uuid.UUID `bstore:"nonzero"`
	Title      string    `bstore:"nonzero"`
	Format     string    // E.g. "markdown", "text".
	Body       string    `databyte:"kind richtext"`
	Pinned     bool
	Modified   time.Time
	Score      float64
	Rendered   int64  `databyte:"external"` // Size of rendered preview.
	Attachment string `databyte:"file"`     // Reference in the file store, or empty.
	Storage    int64  `databyte:"total,parents"`
}

// Label can be attached to anything in a workspace. Labels are metadata of
// the workspace, they don't count toward its storage.
type Label struct {
	ID          int64
	WorkspaceID int64  `bstore:"nonzero,ref Workspace"`
	Name        string `bstore:"nonzero"`
	Color       string
	Storage     int64 `databyte:"total,parents"`
}

// Registry returns the schema registry with the workspace types.
func Registry() (*schema.Registry, error) {
	return schema.New(
		schema.Define[Workspace](),
		schema.Define[Folder](),
		schema.Define[Document](),
		schema.Define[Label](),
	)
}

// App is an opened workspace database.
type App struct {
	Store    *store.Store
	Computer *usage.Computer
	Files    *filestore.Dir // Nil if attachments are not supported.

	log mlog.Log
}

// Options for Open.
type Options struct {
	DBPath          string
	FilesDir        string // If empty, attachments cannot be added.
	IgnoreFileSizes bool
}

// Open opens the database, with a trigger keeping storage totals up to date.
func Open(ctx context.Context, log mlog.Log, opts Options) (*App, error) {
	reg, err := Registry()
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	st, err := store.Open(ctx, log, opts.DBPath, reg)
	if err != nil {
		return nil, err
	}
	a := &App{Store: st, log: log}
	var backend filestore.Backend
	if opts.FilesDir != "" {
		a.Files = &filestore.Dir{Path: opts.FilesDir}
		if !opts.IgnoreFileSizes {
			backend = a.Files
		}
	}
	a.Computer = usage.NewComputer(log.WithPkg("usage"), reg, backend)
	st.Observe(usage.NewTrigger(log.WithPkg("usage"), a.Computer))
	return a, nil
}

// Close closes the database.
func (a *App) Close() error {
	return a.Store.Close()
}

// CleanName returns name without surrounding whitespace, in unicode NFC form.
// Empty names and names with control characters are rejected.
func CleanName(name string) (string, error) {
	s := norm.NFC.String(strings.TrimSpace(name))
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrName)
	}
	if strings.IndexFunc(s, unicode.IsControl) >= 0 {
		return "", fmt.Errorf("%w: %q has control characters", ErrName, s)
	}
	return s, nil
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, bstore.ErrAbsent) {
		return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
	}
	return fmt.Errorf("get %s %d: %w", what, id, err)
}

// AddWorkspace adds a new workspace. Names are unique.
func (a *App) AddWorkspace(ctx context.Context, name string) (Workspace, error) {
	name, err := CleanName(name)
	if err != nil {
		return Workspace{}, err
	}
	w := Workspace{Name: name, Created: time.Now()}
	err = a.Store.Insert(ctx, &w)
	if errors.Is(err, bstore.ErrUnique) {
		return Workspace{}, fmt.Errorf("%w: workspace %q", ErrExists, name)
	} else if err != nil {
		return Workspace{}, fmt.Errorf("insert workspace: %w", err)
	}
	a.log.WithContext(ctx).Info("workspace added", slog.Int64("id", w.ID), slog.String("name", name))
	return w, nil
}

// AddFolder adds a folder to a workspace.
func (a *App) AddFolder(ctx context.Context, workspaceID int64, name string) (Folder, error) {
	name, err := CleanName(name)
	if err != nil {
		return Folder{}, err
	}
	f := Folder{WorkspaceID: workspaceID, Name: name}
	err = a.Store.Write(ctx, func(tx *store.Tx) error {
		if err := tx.Get(&Workspace{ID: workspaceID}); err != nil {
			return notFound(err, "workspace", workspaceID)
		}
		return tx.Insert(&f)
	})
	if err != nil {
		return Folder{}, err
	}
	a.log.WithContext(ctx).Info("folder added", slog.Int64("id", f.ID), slog.Int64("workspaceid", workspaceID), slog.String("name", name))
	return f, nil
}

// NewDocument holds the fields of a document to add.
type NewDocument struct {
	Title          string
	Format         string
	Body           string
	Pinned         bool
	Score          float64
	AttachmentPath string // Local file to attach, copied or linked into the file store.
}

// AddDocument adds a document to a folder, storing its attachment in the file
// store.
func (a *App) AddDocument(ctx context.Context, folderID int64, nd NewDocument) (Document, error) {
	log := a.log.WithContext(ctx)

	title, err := CleanName(nd.Title)
	if err != nil {
		return Document{}, err
	}
	d := Document{
		FolderID: folderID,
		UUID:     uuid.New(),
		Title:    title,
		Format:   nd.Format,
		Body:     nd.Body,
		Pinned:   nd.Pinned,
		Modified: time.Now(),
		Score:    nd.Score,
	}
	if d.Format == "" {
		d.Format = "text"
	}

	if nd.AttachmentPath != "" {
		if a.Files == nil {
			return Document{}, fmt.Errorf("attachments not supported without file store")
		}
		d.Attachment = filestore.Ref(d.UUID.String(), nd.AttachmentPath)
		if err := a.Files.Put(log, d.Attachment, nd.AttachmentPath); err != nil {
			return Document{}, fmt.Errorf("storing attachment: %w", err)
		}
	}

	err = a.Store.Write(ctx, func(tx *store.Tx) error {
		if err := tx.Get(&Folder{ID: folderID}); err != nil {
			return notFound(err, "folder", folderID)
		}
		return tx.Insert(&d)
	})
	if err != nil {
		if d.Attachment != "" {
			xerr := a.Files.Remove(log, d.Attachment)
			log.Check(xerr, "removing attachment after failed insert", slog.String("ref", d.Attachment))
		}
		return Document{}, err
	}
	log.Info("document added", slog.Int64("id", d.ID), slog.Int64("folderid", folderID), slog.Int64("storage", d.Storage))
	return d, nil
}

// SetRendered sets the size of the rendered preview of a document.
func (a *App) SetRendered(ctx context.Context, documentID, size int64) (Document, error) {
	if size < 0 {
		return Document{}, fmt.Errorf("%w: %d", ErrSize, size)
	}
	d := Document{ID: documentID}
	err := a.Store.Write(ctx, func(tx *store.Tx) error {
		if err := tx.Get(&d); err != nil {
			return notFound(err, "document", documentID)
		}
		d.Rendered = size
		d.Modified = time.Now()
		return tx.Update(&d)
	})
	return d, err
}

// RemoveDocument removes a document and its attachment.
func (a *App) RemoveDocument(ctx context.Context, documentID int64) error {
	d := Document{ID: documentID}
	err := a.Store.Write(ctx, func(tx *store.Tx) error {
		if err := tx.Get(&d); err != nil {
			return notFound(err, "document", documentID)
		}
		return tx.Delete(&d)
	})
	if err != nil {
		return err
	}
	a.removeAttachments(ctx, []Document{d})
	return nil
}

// RemoveFolder removes a folder with its documents.
func (a *App) RemoveFolder(ctx context.Context, folderID int64) error {
	var docs []Document
	err := a.Store.Write(ctx, func(tx *store.Tx) error {
		f := Folder{ID: folderID}
		if err := tx.Get(&f); err != nil {
			return notFound(err, "folder", folderID)
		}
		var err error
		docs, err = bstore.QueryTx[Document](tx.Tx).FilterNonzero(Document{FolderID: folderID}).List()
		if err != nil {
			return fmt.Errorf("listing documents: %w", err)
		}
		for i := range docs {
			if err := tx.Delete(&docs[i]); err != nil {
				return fmt.Errorf("removing document: %w", err)
			}
		}
		return tx.Delete(&f)
	})
	if err != nil {
		return err
	}
	a.removeAttachments(ctx, docs)
	a.log.WithContext(ctx).Info("folder removed", slog.Int64("id", folderID), slog.Int("documents", len(docs)))
	return nil
}

// Attachments are removed after the records are gone. A failure leaves a
// stray file, not a dangling reference.
func (a *App) removeAttachments(ctx context.Context, docs []Document) {
	log := a.log.WithContext(ctx)
	for _, d := range docs {
		if d.Attachment == "" || a.Files == nil {
			continue
		}
		err := a.Files.Remove(log, d.Attachment)
		log.Check(err, "removing attachment", slog.Int64("documentid", d.ID), slog.String("ref", d.Attachment))
	}
}

// AddLabel adds a label to a workspace.
func (a *App) AddLabel(ctx context.Context, workspaceID int64, name, color string) (Label, error) {
	name, err := CleanName(name)
	if err != nil {
		return Label{}, err
	}
	l := Label{WorkspaceID: workspaceID, Name: name, Color: color}
	err = a.Store.Write(ctx, func(tx *store.Tx) error {
		if err := tx.Get(&Workspace{ID: workspaceID}); err != nil {
			return notFound(err, "workspace", workspaceID)
		}
		return tx.Insert(&l)
	})
	return l, err
}

// Workspaces returns all workspaces, sorted by name.
func (a *App) Workspaces(ctx context.Context) ([]Workspace, error) {
	return bstore.QueryDB[Workspace](ctx, a.Store.DB).SortAsc("Name").List()
}

// FolderTree is a folder with its documents.
type FolderTree struct {
	Folder
	Documents []Document
}

// Tree is a workspace with its contents and storage breakdown.
type Tree struct {
	Workspace
	Usage   usage.Breakdown
	Folders []FolderTree
	Labels  []Label
}

// Tree returns a workspace with its folders, documents and labels, sorted by
// name and title. Pinned documents come first.
func (a *App) Tree(ctx context.Context, workspaceID int64) (Tree, error) {
	var t Tree
	err := a.Store.Read(ctx, func(tx *store.Tx) error {
		t.Workspace = Workspace{ID: workspaceID}
		if err := tx.Get(&t.Workspace); err != nil {
			return notFound(err, "workspace", workspaceID)
		}
		var err error
		t.Usage, err = a.Computer.Compute(tx, &t.Workspace)
		if err != nil {
			return fmt.Errorf("computing usage: %w", err)
		}

		folders, err := bstore.QueryTx[Folder](tx.Tx).FilterNonzero(Folder{WorkspaceID: workspaceID}).List()
		if err != nil {
			return fmt.Errorf("listing folders: %w", err)
		}
		for _, f := range folders {
			docs, err := bstore.QueryTx[Document](tx.Tx).FilterNonzero(Document{FolderID: f.ID}).List()
			if err != nil {
				return fmt.Errorf("listing documents: %w", err)
			}
			slices.SortFunc(docs, func(x, y Document) int {
				if x.Pinned != y.Pinned {
					if x.Pinned {
						return -1
					}
					return 1
				}
				return strings.Compare(x.Title, y.Title)
			})
			t.Folders = append(t.Folders, FolderTree{f, docs})
		}
		slices.SortFunc(t.Folders, func(x, y FolderTree) int {
			return strings.Compare(x.Name, y.Name)
		})

		t.Labels, err = bstore.QueryTx[Label](tx.Tx).FilterNonzero(Label{WorkspaceID: workspaceID}).SortAsc("Name").List()
		return err
	})
	return t, err
}

// Usage computes the storage breakdown of the record of type typeName with
// primary key id, and returns it with the stored total.
func (a *App) Usage(ctx context.Context, typeName string, id int64) (b usage.Breakdown, stored int64, rerr error) {
	t := a.Store.Registry.Lookup(typeName)
	if t == nil {
		return b, 0, fmt.Errorf("%w: type %q", ErrNotFound, typeName)
	}
	rerr = a.Store.Read(ctx, func(tx *store.Tx) error {
		v, err := t.Get(tx.Tx, id)
		if err != nil {
			return notFound(err, t.Name, id)
		}
		b, err = a.Computer.Compute(tx, v)
		if err != nil {
			return err
		}
		if t.Trackable() {
			rv, err := t.Struct(v)
			if err != nil {
				return err
			}
			stored = t.Total.Field.Int(rv)
		}
		return nil
	})
	return
}

// Recompute recomputes all storage totals.
func (a *App) Recompute(ctx context.Context) (usage.Stats, error) {
	return usage.RecomputeAll(ctx, a.log.WithPkg("usage"), a.Store, a.Computer)
}
