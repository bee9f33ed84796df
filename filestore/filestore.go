// Package filestore provides file backends that report the size of files
// referenced from records.
//
// A reference is a slash-separated relative path, e.g. "ab/12.pdf". Records
// only hold references. Storage accounting asks the backend for the size of
// the file when computing a total.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/databyte/databyte/databyteio"
	"github.com/databyte/databyte/mlog"
)

var (
	ErrNotFound  = errors.New("filestore: file not found")
	ErrBadRef    = errors.New("filestore: bad file reference")
	ErrNoSpace   = errors.New("filestore: out of storage space")
	errEmptyPath = errors.New("empty path")
)

// Backend reports the size of referenced files.
type Backend interface {
	// Size returns the size in bytes of the referenced file. A missing file
	// results in an error matching ErrNotFound.
	Size(ctx context.Context, ref string) (int64, error)
}

// CheckRef returns an error if ref is not a clean relative slash-separated
// path within the backend.
func CheckRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: %v", ErrBadRef, errEmptyPath)
	}
	if !fs.ValidPath(ref) || strings.Contains(ref, `\`) {
		return fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	return nil
}

// Dir is a backend storing files in a local directory.
type Dir struct {
	Path string
}

func (d Dir) path(ref string) (string, error) {
	if err := CheckRef(ref); err != nil {
		return "", err
	}
	return filepath.Join(d.Path, filepath.FromSlash(ref)), nil
}

// Size returns the size of the referenced file on disk.
func (d Dir) Size(ctx context.Context, ref string) (int64, error) {
	p, err := d.path(ref)
	if err != nil {
		return 0, err
	}
	fi, err := os.Stat(p)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, ref)
	} else if err != nil {
		return 0, fmt.Errorf("stat file: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: not a regular file: %s", ErrNotFound, ref)
	}
	return fi.Size(), nil
}

// Put hard links or copies the file at srcPath into the directory as ref. An
// existing file is not overwritten.
func (d Dir) Put(log mlog.Log, ref, srcPath string) error {
	p, err := d.path(ref)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0770); err != nil {
		return fmt.Errorf("making directory for file: %w", err)
	}
	if _, err := databyteio.LinkOrCopy(log, p, srcPath, true); err != nil {
		if databyteio.IsStorageSpace(err) {
			return fmt.Errorf("%w: %v", ErrNoSpace, err)
		}
		return fmt.Errorf("storing file: %w", err)
	}
	if err := databyteio.SyncDir(log, dir); err != nil {
		return fmt.Errorf("sync directory: %w", err)
	}
	log.Debug("stored file", slog.String("ref", ref), slog.String("path", p))
	return nil
}

// Remove removes the referenced file. Removing an absent file is not an error.
func (d Dir) Remove(log mlog.Log, ref string) error {
	p, err := d.path(ref)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		log.Debug("file to remove already absent", slog.String("ref", ref))
		return nil
	}
	return err
}

// Map is an in-memory backend, mapping references to sizes.
type Map struct {
	sync.Mutex
	Sizes map[string]int64
}

// NewMap returns a Map with a copy of sizes.
func NewMap(sizes map[string]int64) *Map {
	m := &Map{Sizes: map[string]int64{}}
	for k, v := range sizes {
		m.Sizes[k] = v
	}
	return m
}

// Size returns the size registered for ref.
func (m *Map) Size(ctx context.Context, ref string) (int64, error) {
	if err := CheckRef(ref); err != nil {
		return 0, err
	}
	m.Lock()
	defer m.Unlock()
	size, ok := m.Sizes[ref]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return size, nil
}

// Set registers the size for ref.
func (m *Map) Set(ref string, size int64) {
	m.Lock()
	defer m.Unlock()
	if m.Sizes == nil {
		m.Sizes = map[string]int64{}
	}
	m.Sizes[ref] = size
}

// Delete removes ref.
func (m *Map) Delete(ref string) {
	m.Lock()
	defer m.Unlock()
	delete(m.Sizes, ref)
}

// Ref returns a reference for a file name, prefixed with key and placed in a
// subdirectory named after the first two characters of key, to keep
// directories small. Key is typically a random identifier.
func Ref(key, name string) string {
	base := path.Base(filepath.ToSlash(name))
	base = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r < ' ' {
			return '_'
		}
		return r
	}, base)
	if base == "." || base == ".." || base == "" {
		base = "file"
	}
	dir := key
	if len(dir) > 2 {
		dir = dir[:2]
	}
	return dir + "/" + key + "-" + base
}
