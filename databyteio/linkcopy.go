// Package databyteio has i/o functions for files referenced from records.
package databyteio

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/databyte/databyte/mlog"
)

// LinkOrCopy makes dst a hard link to src, or a copy if src and dst are on
// different file systems or links are not supported. Linked is true if a hard
// link was made. A missing src or an existing dst is returned as error, with
// the fs.ErrNotExist or fs.ErrExist cause intact.
//
// With sync, a copied file is synced to disk. The directory of dst is not
// synced, callers can sync once after linking multiple files.
func LinkOrCopy(log mlog.Log, dst, src string, sync bool) (linked bool, rerr error) {
	err := os.Link(src, dst)
	if err == nil {
		return true, nil
	} else if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrExist) {
		return false, err
	}
	log.Debugx("hard link failed, copying file", err, slog.String("src", src), slog.String("dst", dst))
	return false, copyFile(log, dst, src, sync)
}

// copyFile copies src to new file dst. On failure, dst is removed.
func copyFile(log mlog.Log, dst, src string, sync bool) (rerr error) {
	sf, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() {
		err := sf.Close()
		log.Check(err, "closing source file")
	}()

	df, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0660)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer func() {
		if rerr == nil {
			return
		}
		if df != nil {
			err := df.Close()
			log.Check(err, "closing partial destination file")
		}
		err := os.Remove(dst)
		log.Check(err, "removing partial destination file", slog.String("path", dst))
	}()

	if _, err := io.Copy(df, sf); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if sync {
		if err := df.Sync(); err != nil {
			return fmt.Errorf("sync destination: %w", err)
		}
	}
	err = df.Close()
	df = nil
	if err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	return nil
}
