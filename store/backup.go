package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mjl-/bstore"

	"github.com/databyte/databyte/databyteio"
	"github.com/databyte/databyte/filestore"
	"github.com/databyte/databyte/mlog"
)

// BackupStats summarizes a backup.
type BackupStats struct {
	DBSize   int64
	Linked   int // Files hard linked.
	Copied   int // Files copied, e.g. because the destination is on another file system.
	Missing  int // Referenced files not present in the files directory.
	Duration time.Duration
}

// Backup writes a consistent copy of the database to dstPath, which must not
// exist yet. Files referenced from records in filesDir are hard linked or
// copied into dstFilesDir, with the same references. The database is not
// changed during the backup. Missing files are logged and counted, they don't
// fail the backup.
func (s *Store) Backup(ctx context.Context, log mlog.Log, dstPath, filesDir, dstFilesDir string) (BackupStats, error) {
	log = log.WithContext(ctx)
	start := time.Now()
	var stats BackupStats

	if err := os.MkdirAll(filepath.Dir(dstPath), 0770); err != nil {
		return stats, fmt.Errorf("making destination directory: %w", err)
	}
	df, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0660)
	if err != nil {
		return stats, fmt.Errorf("creating destination database: %w", err)
	}
	defer func() {
		if df != nil {
			err := df.Close()
			log.Check(err, "closing destination database")
		}
	}()

	dirs := map[string]bool{}
	seen := map[string]bool{}
	err = s.DB.Read(ctx, func(btx *bstore.Tx) error {
		// Pages are copied as is, without compacting.
		n, err := btx.WriteTo(df)
		if err != nil {
			return fmt.Errorf("copying database: %w", err)
		}
		stats.DBSize = n

		for _, t := range s.Registry.Types() {
			if len(t.Files) == 0 {
				continue
			}
			err := t.ForEach(btx, func(v any) error {
				rv, err := t.Struct(v)
				if err != nil {
					return err
				}
				for _, f := range t.Files {
					ref, _ := f.Value(rv).(string)
					if ref == "" || seen[ref] {
						continue
					}
					seen[ref] = true
					if err := filestore.CheckRef(ref); err != nil {
						log.Errorx("bad file reference in record, skipping", err, slog.String("type", t.Name), slog.Any("pk", t.PK.Value(rv)))
						stats.Missing++
						continue
					}
					src := filepath.Join(filesDir, filepath.FromSlash(ref))
					dst := filepath.Join(dstFilesDir, filepath.FromSlash(ref))
					dir := filepath.Dir(dst)
					if !dirs[dir] {
						if err := os.MkdirAll(dir, 0770); err != nil {
							return fmt.Errorf("making files directory: %w", err)
						}
						dirs[dir] = true
					}
					linked, err := databyteio.LinkOrCopy(log, dst, src, false)
					if err != nil && errors.Is(err, fs.ErrNotExist) {
						log.Error("referenced file missing, not in backup", slog.String("type", t.Name), slog.Any("pk", t.PK.Value(rv)), slog.String("ref", ref))
						stats.Missing++
					} else if err != nil {
						return fmt.Errorf("backing up file %s: %w", ref, err)
					} else if linked {
						stats.Linked++
					} else {
						stats.Copied++
					}
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("backing up files of %s: %w", t.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	if err := df.Sync(); err != nil {
		return stats, fmt.Errorf("sync destination database: %w", err)
	}
	err = df.Close()
	df = nil
	if err != nil {
		return stats, fmt.Errorf("closing destination database: %w", err)
	}
	for dir := range dirs {
		err := databyteio.SyncDir(log, dir)
		log.Check(err, "sync backup directory", slog.String("dir", dir))
	}

	stats.Duration = time.Since(start)
	log.Info("backup done",
		slog.String("dst", dstPath),
		slog.Int64("dbsize", stats.DBSize),
		slog.Int("linked", stats.Linked),
		slog.Int("copied", stats.Copied),
		slog.Int("missing", stats.Missing),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}
