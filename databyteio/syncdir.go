//go:build !windows

package databyteio

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/databyte/databyte/mlog"
)

// SyncDir syncs directory dir, making new entries in it durable.
func SyncDir(log mlog.Log, dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer func() {
		err := d.Close()
		log.Check(err, "closing directory after sync", slog.String("dir", dir))
	}()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync directory: %w", err)
	}
	return nil
}
