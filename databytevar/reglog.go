package databytevar

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"testing"
)

var quietNewDatabases = testing.Testing()

// RegisterLogger returns the logger to pass as bstore.Options.RegisterLogger
// when opening the database at path.
//
// Under test, opening a database that does not exist yet logs the registration
// of each record type. Those lines only add noise, so nil is returned instead.
func RegisterLogger(path string, log *slog.Logger) *slog.Logger {
	if !quietNewDatabases {
		return log
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return log
}
