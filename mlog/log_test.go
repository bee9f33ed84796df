package mlog

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	defer SetConfig(map[string]slog.Level{"": LevelError})

	var buf bytes.Buffer
	log := New("usage", slog.New(NewHandler(&buf)))

	SetConfig(map[string]slog.Level{"": LevelError, "usage": LevelDebug})
	log.Debug("recomputed", slog.Int64("total", 15))
	log.Trace("not printed")
	if got := buf.String(); got != "debug: recomputed (pkg: usage; total: 15)\n" {
		t.Fatalf("got %q", got)
	}

	buf.Reset()
	SetConfig(map[string]slog.Level{"": LevelInfo})
	log.Debug("not printed")
	log.WithPkg("store").Info("opened", slog.String("path", "a b"))
	if got := buf.String(); got != "info: opened (pkg: store; path: \"a b\")\n" {
		t.Fatalf("got %q", got)
	}

	buf.Reset()
	SetConfig(map[string]slog.Level{"": LevelError})
	log.Print("always")
	if got := buf.String(); got != "print: always (pkg: usage)\n" {
		t.Fatalf("got %q", got)
	}
}

func TestErrorAndCid(t *testing.T) {
	defer func() { Logfmt = false }()
	Logfmt = true

	var buf bytes.Buffer
	log := New("filestore", slog.New(NewHandler(&buf)))
	ctx := context.WithValue(context.Background(), CidKey, int64(255))
	log.WithContext(ctx).Check(errors.New("no such file"), "file size", slog.String("ref", "x"))
	log.Check(nil, "not printed")

	got := buf.String()
	exp := "l=error m=\"file size\" err=\"no such file\" pkg=filestore cid=ff ref=x\n"
	if got != exp {
		t.Fatalf("got %q, expected %q", got, exp)
	}
}

func TestErrWriter(t *testing.T) {
	var buf bytes.Buffer
	log := New("cmd", slog.New(NewHandler(&buf)))
	w := ErrWriter(log, LevelError, "http server")
	w.Write([]byte("broken pipe\n"))
	if !strings.HasPrefix(buf.String(), "error: http server: broken pipe") {
		t.Fatalf("got %q", buf.String())
	}
}
