// Package databyte has the configuration and shared state of a databyte
// instance.
package databyte

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mjl-/sconf"

	"github.com/databyte/databyte/config"
	"github.com/databyte/databyte/mlog"
)

var pkglog = mlog.New("databyte", nil)

// Config paths are set early in program startup.
var (
	ConfigStaticPath string
	Conf             = Config{Log: map[string]slog.Level{"": slog.LevelError}}
)

var ErrConfig = errors.New("config error")

// Config as used in the code, a processed version of what is in the config file.
type Config struct {
	Static config.Static
	Log    map[string]slog.Level
}

// MustLoadConfig loads the config, quitting on errors.
func MustLoadConfig() {
	errs := LoadConfig(context.Background(), pkglog)
	if len(errs) > 1 {
		pkglog.Error("loading config file: multiple errors")
		for _, err := range errs {
			pkglog.Errorx("config error", err)
		}
		pkglog.Fatal("stopping after multiple config errors")
	} else if len(errs) == 1 {
		pkglog.Fatalx("loading config file", errs[0])
	}
}

// LoadConfig attempts to parse and load a config, returning any errors
// encountered.
func LoadConfig(ctx context.Context, log mlog.Log) []error {
	c, errs := ParseConfig(ctx, log, ConfigStaticPath)
	if len(errs) > 0 {
		return errs
	}
	mlog.SetConfig(c.Log)
	SetConfig(c)
	return nil
}

// SetConfig sets a new config. Not to be used during normal operation.
func SetConfig(c *Config) {
	Conf = *c
}

// ParseConfig parses the config at path p.
func ParseConfig(ctx context.Context, log mlog.Log, p string) (c *Config, errs []error) {
	c = &Config{
		Static: config.Static{
			DataDir: ".",
		},
	}

	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) && os.Getenv("DATABYTECONF") == "" {
			return nil, []error{fmt.Errorf("open config file: %v (hint: use databyte -config ... or set DATABYTECONF=...)", err)}
		}
		return nil, []error{fmt.Errorf("open config file: %v", err)}
	}
	defer f.Close()
	if err := sconf.Parse(f, &c.Static); err != nil {
		return nil, []error{fmt.Errorf("parsing %s%v", p, err)}
	}

	if xerrs := PrepareStaticConfig(ctx, log, p, c); len(xerrs) > 0 {
		return nil, xerrs
	}
	return c, nil
}

// PrepareStaticConfig checks the config and fills in defaults.
func PrepareStaticConfig(ctx context.Context, log mlog.Log, configFile string, conf *Config) (errs []error) {
	addErrorf := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrConfig}, args...)...))
	}

	c := &conf.Static

	if logLevel, ok := mlog.Levels[c.LogLevel]; ok {
		conf.Log = map[string]slog.Level{"": logLevel}
	} else {
		conf.Log = map[string]slog.Level{"": slog.LevelError}
		addErrorf("invalid log level %q", c.LogLevel)
	}
	for pkg, s := range c.PackageLogLevels {
		if logLevel, ok := mlog.Levels[s]; ok {
			conf.Log[pkg] = logLevel
		} else {
			addErrorf("invalid package log level %q for package %q", s, pkg)
		}
	}

	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.DBFile == "" {
		c.DBFile = "databyte.db"
	}
	if c.FilesDir == "" {
		c.FilesDir = "files"
	}
	if filepath.Clean(c.DBFile) == filepath.Clean(c.FilesDir) {
		addErrorf("DBFile and FilesDir cannot be the same path %q", c.DBFile)
	}

	dataDir := configDirPath(configFile, c.DataDir)
	if fi, err := os.Stat(dataDir); err == nil && !fi.IsDir() {
		addErrorf("data dir %q is not a directory", dataDir)
	} else if err != nil && !os.IsNotExist(err) {
		addErrorf("data dir %q: %v", dataDir, err)
	}
	log.Debug("static config prepared", slog.String("datadir", dataDir), slog.String("dbfile", c.DBFile), slog.String("filesdir", c.FilesDir))
	return errs
}
