// Package databytevar provides the version of a databyte build, and the logger
// registration used when opening databases.
package databytevar

import (
	"runtime/debug"
)

// Version is the module version of the build. For development builds it is the
// abbreviated vcs revision, with "+modifications" for a dirty tree, or
// "(devel)" if unknown.
var Version = version(debug.ReadBuildInfo())

func version(bi *debug.BuildInfo, ok bool) string {
	if !ok {
		return "(devel)"
	}
	if bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	var rev string
	var modified bool
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if rev == "" {
		return "(devel)"
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if modified {
		rev += "+modifications"
	}
	return rev
}
