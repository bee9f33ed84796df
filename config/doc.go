/*
Package config holds the configuration file definitions.

Databyte uses a single config file, databyte.conf. It is read when a command
starts, changes take effect with the next command.

Below is an "empty" config file, generated from the config file definition in
the source code, along with comments explaining the fields. Fields named "x" are
placeholders for user-chosen map keys.

# sconf

The config file is in "sconf" format. Properties of sconf files:

  - Indentation with tabs only.
  - "#" as first non-whitespace character makes the line a comment. Lines with a
    value cannot also have a comment.
  - Values don't have syntax indicating their type. For example, strings are
    not quoted/escaped and can never span multiple lines.
  - Fields that are optional can be left out completely. But the value of an
    optional field may itself have required fields.

See https://pkg.go.dev/github.com/mjl-/sconf for details.

# databyte.conf

	# NOTE: This config file is in 'sconf' format. Indent with tabs. Comments must be
	# on their own line, they don't end a line. Do not escape or quote strings.
	# Details: https://pkg.go.dev/github.com/mjl-/sconf.

	# Directory where all data is stored: the database and referenced files. If this
	# is a relative path, it is relative to the directory of databyte.conf.
	DataDir:

	# Default log level, one of: error, info, debug, trace. Debug logs each recomputed
	# storage total.
	LogLevel:

	# Overrides of log level per package (e.g. store, usage, filestore, workspace).
	# (optional)
	PackageLogLevels:
		x:

	# File name of the database, relative to DataDir. Default: databyte.db.
	# (optional)
	DBFile:

	# Directory for files referenced from records, e.g. document attachments,
	# relative to DataDir. Storage totals include the sizes of these files. Default:
	# files. (optional)
	FilesDir:

	# If set, sizes of referenced files are not part of storage totals, only the file
	# references themselves are counted. (optional)
	IgnoreFileSizes: false
*/
package config

// NOTE: DO NOT EDIT the comment above, it is generated by "databyte config describe".
