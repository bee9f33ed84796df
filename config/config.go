package config

// Static is the parsed form of the databyte.conf configuration file, before
// converting it into a databyte.Config after additional processing.
type Static struct {
	DataDir          string            `sconf-doc:"NOTE: This config file is in 'sconf' format. Indent with tabs. Comments must be on their own line, they don't end a line. Do not escape or quote strings. Details: https://pkg.go.dev/github.com/mjl-/sconf.\n\n\nDirectory where all data is stored: the database and referenced files. If this is a relative path, it is relative to the directory of databyte.conf."`
	LogLevel         string            `sconf-doc:"Default log level, one of: error, info, debug, trace. Debug logs each recomputed storage total."`
	PackageLogLevels map[string]string `sconf:"optional" sconf-doc:"Overrides of log level per package (e.g. store, usage, filestore, workspace)."`
	DBFile           string            `sconf:"optional" sconf-doc:"File name of the database, relative to DataDir. Default: databyte.db."`
	FilesDir         string            `sconf:"optional" sconf-doc:"Directory for files referenced from records, e.g. document attachments, relative to DataDir. Storage totals include the sizes of these files. Default: files."`
	IgnoreFileSizes  bool              `sconf:"optional" sconf-doc:"If set, sizes of referenced files are not part of storage totals, only the file references themselves are counted."`
}
