package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/mjl-/sconf"

	"github.com/databyte/databyte/config"
	"github.com/databyte/databyte/databyte-"
	"github.com/databyte/databyte/databytevar"
	"github.com/databyte/databyte/mlog"
	"github.com/databyte/databyte/workspace"
)

func envString(k, def string) string {
	s := os.Getenv(k)
	if s == "" {
		return def
	}
	return s
}

var commands = []struct {
	cmd string
	fn  func(c *cmd)
}{
	{"help", cmdHelp},
	{"version", cmdVersion},
	{"config test", cmdConfigTest},
	{"config describe", cmdConfigDescribe},
	{"schema", cmdSchema},
	{"workspace add", cmdWorkspaceAdd},
	{"workspace list", cmdWorkspaceList},
	{"workspace tree", cmdWorkspaceTree},
	{"folder add", cmdFolderAdd},
	{"folder rm", cmdFolderRemove},
	{"document add", cmdDocumentAdd},
	{"document rm", cmdDocumentRemove},
	{"document rendered", cmdDocumentRendered},
	{"label add", cmdLabelAdd},
	{"usage", cmdUsage},
	{"recompute", cmdRecompute},
	{"backup", cmdBackup},

	// Not listed.
	{"helpall", cmdHelpall},
}

var cmds []cmd

func init() {
	for _, xc := range commands {
		c := cmd{words: strings.Split(xc.cmd, " "), fn: xc.fn}
		cmds = append(cmds, c)
	}
}

type cmd struct {
	words []string
	fn    func(c *cmd)

	// Set before calling command.
	flag     *flag.FlagSet
	flagArgs []string
	_gather  bool // Set when using Parse to gather usage for a command.

	// Set by invoked command or Parse.
	unlisted bool   // If set, command is not listed until at least some words are matched from command.
	params   string // Arguments to command. Multiple lines possible.
	help     string // Additional explanation. First line is synopsis, the rest is only printed for an explicit help/usage for that command.
	args     []string

	log mlog.Log
}

func (c *cmd) Parse() []string {
	// To gather params and usage information, we run the command but panic after
	// the command has registered its flags and set its params and help
	// information. The panic is caught by gather.
	if c._gather {
		panic("gather")
	}

	c.flag.Usage = c.Usage
	c.flag.Parse(c.flagArgs)
	c.args = c.flag.Args()
	return c.args
}

func (c *cmd) gather() {
	c.flag = flag.NewFlagSet("databyte "+strings.Join(c.words, " "), flag.ExitOnError)
	c._gather = true
	defer func() {
		x := recover()
		// panic generated by Parse.
		if x != "gather" {
			panic(x)
		}
	}()
	c.fn(c)
}

func (c *cmd) makeUsage() string {
	var r strings.Builder
	cs := "databyte " + strings.Join(c.words, " ")
	for i, line := range strings.Split(strings.TrimSpace(c.params), "\n") {
		s := ""
		if i == 0 {
			s = "usage:"
		}
		if line != "" {
			line = " " + line
		}
		fmt.Fprintf(&r, "%6s %s%s\n", s, cs, line)
	}
	c.flag.SetOutput(&r)
	c.flag.PrintDefaults()
	return r.String()
}

func (c *cmd) printUsage() {
	fmt.Fprint(os.Stderr, c.makeUsage())
	if c.help != "" {
		fmt.Fprint(os.Stderr, "\n"+c.help+"\n")
	}
}

func (c *cmd) Usage() {
	c.printUsage()
	os.Exit(2)
}

func cmdHelp(c *cmd) {
	c.params = "[command ...]"
	c.help = `Prints help about matching commands.

If multiple commands match, they are listed along with the first line of their help text.
If a single command matches, its usage and full help text is printed.
`
	args := c.Parse()
	if len(args) == 0 {
		c.Usage()
	}

	prefix := func(l, pre []string) bool {
		if len(pre) > len(l) {
			return false
		}
		return slices.Equal(pre, l[:len(pre)])
	}

	var partial []cmd
	for _, c := range cmds {
		if slices.Equal(c.words, args) {
			c.gather()
			fmt.Print(c.makeUsage())
			if c.help != "" {
				fmt.Print("\n" + c.help + "\n")
			}
			return
		} else if prefix(c.words, args) {
			partial = append(partial, c)
		}
	}
	if len(partial) == 0 {
		fmt.Fprintf(os.Stderr, "%s: unknown command\n", strings.Join(args, " "))
		os.Exit(2)
	}
	for _, c := range partial {
		c.gather()
		line := "databyte " + strings.Join(c.words, " ")
		fmt.Printf("%s\n", line)
		if c.help != "" {
			fmt.Printf("\t%s\n", strings.Split(c.help, "\n")[0])
		}
	}
}

func cmdHelpall(c *cmd) {
	c.unlisted = true
	c.help = `Print all detailed usage and help information for all listed commands.

Used to generate documentation.
`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}

	n := 0
	for _, c := range cmds {
		c.gather()
		if c.unlisted {
			continue
		}
		if n > 0 {
			fmt.Fprintf(os.Stderr, "\n")
		}
		n++

		fmt.Fprintf(os.Stderr, "# databyte %s\n\n", strings.Join(c.words, " "))
		if c.help != "" {
			fmt.Fprintln(os.Stderr, c.help+"\n")
		}
		s := c.makeUsage()
		s = "\t" + strings.ReplaceAll(s, "\n", "\n\t")
		fmt.Fprintln(os.Stderr, s)
	}
}

func usage(l []cmd, unlisted bool) {
	var lines []string
	if !unlisted {
		lines = append(lines, "databyte [-config databyte.conf] [-loglevel level] ...")
	}
	for _, c := range l {
		c.gather()
		if c.unlisted && !unlisted {
			continue
		}
		for _, line := range strings.Split(c.params, "\n") {
			x := append([]string{"databyte"}, c.words...)
			if line != "" {
				x = append(x, line)
			}
			lines = append(lines, strings.Join(x, " "))
		}
	}
	for i, line := range lines {
		pre := "       "
		if i == 0 {
			pre = "usage: "
		}
		fmt.Fprintln(os.Stderr, pre+line)
	}
	os.Exit(2)
}

var loglevel string // Empty is interpreted as the level from the config file.

// mustLoadConfig loads the config file, and applies the log level from the
// command-line, if any.
func mustLoadConfig() {
	databyte.MustLoadConfig()
	if loglevel == "" {
		return
	}
	if level, ok := mlog.Levels[loglevel]; ok {
		databyte.Conf.Log[""] = level
		mlog.SetConfig(databyte.Conf.Log)
	} else {
		log.Fatalf("unknown loglevel %q", loglevel)
	}
}

func main() {
	log.SetFlags(0)

	flag.StringVar(&databyte.ConfigStaticPath, "config", envString("DATABYTECONF", "databyte.conf"), "configuration file, defaults to $DATABYTECONF with a fallback to databyte.conf")
	flag.StringVar(&loglevel, "loglevel", "", "if non-empty, this log level is set early in startup, overriding the config file")

	var cpuprofile, memprofile, tracefile, metricsfile string
	flag.StringVar(&cpuprofile, "cpuprof", "", "store cpu profile to file")
	flag.StringVar(&memprofile, "memprof", "", "store mem profile to file")
	flag.StringVar(&tracefile, "trace", "", "store execution trace to file")
	flag.StringVar(&metricsfile, "metrics", "", "write prometheus metrics in text format to file after the command")

	flag.Usage = func() { usage(cmds, false) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage(cmds, false)
	}

	if tracefile != "" {
		defer traceExecution(tracefile)()
	}
	defer profile(cpuprofile, memprofile)()
	if metricsfile != "" {
		defer writeMetrics(metricsfile)
	}

	ll := loglevel
	if ll == "" {
		ll = "info"
	}
	if level, ok := mlog.Levels[ll]; ok {
		databyte.Conf.Log[""] = level
		mlog.SetConfig(databyte.Conf.Log)
		// note: SetConfig is called again when a command loads the config.
	} else {
		log.Fatalf("unknown loglevel %q", loglevel)
	}

	var partial []cmd
next:
	for _, c := range cmds {
		for i, w := range c.words {
			if i >= len(args) || w != args[i] {
				if i > 0 {
					partial = append(partial, c)
				}
				continue next
			}
		}
		c.flag = flag.NewFlagSet("databyte "+strings.Join(c.words, " "), flag.ExitOnError)
		c.flagArgs = args[len(c.words):]
		c.log = mlog.New(strings.Join(c.words, ""), nil)
		c.fn(&c)
		return
	}
	if len(partial) > 0 {
		usage(partial, true)
	}
	usage(cmds, false)
}

func xcheckf(err error, format string, args ...any) {
	if err == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.Fatalf("%s: %s", msg, err)
}

func xparseID(s, what string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err == nil && id <= 0 {
		err = fmt.Errorf("must be positive")
	}
	xcheckf(err, "parsing %s %q", what, s)
	return id
}

// xopen loads the config and opens the database, with a context carrying a new
// cid for logging.
func xopen(c *cmd) (context.Context, *workspace.App) {
	mustLoadConfig()
	ctx := databyte.CidContext(context.Background())
	a, err := workspace.Open(ctx, c.log, workspace.Options{
		DBPath:          databyte.DBPath(),
		FilesDir:        databyte.FilesPath(),
		IgnoreFileSizes: databyte.Conf.Static.IgnoreFileSizes,
	})
	xcheckf(err, "open database")
	return ctx, a
}

func xclose(c *cmd, a *workspace.App) {
	err := a.Close()
	c.log.Check(err, "closing database")
}

func cmdVersion(c *cmd) {
	c.help = "Prints this databyte version."
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	fmt.Println(databytevar.Version)
	fmt.Printf("%s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func cmdConfigTest(c *cmd) {
	c.help = `Parses and validates the configuration file.

If valid, the command exits with status 0. If not valid, all errors encountered
are printed.
`
	args := c.Parse()
	if len(args) != 0 {
		c.Usage()
	}

	_, errs := databyte.ParseConfig(context.Background(), c.log, databyte.ConfigStaticPath)
	if len(errs) > 1 {
		log.Printf("multiple errors:")
		for _, err := range errs {
			log.Printf("%s", err)
		}
		os.Exit(1)
	} else if len(errs) == 1 {
		log.Fatalf("%s", errs[0])
	}
	fmt.Println("config OK")
}

func cmdConfigDescribe(c *cmd) {
	c.params = ">databyte.conf"
	c.help = `Prints an annotated empty configuration for use as databyte.conf.

This configuration file needs modifications to make it valid, e.g. a log level.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}

	var sc config.Static
	err := sconf.Describe(os.Stdout, &sc)
	xcheckf(err, "describing config")
}

func cmdSchema(c *cmd) {
	c.help = `Prints the record types with their storage declarations.

For each type, the fields making up the own field cost are listed with their
cost kind, followed by external storage fields, file fields, parent links and
the child relations counting toward the storage of the type.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}

	reg, err := workspace.Registry()
	xcheckf(err, "registry")
	for i, t := range reg.Types() {
		if i > 0 {
			fmt.Println()
		}
		fmt.Printf("%s\n", t.Name)
		if t.Trackable() {
			fmt.Printf("\ttotal: %s (counts toward parents: %v)\n", t.Total.Field.Name, t.IncludeInParentsCount())
		}
		for _, f := range t.OwnFields() {
			fmt.Printf("\tfield: %s (%s)\n", f.Name, f.Kind)
		}
		for _, f := range t.External {
			fmt.Printf("\texternal: %s\n", f.Name)
		}
		for _, f := range t.Files {
			fmt.Printf("\tfile: %s\n", f.Name)
		}
		for _, pl := range t.Parents {
			fmt.Printf("\tparent: %s -> %s (storage parent: %v)\n", pl.Field.Name, pl.TargetName, pl.CountAsStorageParent)
		}
		for _, cr := range t.Children {
			fmt.Printf("\tchild: %s.%s\n", cr.Child.Name, cr.Link.Field.Name)
		}
	}
}

func cmdWorkspaceAdd(c *cmd) {
	c.params = "name"
	c.help = "Add a workspace."
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}

	ctx, a := xopen(c)
	defer xclose(c, a)
	w, err := a.AddWorkspace(ctx, args[0])
	xcheckf(err, "adding workspace")
	fmt.Printf("workspace %d added\n", w.ID)
}

func cmdWorkspaceList(c *cmd) {
	c.help = "List workspaces with their storage totals."
	if len(c.Parse()) != 0 {
		c.Usage()
	}

	ctx, a := xopen(c)
	defer xclose(c, a)
	l, err := a.Workspaces(ctx)
	xcheckf(err, "listing workspaces")
	fmt.Printf("%6s %12s %s\n", "ID", "Storage", "Name")
	for _, w := range l {
		fmt.Printf("%6d %12d %s\n", w.ID, w.Storage, w.Name)
	}
}

func cmdWorkspaceTree(c *cmd) {
	c.params = "workspaceid"
	c.help = `Print a workspace with its folders, documents and labels.

Storage totals are printed as stored, followed by a freshly computed breakdown
of the workspace storage.
`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	id := xparseID(args[0], "workspace id")

	ctx, a := xopen(c)
	defer xclose(c, a)
	t, err := a.Tree(ctx, id)
	xcheckf(err, "workspace tree")
	fmt.Printf("%s (%d): %d bytes\n", t.Name, t.ID, t.Storage)
	for _, f := range t.Folders {
		fmt.Printf("\t%s (%d): %d bytes\n", f.Name, f.ID, f.Storage)
		for _, d := range f.Documents {
			var flags string
			if d.Pinned {
				flags += " pinned"
			}
			if d.Attachment != "" {
				flags += " attachment"
			}
			fmt.Printf("\t\t%s (%d, %s%s): %d bytes\n", d.Title, d.ID, d.Format, flags, d.Storage)
		}
	}
	for _, l := range t.Labels {
		fmt.Printf("\tlabel %s (%d, %s): %d bytes\n", l.Name, l.ID, l.Color, l.Storage)
	}
	fmt.Printf("\nown %d, external %d, files %d, children %d, total %d\n", t.Usage.Own, t.Usage.External, t.Usage.Files, t.Usage.Children, t.Usage.Total())
}

func cmdFolderAdd(c *cmd) {
	c.params = "workspaceid name"
	c.help = "Add a folder to a workspace."
	args := c.Parse()
	if len(args) != 2 {
		c.Usage()
	}
	wsID := xparseID(args[0], "workspace id")

	ctx, a := xopen(c)
	defer xclose(c, a)
	f, err := a.AddFolder(ctx, wsID, args[1])
	xcheckf(err, "adding folder")
	fmt.Printf("folder %d added\n", f.ID)
}

func cmdFolderRemove(c *cmd) {
	c.params = "folderid"
	c.help = "Remove a folder with its documents and their attachments."
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	id := xparseID(args[0], "folder id")

	ctx, a := xopen(c)
	defer xclose(c, a)
	err := a.RemoveFolder(ctx, id)
	xcheckf(err, "removing folder")
}

func cmdDocumentAdd(c *cmd) {
	var nd workspace.NewDocument
	var bodyFile string
	c.flag.StringVar(&nd.Format, "format", "text", "format of body, e.g. text or markdown")
	c.flag.StringVar(&nd.Body, "body", "", "body text")
	c.flag.StringVar(&bodyFile, "bodyfile", "", "read body text from file, - for stdin")
	c.flag.BoolVar(&nd.Pinned, "pinned", false, "pin document to top of folder")
	c.flag.Float64Var(&nd.Score, "score", 0, "score for ranking")
	c.flag.StringVar(&nd.AttachmentPath, "attach", "", "file to attach, hard linked or copied into the files directory")
	c.params = "[flags] folderid title"
	c.help = "Add a document to a folder."
	args := c.Parse()
	if len(args) != 2 {
		c.Usage()
	}
	folderID := xparseID(args[0], "folder id")
	nd.Title = args[1]
	if bodyFile != "" {
		var buf []byte
		var err error
		if bodyFile == "-" {
			buf, err = io.ReadAll(os.Stdin)
		} else {
			buf, err = os.ReadFile(bodyFile)
		}
		xcheckf(err, "reading body")
		nd.Body = string(buf)
	}
	if nd.AttachmentPath != "" {
		p, err := filepath.Abs(nd.AttachmentPath)
		xcheckf(err, "attachment path")
		nd.AttachmentPath = p
	}

	ctx, a := xopen(c)
	defer xclose(c, a)
	d, err := a.AddDocument(ctx, folderID, nd)
	xcheckf(err, "adding document")
	fmt.Printf("document %d added, %d bytes\n", d.ID, d.Storage)
}

func cmdDocumentRemove(c *cmd) {
	c.params = "documentid"
	c.help = "Remove a document and its attachment."
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	id := xparseID(args[0], "document id")

	ctx, a := xopen(c)
	defer xclose(c, a)
	err := a.RemoveDocument(ctx, id)
	xcheckf(err, "removing document")
}

func cmdDocumentRendered(c *cmd) {
	c.params = "documentid size"
	c.help = `Set the size of the rendered preview of a document.

The preview is stored outside the database, its size is external storage of the
document.
`
	args := c.Parse()
	if len(args) != 2 {
		c.Usage()
	}
	id := xparseID(args[0], "document id")
	size, err := strconv.ParseInt(args[1], 10, 64)
	xcheckf(err, "parsing size")

	ctx, a := xopen(c)
	defer xclose(c, a)
	d, err := a.SetRendered(ctx, id, size)
	xcheckf(err, "setting rendered size")
	fmt.Printf("document %d: %d bytes\n", d.ID, d.Storage)
}

func cmdLabelAdd(c *cmd) {
	var color string
	c.flag.StringVar(&color, "color", "", "color of label")
	c.params = "[-color color] workspaceid name"
	c.help = `Add a label to a workspace.

Labels have a storage total, but do not count toward the storage of the workspace.
`
	args := c.Parse()
	if len(args) != 2 {
		c.Usage()
	}
	wsID := xparseID(args[0], "workspace id")

	ctx, a := xopen(c)
	defer xclose(c, a)
	l, err := a.AddLabel(ctx, wsID, args[1], color)
	xcheckf(err, "adding label")
	fmt.Printf("label %d added\n", l.ID)
}

func cmdUsage(c *cmd) {
	c.params = "type id"
	c.help = `Compute the storage of a record and compare it with its stored total.

Type is one of the types printed by "databyte schema", e.g. Workspace or
Document. The command exits with status 1 if the stored total differs.
`
	args := c.Parse()
	if len(args) != 2 {
		c.Usage()
	}
	id := xparseID(args[1], "id")

	ctx, a := xopen(c)
	defer xclose(c, a)
	b, stored, err := a.Usage(ctx, args[0], id)
	xcheckf(err, "computing usage")
	fmt.Printf("own       %12d\n", b.Own)
	fmt.Printf("external  %12d\n", b.External)
	fmt.Printf("files     %12d\n", b.Files)
	fmt.Printf("children  %12d\n", b.Children)
	fmt.Printf("total     %12d\n", b.Total())
	fmt.Printf("stored    %12d\n", stored)
	if stored != b.Total() {
		c.log.Info("stored total differs, fix with recompute", slog.Int64("stored", stored), slog.Int64("computed", b.Total()))
		xclose(c, a)
		os.Exit(1)
	}
}

func cmdRecompute(c *cmd) {
	c.help = `Recompute all storage totals.

Totals are kept up to date automatically. Recompute repairs them after changes
made without databyte, or after attached files were changed or removed.
`
	if len(c.Parse()) != 0 {
		c.Usage()
	}

	ctx, a := xopen(c)
	defer xclose(c, a)
	stats, err := a.Recompute(ctx)
	xcheckf(err, "recompute")
	fmt.Printf("%d records of %d types, %d totals changed, in %s\n", stats.Records, stats.Types, stats.Changed, stats.Duration)
}

func cmdBackup(c *cmd) {
	c.params = "dest-dir"
	c.help = `Make a backup of the database and the attached files.

The destination directory must not yet contain a database. The database is
copied in a single read transaction, attached files are hard linked when on the
same file system, and copied otherwise. The backup can be used as data
directory.
`
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	dst := args[0]

	ctx, a := xopen(c)
	defer xclose(c, a)
	stats, err := a.Store.Backup(ctx, c.log, filepath.Join(dst, filepath.Base(databyte.Conf.Static.DBFile)), databyte.FilesPath(), filepath.Join(dst, filepath.Base(databyte.Conf.Static.FilesDir)))
	xcheckf(err, "backup")
	fmt.Printf("database %d bytes, %d files linked, %d copied, %d missing\n", stats.DBSize, stats.Linked, stats.Copied, stats.Missing)
}
