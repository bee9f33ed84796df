/*
Command databyte keeps a database of workspaces, folders, documents and labels,
with the storage used by each record maintained automatically.

  - Each record type declares a storage total, kept up to date on every insert,
    update and delete.
  - Totals include the record's own fields, sizes of data stored elsewhere,
    attached files, and the totals of child records.
  - Child totals propagate to parents, up to the top of the tree.
  - Totals can be verified and recomputed, e.g. after attached files were
    changed outside databyte.

# Commands

	databyte [-config databyte.conf] [-loglevel level] ...
	databyte help [command ...]
	databyte version
	databyte config test
	databyte config describe >databyte.conf
	databyte schema
	databyte workspace add name
	databyte workspace list
	databyte workspace tree workspaceid
	databyte folder add workspaceid name
	databyte folder rm folderid
	databyte document add [flags] folderid title
	databyte document rm documentid
	databyte document rendered documentid size
	databyte label add [-color color] workspaceid name
	databyte usage type id
	databyte recompute
	databyte backup dest-dir

Global flags -cpuprof, -memprof and -trace write profiles, -metrics writes the
prometheus metrics gathered while running the command to a file.

# databyte config describe

Prints an annotated empty configuration for use as databyte.conf.

	usage: databyte config describe >databyte.conf

# databyte schema

Prints the record types with their storage declarations.

	usage: databyte schema

# databyte document add

Add a document to a folder.

	usage: databyte document add [flags] folderid title
	  -attach string
	    	file to attach, hard linked or copied into the files directory
	  -body string
	    	body text
	  -bodyfile string
	    	read body text from file, - for stdin
	  -format string
	    	format of body, e.g. text or markdown (default "text")
	  -pinned
	    	pin document to top of folder
	  -score float
	    	score for ranking

# databyte usage

Compute the storage of a record and compare it with its stored total.

	usage: databyte usage type id

Type is one of the types printed by "databyte schema", e.g. Workspace or
Document. The command exits with status 1 if the stored total differs.

# databyte recompute

Recompute all storage totals.

	usage: databyte recompute

# databyte backup

Make a backup of the database and the attached files.

	usage: databyte backup dest-dir

The destination directory must not yet contain a database. Attached files are
hard linked when on the same file system, and copied otherwise.
*/
package main
