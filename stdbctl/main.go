package main

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/docopt/docopt-go"

	"golang.org/x/term"

	"github.com/stdbgo/stdb/stdb"
)

const StdbCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Typed accessor generator for stdb.

The default host is http://localhost:3000.

Usage:
    stdbctl codegen [--host=<host>] [--database=<database>]
        [--output=<output>] [--stdin] [--package=<package>]

Options:
    -h --help                Show this screen.
    --version                Show version.
    --host=<host>            Server base url.
    --database=<database>    Database to fetch the schema from.
    --output=<output>        Output path, or - for stdout [default: -].
    --stdin                  Read the schema json from stdin instead of
                             fetching it.
    --package=<package>      Generated package name [default: accessors].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], StdbCtlVersion)
	if err != nil {
		panic(err)
	}

	if codegen_, _ := opts.Bool("codegen"); codegen_ {
		codegen(opts)
	} else {
		Err.Printf("unknown command\n")
		os.Exit(1)
	}
}

func codegen(opts docopt.Opts) {
	var descriptor []byte

	if stdin_, _ := opts.Bool("--stdin"); stdin_ {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			Err.Printf("read stdin: %s\n", err)
			os.Exit(1)
		}
		descriptor = b
	} else {
		host := "http://localhost:3000"
		if host_, err := opts.String("--host"); err == nil && host_ != "" {
			host = host_
		}
		database, err := opts.String("--database")
		if err != nil || database == "" {
			Err.Printf("--database is required unless --stdin is set\n")
			os.Exit(1)
		}
		api := stdb.NewApi(host)
		response, err := api.Get(host + "/v1/database/" + database + "/schema?version=9")
		if err != nil {
			Err.Printf("fetch schema: %s\n", err)
			os.Exit(1)
		}
		if response.Status != 200 {
			Err.Printf("fetch schema: status %d\n", response.Status)
			os.Exit(1)
		}
		descriptor = response.Body
	}

	schema, err := stdb.ParseSchema(descriptor)
	if err != nil {
		Err.Printf("parse schema: %s\n", err)
		os.Exit(1)
	}

	packageName, _ := opts.String("--package")
	if packageName == "" {
		packageName = "accessors"
	}

	source, err := stdb.GenerateAccessors(schema, packageName)
	if err != nil {
		Err.Printf("generate: %s\n", err)
		os.Exit(1)
	}

	output, _ := opts.String("--output")
	if output == "" || output == "-" {
		os.Stdout.WriteString(source)
		if term.IsTerminal(int(os.Stdout.Fd())) {
			Err.Printf("%d bytes generated\n", len(source))
		}
		return
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		Err.Printf("create output dir: %s\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(output, []byte(source), 0644); err != nil {
		Err.Printf("write output: %s\n", err)
		os.Exit(1)
	}
	Out.Printf("wrote %s (%d bytes)\n", output, len(source))
}
