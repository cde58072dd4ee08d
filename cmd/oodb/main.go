// Package main provides the oodb command line tool.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
)

// CLI is the command line interface of oodb.
type CLI struct {
	Globals

	Init    InitCmd    `cmd:"" help:"Create an empty store"`
	Inspect InspectCmd `cmd:"" help:"Show header, statistics and indexes of a store"`
	Bench   BenchCmd   `cmd:"" help:"Run the accounts workload against a store"`
	History HistoryCmd `cmd:"" help:"Print the version history of an account"`
	Backup  BackupCmd  `cmd:"" help:"Write a backup archive of a store"`
	Restore RestoreCmd `cmd:"" help:"Create a store from a backup archive"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// Globals are flags shared by every command.
type Globals struct {
	Config   string `name:"config" short:"c" help:"Configuration file (.yaml or legacy .ini)" type:"path"`
	Path     string `name:"path" short:"p" help:"Store file; overrides and enables the configured store" type:"path"`
	Pool     string `name:"pool" help:"Page pool size, e.g. 64MiB"`
	LogLevel string `name:"log-level" help:"Log level (debug, info, warn, error)"`
}

// exitCode carries a kong exit request out of the parser.
type exitCode int

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns an exit code.
func run(args []string, stdout, stderr io.Writer) (code int) {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("oodb"),
		kong.Description("Embedded persistent object store"),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		kong.Exit(func(c int) { panic(exitCode(c)) }),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	defer func() {
		if r := recover(); r != nil {
			c, ok := r.(exitCode)
			if !ok {
				panic(r)
			}
			code = int(c)
		}
	}()

	ctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
