package main

import (
	"fmt"
	"runtime"

	"github.com/alecthomas/kong"
)

// Version information - these can be set at build time using ldflags.
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version   = "0.1.0"
	commit    = "unknown"
	buildDate = "unknown"
)

// VersionCmd prints version information.
type VersionCmd struct {
	Short bool `help:"Show only the version number"`
}

func (c *VersionCmd) Run(ctx *kong.Context) error {
	if c.Short {
		fmt.Fprintln(ctx.Stdout, version)
		return nil
	}

	fmt.Fprintf(ctx.Stdout, "oodb version %s\n", version)
	fmt.Fprintf(ctx.Stdout, "  Commit:     %s\n", commit)
	fmt.Fprintf(ctx.Stdout, "  Built:      %s\n", buildDate)
	fmt.Fprintf(ctx.Stdout, "  Go version: %s\n", runtime.Version())
	fmt.Fprintf(ctx.Stdout, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return nil
}
