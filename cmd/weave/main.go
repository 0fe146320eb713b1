// Command weave drives and inspects a reactive document store: it
// wires internal/cli's cobra command tree to a real process and
// translates command errors into the exit codes internal/cli defines.
package main

import (
	"fmt"
	"os"

	"github.com/weftrun/weave/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "weave: %v\n", err)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
