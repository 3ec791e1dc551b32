// Command parsekit queries and caches a Parse-compatible backend.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/parsekit/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		if cli.GetExitCode(err) == cli.ExitCommandError {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
