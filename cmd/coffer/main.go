// Command coffer runs the player balance service and its admin commands.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/coffer/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
