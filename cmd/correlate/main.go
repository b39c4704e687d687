// Command correlate runs the event-to-case dispatcher.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/correlate/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
