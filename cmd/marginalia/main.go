// Command marginalia runs scripted annotator sessions, checks them against
// golden traces and inspects their journals.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/marginalia/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
