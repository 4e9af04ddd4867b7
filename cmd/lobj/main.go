// Command lobj uploads large objects in chunks to a persistent host.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/lobj/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		if !cli.Reported(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
