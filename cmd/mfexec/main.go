// Command mfexec compiles, validates and runs material flow programs.
package main

import (
	"fmt"
	"os"

	"github.com/iml130/mf-plugin/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
