// Command xsm loads declarative entity models and runs them to quiescence.
package main

import (
	"fmt"
	"os"

	"github.com/tomjrwilliams/xsm/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
