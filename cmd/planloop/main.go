// Command planloop drives plan-file execution loops against a coding agent.
package main

import (
	"fmt"
	"os"

	"github.com/planloop/planloop/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
