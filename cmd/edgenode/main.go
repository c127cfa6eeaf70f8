// Command edgenode runs an edgeflow node.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/drblury/edgeflow/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(cli.ExitFailure)
	}
}
