package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"freebooter/internal/types"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			printError(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// printError lists configuration problems one per line.
func printError(w io.Writer, err error) {
	var cerrs types.ConfigErrors
	if errors.As(err, &cerrs) {
		fmt.Fprintf(w, "invalid configuration (%d problems):\n", len(cerrs))
		for _, ce := range cerrs {
			fmt.Fprintf(w, "  - %s\n", ce)
		}
		return
	}
	fmt.Fprintln(w, err)
}
