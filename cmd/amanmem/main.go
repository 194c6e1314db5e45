// Package main provides the entry point for the amanmem CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/amanmem/cmd/amanmem/cmd"
	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, amerrors.FormatForCLI(err))
		os.Exit(1)
	}
}
