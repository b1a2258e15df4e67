// Package main is the entry point for the agentguard CLI.
package main

import (
	"errors"
	"os"

	"github.com/gzhole/agentguard/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		var exitErr *cli.ExitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
