// Package main provides the entry point for the agentmem CLI.
package main

import (
	"os"

	"github.com/louloulin/agentmem/cmd/agentmem/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
