// Package main provides the entry point for the ragmcp CLI.
package main

import (
	"os"

	"github.com/amanmcp-ragmcp/ragmcp/cmd/ragmcp/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
