// Command groundcheck runs grounding checks from the command line, over HTTP
// or as an MCP server, and drives scheduled checks.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
