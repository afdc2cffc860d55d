// Command workspace-mcp serves a source workspace to MCP hosts over line-delimited
// JSON-RPC, and bridges stdio hosts to a running server.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
