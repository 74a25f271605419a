// Command framegate serves the sentinel-framed SSE gateway: a single
// service binary wiring the provider adapter, tool registry, and stream
// session controller to an HTTP server.
//
// Usage:
//
//	framegate serve --addr :8080 --config ./framegate.yaml
//	framegate version
package main

import (
	"fmt"
	"os"

	"github.com/relaygrid/framegate/cmd/framegate/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
