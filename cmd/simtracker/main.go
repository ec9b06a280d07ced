// simtracker is the HTTP API server for starting, querying and stopping simulations.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("simtracker failed", "error", err)
		os.Exit(1)
	}
}
