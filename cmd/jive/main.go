// jive is the agile work-item orchestration engine: a hierarchical work
// tracker with semantic search, dependency-aware execution planning and
// file/database synchronization, exposed to agents over a unix socket.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
