// Command crlctl runs the resilience layer server, watches a running
// one (dashboard), or pushes one payload to a WebSocket endpoint (send).
package main

import (
	"fmt"
	"os"

	"github.com/lifo4ems/crl/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
