package main

import (
	"fmt"
	"os"
)

// ctlVersion is set via ldflags in release builds, matching cardresd's
// own version wiring in internal/api.
var ctlVersion = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cardresctl:", err)
		os.Exit(1)
	}
}
