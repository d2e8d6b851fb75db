// fspy traces the filesystem accesses of a command and its descendants.
//
// Commands:
//
//	trace   - Trace a command's filesystem accesses
//	ps      - List live trace sessions
//	version - Print version information
package main

import (
	"fmt"
	"os"

	"fspy-go/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
