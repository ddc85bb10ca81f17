// Command mycli is the small CLI the end-to-end suite exercises.
package main

import (
	"fmt"
	"io"
	"os"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

const usage = "Usage: mycli [--version|-v] [--help|-h]"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run looks for a known flag anywhere in args; version wins over help.
// Anything else is rejected.
func run(args []string, stdout, stderr io.Writer) int {
	if has(args, "--version", "-v") {
		fmt.Fprintln(stdout, version)
		return 0
	}
	if has(args, "--help", "-h") {
		fmt.Fprintln(stdout, usage)
		return 0
	}
	fmt.Fprintln(stderr, "Unknown option")
	return 1
}

func has(args []string, names ...string) bool {
	for _, arg := range args {
		for _, name := range names {
			if arg == name {
				return true
			}
		}
	}
	return false
}
