package config

import (
	"fmt"
	"os"
)

// Exitf reports a fatal startup error on stderr and stops the process with
// exit code 1. Command mains use it for configuration failures that happen
// before logging is set up.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
