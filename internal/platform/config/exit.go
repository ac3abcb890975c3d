package config

import (
	"fmt"
	"os"
)

// Exitf prints the formatted message to stderr and terminates the
// process with exit code 1. Entry points use it for failures that occur
// before logging is configured, such as bad flags.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
