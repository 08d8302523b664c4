// The main package for the policysearch executable.
package main

import (
	"github.com/dumbsheep1990/policy-search-engine/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
