// The main package for the harvester executable.
package main

import (
	"os"

	"github.com/JakeFAU/replica-harvester/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	os.Exit(cmd.Execute())
}
