// derivcore runs the parameter derivation and cross-validation pipeline.
package main

import (
	"os"

	"derivcore/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
