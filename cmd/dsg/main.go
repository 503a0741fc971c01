// Command dsg is the CLI front end for the data sync engine.
package main

import (
	"os"

	"github.com/hrdag/dsg/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
