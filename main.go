// driveman - multi-account cloud storage manager.
//
// Command-line client for the driveman backend: account listing, file
// search, reports, uploads, and a foreground scheduler mode (watch).
package main

import (
	"github.com/multiapi/driveman/internal/cli"
)

func main() {
	cli.Execute()
}
