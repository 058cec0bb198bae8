// Command multirunner launches a pool of worker processes, feeds them a
// line-delimited JSON input stream, and writes their results back out.
package main

import (
	"os"

	"github.com/tjper/multirunner/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
