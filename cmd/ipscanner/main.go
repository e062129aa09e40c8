// Command ipscanner scans IP ranges from the command line or runs as an
// HTTP service.
package main

import "github.com/homiodev/addon-ipscanner/cmd/cli"

// Build information, set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
