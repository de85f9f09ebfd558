// Command neverdown is the entrypoint for the incident remediation service.
package main

import (
	"os"

	"github.com/neverdownhq/neverdown/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
