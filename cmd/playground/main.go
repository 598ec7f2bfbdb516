// Command playground drives the playground flows from a terminal.
package main

import (
	"os"

	"github.com/ParleSec/KeycloakPlayground/cmd/playground/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
