// Command perswayctl replays, migrates, inspects and exports behavior profiles
// against the configured metafield store.
package main

import (
	"os"

	"github.com/rpattn/persway/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
