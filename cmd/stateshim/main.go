package main

import (
	"os"

	"github.com/davin/stateshim/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
