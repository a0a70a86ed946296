package main

import (
	"os"

	"github.com/spire-labs/poc-monorepo/cmd"
)

func main() {
	if err := cmd.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
