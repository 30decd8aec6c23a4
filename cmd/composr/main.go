package main

import (
	"os"

	"github.com/joeydtaylor/composr/cmd/composr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
