package main

import (
	"os"

	"github.com/eventloom-io/eventloom/cmd/loomctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
