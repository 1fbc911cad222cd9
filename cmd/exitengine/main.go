package main

import (
	"os"

	"github.com/rustyeddy/exitengine/cmd/exitengine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
