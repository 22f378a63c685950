package main

import (
	"os"

	"github.com/duetlab/duetlab/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
