package main

import (
	"os"

	"github.com/romashorodok/room-coordinator/cmd/room-coordinator/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
