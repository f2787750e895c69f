package main

import (
	"os"

	"github.com/moolen/raid/cmd/raid/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
