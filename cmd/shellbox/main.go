package main

import (
	"os"

	"github.com/hkuds/shellbox/cmd/shellbox/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
