package main

import (
	"os"

	"github.com/punchamoorthee/transferval/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
