package main

import (
	"os"

	"github.com/dislink/dxp/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
