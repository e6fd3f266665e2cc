package main

import (
	"os"

	"batchqa/cmd/batchqa/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
