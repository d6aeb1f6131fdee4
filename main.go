package main

import (
	"os"

	"pearchat/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
