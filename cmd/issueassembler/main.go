package main

import (
	"os"

	"IssueAssembler/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
