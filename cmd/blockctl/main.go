package main

import (
	"fmt"
	"os"

	"github.com/e2b-dev/infra/packages/block-transfer/cmd/blockctl/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
