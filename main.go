package main

import (
	"fmt"
	"os"

	"github.com/scarfbench/scarf/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "scarf: %v\n", err)
		os.Exit(cmd.ExitCode(err))
	}
}
