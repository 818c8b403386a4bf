package main

import (
	"fmt"
	"os"

	"github.com/roach88/grantlink/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "grantlink: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
