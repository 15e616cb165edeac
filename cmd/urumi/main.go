package main

import (
	"fmt"
	"os"

	"github.com/seantiz/urumi/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "urumi:", err)
		os.Exit(1)
	}
}
