package main

import (
	"fmt"
	"os"

	"evdetect/cmd/evdctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
