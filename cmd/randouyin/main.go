// Package main is the entry point for the randouyin CLI.
package main

import (
	"os"

	"github.com/jmylchreest/randouyin/cmd/randouyin/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
