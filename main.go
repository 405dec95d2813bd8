package main

import (
	"os"

	"github.com/SabrinaJewson/ghmd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
