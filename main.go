package main

import (
	"os"

	"github.com/brettviren/generaldomo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}