package main

import (
	"os"

	"github.com/spigell/recruit-chat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
