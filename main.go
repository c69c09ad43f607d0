package main

import (
	"os"

	"github.com/gregLibert/smartcard-middleware/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
