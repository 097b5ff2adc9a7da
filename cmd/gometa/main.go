package main

import (
	"fmt"
	"os"

	"github.com/divyamanohar-stripe/datahub/cmd/gometa/commands"
	"github.com/divyamanohar-stripe/datahub/logger"
)

func main() {
	err := commands.NewRootCmd().Execute()
	logger.Cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
