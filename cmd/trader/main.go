package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"

	"alert-trader/internal/cli"
	"alert-trader/internal/logging"
)

func main() {
	logger := logging.NewLoggerWithConfig(logging.LogConfig{Level: "info", Console: true})

	if err := cli.NewRootCmd(logger).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}
