package main

import (
	"os"

	"github.com/relabs-tech/car_tracker/internal/cli"
	"github.com/relabs-tech/car_tracker/internal/logger"
)

func main() {
	if err := cli.Execute(); err != nil {
		logger.New("main").Errorf("fatal: %v", err)
		os.Exit(1)
	}
}
