package main

import (
	"fmt"
	"os"

	"github.com/bookchain/bookchaind/infrastructure/logger"
)

var log = logger.RegisterSubSystem("BKCD")

func initLog(logFile, logLevel string) {
	level, ok := logger.LevelFromString(logLevel)
	if !ok {
		fmt.Fprintf(os.Stderr, "Invalid log level %s\n", logLevel)
		os.Exit(1)
	}
	err := logger.InitLog(logFile, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %+v\n", err)
		os.Exit(1)
	}
	err = logger.SetLogLevels(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting log levels: %+v\n", err)
		os.Exit(1)
	}
}
