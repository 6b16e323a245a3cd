package main

import (
	"os"
	"runtime"

	"simfinder/cmd"
	"simfinder/signalhandler"
)

func main() {
	runtime.GOMAXPROCS(signalhandler.GetOptimalProcs())

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
