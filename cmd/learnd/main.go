// Command learnd runs the learnhub course server.
package main

import (
	"os"

	"github.com/learnhub/courses/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Errorf("%v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}
