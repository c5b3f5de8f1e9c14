// Command optikr runs and inspects the OptikR scheduling engine.
package main

import (
	"os"

	"github.com/OptikR/OptikR-sub005/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
