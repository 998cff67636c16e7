// cmd/agrosense/main.go

package main

import (
	"os"

	"github.com/VictorHono/agrosense-ai-sub001/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
