// Package main is the kaizen CLI entry point.
package main

import (
	"os"

	"github.com/hyperjump/kaizen/cmd/kaizen/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
