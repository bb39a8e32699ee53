// Package main is the entry point for simulationd, the cascade simulation
// kernel's server process.
package main

import (
	"os"

	"github.com/kpernyer/living-twin-simulation-sub000/cmd/simulationd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
