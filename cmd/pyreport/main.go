// Package main is the entry point for the pyreport CLI tool.
package main

import (
	"github.com/anthropics/pyreport/internal/cmd"
)

func main() {
	cmd.Execute()
}
