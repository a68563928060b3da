// Package main is the entry point for the ZIA gateway.
package main

import (
	"os"

	"github.com/ireland-samantha/zia-gateway/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
