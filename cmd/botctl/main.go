// Package main is botctl, the operator CLI for the bot pipeline.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
