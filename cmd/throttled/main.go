// Package main is the entry point for the throttle service and CLI.
package main

import "github.com/palmkit/throttle/cmd/throttled/cmd"

func main() {
	cmd.Execute()
}
