// Package main is the sqlbox operator CLI.
//
// It runs the same engine as the MCP server against the configured stores,
// for provisioning sandboxes by hand, replaying submissions and inspecting
// the attempt log.
package main

import "os"

func main() {
	os.Exit(Execute())
}
