// Package main is the entry point for the backlog-sync CLI.
package main

import "backlogsync/internal/cmd"

// version is set at build time using -ldflags.
var version = "dev"

func main() {
	cmd.Execute(version)
}
