// Package main is the single-binary entrypoint for bfqd.
package main

import "github.com/bfqcore/bfqd/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
