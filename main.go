// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for Netkeeper.
//
// Usage:
//
//	go run . [flags]
//	./netkeeper [flags]
//
// See --help for the available commands.
package main

import (
	"os"

	"github.com/toeirei/netkeeper/internal/logging"
	"github.com/toeirei/netkeeper/ui/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}
