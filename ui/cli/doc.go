// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.
//
// Package cli implements the netkeeper command line using Cobra. Commands
// load configuration, wire the store, allocator, key generator and peer
// controller, and delegate every operation to the core provisioner.
package cli
