// Package testutil provides in-memory transport fakes and image fixtures
// for pipeline tests. Nothing here reaches the network.
package testutil
