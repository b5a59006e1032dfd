// Package storage implements the table->key->value abstraction of
// spec.md §4.2: a Storage interface with two concrete backends, MemTable
// and DiskKV.
package storage

import "github.com/adred-codev/kvmesh/internal/pb"

// Storage is the contract every backend satisfies. All methods must be
// safe to call concurrently from many goroutines without external
// synchronization. Missing tables behave as empty and are auto-created on
// first write; reads of an absent table or key return ok=false, never an
// error.
type Storage interface {
	Get(table, key string) (pb.Value, bool)
	Set(table, key string, value pb.Value) (prior pb.Value, hadPrior bool)
	Del(table, key string) (prior pb.Value, hadPrior bool)
	Contains(table, key string) bool
	GetAll(table string) []pb.KvPair
	// GetIter returns a channel over a snapshot of table's contents,
	// detached from any concurrent mutation that follows the call.
	GetIter(table string) <-chan pb.KvPair
}
