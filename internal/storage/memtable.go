package storage

import (
	"github.com/adred-codev/kvmesh/internal/pb"
	"github.com/adred-codev/kvmesh/internal/shardmap"
)

// MemTable is the in-memory Storage backend: a sharded map of table
// names to tables, each table itself a sharded map of keys to values.
// Volatile — nothing survives a process restart (spec.md Non-goals).
type MemTable struct {
	tables *shardmap.Map[*shardmap.Map[pb.Value]]
}

func NewMemTable() *MemTable {
	return &MemTable{tables: shardmap.New[*shardmap.Map[pb.Value]]()}
}

func (m *MemTable) table(name string, create bool) (*shardmap.Map[pb.Value], bool) {
	if !create {
		return m.tables.Load(name)
	}
	t := m.tables.GetOrCreate(name, func() *shardmap.Map[pb.Value] {
		return shardmap.New[pb.Value]()
	})
	return t, true
}

func (m *MemTable) Get(table, key string) (pb.Value, bool) {
	t, ok := m.table(table, false)
	if !ok {
		return pb.Value{}, false
	}
	return t.Load(key)
}

func (m *MemTable) Set(table, key string, value pb.Value) (pb.Value, bool) {
	t, _ := m.table(table, true)
	return t.Store(key, value)
}

func (m *MemTable) Del(table, key string) (pb.Value, bool) {
	t, ok := m.table(table, false)
	if !ok {
		return pb.Value{}, false
	}
	return t.Delete(key)
}

func (m *MemTable) Contains(table, key string) bool {
	t, ok := m.table(table, false)
	if !ok {
		return false
	}
	return t.Contains(key)
}

func (m *MemTable) GetAll(table string) []pb.KvPair {
	t, ok := m.table(table, false)
	if !ok {
		return nil
	}
	snap := t.Snapshot()
	out := make([]pb.KvPair, 0, len(snap))
	for k, v := range snap {
		out = append(out, pb.KvPair{Key: k, Value: v})
	}
	return out
}

// GetIter detaches from the live map by taking the same snapshot GetAll
// does, then streaming it over a channel (spec.md "a cloned snapshot to
// detach iteration from the live map").
func (m *MemTable) GetIter(table string) <-chan pb.KvPair {
	ch := make(chan pb.KvPair)
	pairs := m.GetAll(table)
	go func() {
		defer close(ch)
		for _, p := range pairs {
			ch <- p
		}
	}()
	return ch
}

var _ Storage = (*MemTable)(nil)
