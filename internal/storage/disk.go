package storage

import (
	"bytes"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/adred-codev/kvmesh/internal/errs"
	"github.com/adred-codev/kvmesh/internal/pb"
)

var dataBucket = []byte("kvmesh")

// DiskKV is the on-disk Storage backend, an embedded bbolt tree store.
// Keys are "table:key" inside one bucket; values serialize through
// internal/pb's wire encoding. Durability is whatever bbolt's own fsync
// policy provides (spec.md Non-goals: "the disk backend inherits its
// engine's guarantees").
type DiskKV struct {
	db *bolt.DB
}

// OpenDiskKV opens (creating if absent) a bbolt data file at path.
func OpenDiskKV(path string) (*DiskKV, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, &errs.StorageError{Op: "open", Detail: err.Error()}
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(dataBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, &errs.StorageError{Op: "init", Detail: err.Error()}
	}
	return &DiskKV{db: db}, nil
}

func (d *DiskKV) Close() error { return d.db.Close() }

func diskKey(table, key string) []byte {
	return []byte(fmt.Sprintf("%s:%s", table, key))
}

func (d *DiskKV) Get(table, key string) (pb.Value, bool) {
	var v pb.Value
	var found bool
	_ = d.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(dataBucket).Get(diskKey(table, key))
		if raw == nil {
			return nil
		}
		decoded, err := pb.UnmarshalValue(raw)
		if err != nil {
			return err
		}
		v, found = decoded, true
		return nil
	})
	return v, found
}

func (d *DiskKV) Set(table, key string, value pb.Value) (pb.Value, bool) {
	var prior pb.Value
	var hadPrior bool
	_ = d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(dataBucket)
		k := diskKey(table, key)
		if raw := b.Get(k); raw != nil {
			if decoded, err := pb.UnmarshalValue(raw); err == nil {
				prior, hadPrior = decoded, true
			}
		}
		return b.Put(k, value.Marshal(nil))
	})
	return prior, hadPrior
}

func (d *DiskKV) Del(table, key string) (pb.Value, bool) {
	var prior pb.Value
	var hadPrior bool
	_ = d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(dataBucket)
		k := diskKey(table, key)
		if raw := b.Get(k); raw != nil {
			if decoded, err := pb.UnmarshalValue(raw); err == nil {
				prior, hadPrior = decoded, true
			}
		}
		return b.Delete(k)
	})
	return prior, hadPrior
}

func (d *DiskKV) Contains(table, key string) bool {
	found := false
	_ = d.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(dataBucket).Get(diskKey(table, key)) != nil
		return nil
	})
	return found
}

func (d *DiskKV) GetAll(table string) []pb.KvPair {
	var out []pb.KvPair
	prefix := []byte(table + ":")
	_ = d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(dataBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			val, err := pb.UnmarshalValue(v)
			if err != nil {
				continue
			}
			out = append(out, pb.KvPair{Key: string(k[len(prefix):]), Value: val})
		}
		return nil
	})
	return out
}

func (d *DiskKV) GetIter(table string) <-chan pb.KvPair {
	ch := make(chan pb.KvPair)
	pairs := d.GetAll(table)
	go func() {
		defer close(ch)
		for _, p := range pairs {
			ch <- p
		}
	}()
	return ch
}

var _ Storage = (*DiskKV)(nil)
