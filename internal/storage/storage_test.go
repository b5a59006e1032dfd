package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adred-codev/kvmesh/internal/pb"
	"github.com/adred-codev/kvmesh/internal/storage"
)

func backends(t *testing.T) map[string]storage.Storage {
	dir := t.TempDir()
	disk, err := storage.OpenDiskKV(filepath.Join(dir, "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = disk.Close() })
	return map[string]storage.Storage{
		"memtable": storage.NewMemTable(),
		"diskkv":   disk,
	}
}

func TestSetGetDelRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			v1 := pb.StringValue("v1")
			prior, had := s.Set("t1", "k1", v1)
			require.False(t, had)
			require.True(t, prior.IsNull())

			got, ok := s.Get("t1", "k1")
			require.True(t, ok)
			require.True(t, got.Equal(v1))
			require.True(t, s.Contains("t1", "k1"))

			v2 := pb.StringValue("v2")
			prior, had = s.Set("t1", "k1", v2)
			require.True(t, had)
			require.True(t, prior.Equal(v1))

			last, had := s.Del("t1", "k1")
			require.True(t, had)
			require.True(t, last.Equal(v2))
			require.False(t, s.Contains("t1", "k1"))
		})
	}
}

func TestMissingReadsAreNotErrors(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok := s.Get("absent-table", "absent-key")
			require.False(t, ok)

			_, had := s.Del("absent-table", "absent-key")
			require.False(t, had)

			require.False(t, s.Contains("absent-table", "absent-key"))
			require.Empty(t, s.GetAll("absent-table"))
		})
	}
}

func TestGetAllAndIterSnapshot(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s.Set("t", "a", pb.IntegerValue(1))
			s.Set("t", "b", pb.IntegerValue(2))
			s.Set("t", "c", pb.IntegerValue(3))

			all := s.GetAll("t")
			require.Len(t, all, 3)

			seen := map[string]bool{}
			for p := range s.GetIter("t") {
				seen[p.Key] = true
			}
			require.Len(t, seen, 3)
		})
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := storage.NewMemTable()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				s.Set("t", "k", pb.IntegerValue(int64(i*100+j)))
				s.Get("t", "k")
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	_, ok := s.Get("t", "k")
	require.True(t, ok)
}
