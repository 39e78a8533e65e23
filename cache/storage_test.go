package cache

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStorage(t *testing.T) SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func storages(t *testing.T) map[string]Storage {
	return map[string]Storage{
		"memory": NewMemStorage(),
		"sqlite": newSQLiteStorage(t),
	}
}

func entry(key, body string) CacheEntry {
	return CacheEntry{Key: key, StoredAt: time.Unix(1700000000, 0), Bytes: []byte(body)}
}

func TestPartitionLifecycle(t *testing.T) {
	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			has, err := s.Has("static-cache-v1")
			require.NoError(t, err)
			assert.False(t, has)

			p, err := s.Open("static-cache-v1")
			require.NoError(t, err)
			assert.Equal(t, "static-cache-v1", p.Name())

			has, err = s.Has("static-cache-v1")
			require.NoError(t, err)
			assert.True(t, has)

			_, err = s.Open("api-cache-v1")
			require.NoError(t, err)
			// opening again returns the same partition
			_, err = s.Open("static-cache-v1")
			require.NoError(t, err)

			names, err := s.Keys()
			require.NoError(t, err)
			assert.Equal(t, []string{"static-cache-v1", "api-cache-v1"}, names)

			deleted, err := s.Delete("static-cache-v1")
			require.NoError(t, err)
			assert.True(t, deleted)
			deleted, err = s.Delete("static-cache-v1")
			require.NoError(t, err)
			assert.False(t, deleted)

			names, err = s.Keys()
			require.NoError(t, err)
			assert.Equal(t, []string{"api-cache-v1"}, names)
		})
	}
}

func TestPartitionEntries(t *testing.T) {
	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			p, err := s.Open("portfolio-cache-v1")
			require.NoError(t, err)

			_, ok, err := p.Match("GET:http://localhost/")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, p.Put(entry("GET:http://localhost/", "first")))
			require.NoError(t, p.Put(entry("GET:http://localhost/manifest.json", "manifest")))
			require.NoError(t, p.Put(entry("GET:http://localhost/", "second")))

			ce, ok, err := p.Match("GET:http://localhost/")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "second", string(ce.Bytes))
			assert.True(t, ce.StoredAt.Equal(time.Unix(1700000000, 0)))

			// overwriting keeps the insertion position
			keys, err := p.Keys()
			require.NoError(t, err)
			assert.Equal(t, []string{"GET:http://localhost/", "GET:http://localhost/manifest.json"}, keys)

			deleted, err := p.Delete("GET:http://localhost/")
			require.NoError(t, err)
			assert.True(t, deleted)
			deleted, err = p.Delete("GET:http://localhost/")
			require.NoError(t, err)
			assert.False(t, deleted)
		})
	}
}

func TestPartitionsAreIsolated(t *testing.T) {
	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			a, _ := s.Open("a")
			b, _ := s.Open("b")
			require.NoError(t, a.Put(entry("k", "a")))
			_, ok, err := b.Match("k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestDeletedPartitionDropsEntries(t *testing.T) {
	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			old, _ := s.Open("portfolio-cache-v0")
			require.NoError(t, old.PutAll([]CacheEntry{entry("k1", "1"), entry("k2", "2")}))
			_, err := s.Delete("portfolio-cache-v0")
			require.NoError(t, err)

			assert.ErrorIs(t, old.Put(entry("k3", "3")), ErrPartitionDeleted)

			reopened, _ := s.Open("portfolio-cache-v0")
			keys, err := reopened.Keys()
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestConcurrentPuts(t *testing.T) {
	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			p, _ := s.Open("api-cache-v1")
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, p.Put(entry(string(rune('a'+i)), "x")))
				}(i)
			}
			wg.Wait()
			keys, err := p.Keys()
			require.NoError(t, err)
			assert.Len(t, keys, 20)
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "cache.db")
	s, err := NewSQLiteStorage(filename)
	require.NoError(t, err)
	p, _ := s.Open("static-cache-v1")
	require.NoError(t, p.Put(entry("GET:http://localhost/favicon.ico", "icon")))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStorage(filename)
	require.NoError(t, err)
	defer s.Close()
	p, _ = s.Open("static-cache-v1")
	ce, ok, err := p.Match("GET:http://localhost/favicon.ico")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "icon", string(ce.Bytes))
}

func TestSQLiteMemoryStoragesAreIsolated(t *testing.T) {
	first, err := NewSQLiteStorage("")
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })
	_, err = first.Open("portfolio-cache-v1")
	require.NoError(t, err)

	second, err := NewSQLiteStorage("")
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })
	names, err := second.Keys()
	require.NoError(t, err)
	assert.Empty(t, names)

	names, err = first.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"portfolio-cache-v1"}, names)
}
