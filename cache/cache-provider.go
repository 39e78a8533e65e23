package cache

import (
	"errors"
	"time"
)

// Storage is the cache storage provided by the host:
// a set of named partitions, each holding serialized responses by key.
//
// Implementations must be thread-safe!
type Storage interface {
	// Open returns a handle to the named partition.
	// The partition is listed by Keys from then on, even if it stays empty.
	Open(name string) (Partition, error)
	// Has reports whether a partition with the given name exists.
	Has(name string) (bool, error)
	// Keys returns the names of all partitions in creation order.
	Keys() ([]string, error)
	// Delete removes the named partition and all its entries.
	// It returns false if the partition did not exist.
	Delete(name string) (bool, error)
}

// Partition is a named bucket of stored responses.
type Partition interface {
	// Name returns the partition name.
	Name() string
	// Match returns the entry stored under the given key.
	// The boolean is false if there is no such entry.
	Match(key string) (CacheEntry, bool, error)
	// Put stores an entry, replacing any entry with the same key.
	Put(entry CacheEntry) error
	// PutAll stores all entries or none of them.
	PutAll(entries []CacheEntry) error
	// Delete removes the entry for the given key.
	// It returns false if there was no such entry.
	Delete(key string) (bool, error)
	// Keys returns the keys of all entries in insertion order.
	Keys() ([]string, error)
}

type CacheEntry struct {
	Key      string
	StoredAt time.Time
	Bytes    []byte
}

// ErrPartitionDeleted is returned when writing through a handle whose partition was deleted.
var ErrPartitionDeleted = errors.New("cache partition deleted")
