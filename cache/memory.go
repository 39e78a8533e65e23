package cache

import (
	"sort"
	"sync"
)

// MemStorage keeps all partitions in process memory.
type MemStorage struct {
	mutex      *sync.RWMutex
	partitions map[string]*memPartition
	created    *int
}

type memPartition struct {
	name    string
	mutex   *sync.RWMutex
	seq     int
	deleted bool
	entries map[string]CacheEntry
	order   []string
}

func NewMemStorage() MemStorage {
	return MemStorage{
		mutex:      &sync.RWMutex{},
		partitions: make(map[string]*memPartition),
		created:    new(int),
	}
}

func (m MemStorage) Open(name string) (Partition, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if p, ok := m.partitions[name]; ok {
		return p, nil
	}
	*m.created++
	p := &memPartition{
		name:    name,
		mutex:   m.mutex,
		seq:     *m.created,
		entries: make(map[string]CacheEntry),
	}
	m.partitions[name] = p
	return p, nil
}

func (m MemStorage) Has(name string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.partitions[name]
	return ok, nil
}

func (m MemStorage) Keys() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	partitions := make([]*memPartition, 0, len(m.partitions))
	for _, p := range m.partitions {
		partitions = append(partitions, p)
	}
	sort.Slice(partitions, func(i, j int) bool {
		return partitions[i].seq < partitions[j].seq
	})
	names := make([]string, len(partitions))
	for i, p := range partitions {
		names[i] = p.name
	}
	return names, nil
}

func (m MemStorage) Delete(name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	p, ok := m.partitions[name]
	if !ok {
		return false, nil
	}
	p.deleted = true
	p.entries = make(map[string]CacheEntry)
	p.order = nil
	delete(m.partitions, name)
	return true, nil
}

func (p *memPartition) Name() string {
	return p.name
}

func (p *memPartition) Match(key string) (CacheEntry, bool, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	entry, ok := p.entries[key]
	return entry, ok, nil
}

func (p *memPartition) Put(entry CacheEntry) error {
	return p.PutAll([]CacheEntry{entry})
}

func (p *memPartition) PutAll(entries []CacheEntry) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.deleted {
		return ErrPartitionDeleted
	}
	for _, entry := range entries {
		if _, ok := p.entries[entry.Key]; !ok {
			p.order = append(p.order, entry.Key)
		}
		p.entries[entry.Key] = entry
	}
	return nil
}

func (p *memPartition) Delete(key string) (bool, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if _, ok := p.entries[key]; !ok {
		return false, nil
	}
	delete(p.entries, key)
	for i, k := range p.order {
		if k == key {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (p *memPartition) Keys() ([]string, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return append([]string(nil), p.order...), nil
}
