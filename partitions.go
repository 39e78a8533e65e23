package offlinecache

import (
	"fmt"
)

// CacheNames returns the names of all partitions in the storage,
// including partitions of other versions not yet evicted.
func (a *Agent) CacheNames() ([]string, error) {
	return a.storage.Keys()
}

// CachedURLs returns the URLs of the responses stored in the named partition.
// The boolean is false if the partition does not exist.
func (a *Agent) CachedURLs(name string) ([]string, bool, error) {
	p, ok := a.openExisting(name)
	if !ok {
		return nil, false, nil
	}
	keys, err := p.Keys()
	if err != nil {
		return nil, true, fmt.Errorf("list %s: %w", name, err)
	}
	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		req, err := a.keyer.GetRequestFromKey(key)
		if err != nil {
			a.log.Warn().Err(err).Str("key", key).Msg("Skipping unknown key")
			continue
		}
		urls = append(urls, req.URL.String())
	}
	return urls, true, nil
}
