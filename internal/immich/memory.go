package immich

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"
)

// inMemoryCache is a rwClient for storing and retrieving asset content
// in-memory. Entries are evicted least-recently-used first once the stored
// bytes exceed the configured size.
type inMemoryCache struct {
	*lru.Cache[string, *Content]
	conf InMemoryConfig

	// mu is held around every call that can evict, so bytes stays in step
	// with the cache contents. onEvict relies on it.
	mu       sync.Mutex
	maxBytes uint64
	bytes    uint64
}

// GetContent attempts to retrieve the content from the cache. An error is
// returned if the data is not available.
func (i *inMemoryCache) GetContent(id AssetID, size Size) (*Content, error) {
	content, ok := i.Get(contentKey(id, size))
	if !ok {
		return nil, errors.New("not found")
	}
	return content, nil
}

// StoreContent writes the content to the cache, evicting older entries to stay
// within the configured size.
func (i *inMemoryCache) StoreContent(id AssetID, size Size, content *Content) error {
	n := uint64(len(content.Data))
	if n > i.maxBytes {
		return fmt.Errorf("content of %s exceeds cache size %s",
			humanize.Bytes(n), humanize.Bytes(i.maxBytes))
	}
	key := contentKey(id, size)

	i.mu.Lock()
	defer i.mu.Unlock()
	i.Remove(key)
	for i.bytes+n > i.maxBytes {
		if _, _, ok := i.RemoveOldest(); !ok {
			break
		}
	}
	i.Add(key, content)
	i.bytes += n
	return nil
}

// Contains reports whether the rendition is cached without updating recency.
func (i *inMemoryCache) Contains(id AssetID, size Size) bool {
	return i.Cache.Contains(contentKey(id, size))
}

// Usage reports the number of cached renditions and their total size.
func (i *inMemoryCache) Usage() (int, uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.Len(), i.bytes
}

// onEvict keeps the byte count in step. i.mu must be held.
func (i *inMemoryCache) onEvict(_ string, content *Content) {
	i.bytes -= uint64(len(content.Data))
}

// contentKey is a helper function for generating cache keys.
func contentKey(id AssetID, size Size) string { return fmt.Sprintf("asset-%s-%s", id, size) }

// newInMemoryCacheClient initializes an [inMemoryCache] client.
func newInMemoryCacheClient(conf InMemoryConfig) *inMemoryCache {
	maxBytes := uint64(conf.InMemoryCacheSize)
	if maxBytes == 0 {
		maxBytes, _ = humanize.ParseBytes("256 MB")
	}
	// Bound the entry count generously; the byte budget does the real work.
	avgThumbnailSize, _ := humanize.ParseBytes("50 kB")
	maxEntries := 1
	if n := maxBytes / avgThumbnailSize; n > 0 {
		maxEntries = int(n)
	}
	i := &inMemoryCache{conf: conf, maxBytes: maxBytes}
	l, _ := lru.NewWithEvict[string, *Content](maxEntries, i.onEvict)
	i.Cache = l
	return i
}
