package monitor

import (
	"encoding/json"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// responseCache caches marshaled monitoring documents with a TTL so
// dashboard polling does not hit the store on every request. Values are
// stored as JSON bytes; the byte length is the cache cost.
type responseCache struct {
	c   *ristretto.Cache[string, []byte]
	ttl time.Duration
}

// newResponseCache creates the cache. A zero TTL or byte budget
// disables caching entirely (a nil cache misses on every lookup).
func newResponseCache(maxBytes int64, ttl time.Duration) (*responseCache, error) {
	if maxBytes <= 0 || ttl <= 0 {
		return nil, nil
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &responseCache{c: c, ttl: ttl}, nil
}

// get unmarshals a cached document into v. Misses on a nil cache.
func (rc *responseCache) get(key string, v any) bool {
	if rc == nil {
		return false
	}
	data, ok := rc.c.Get(key)
	if !ok {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// put stores a document. Marshal failures drop the entry silently; the
// next lookup recomputes.
func (rc *responseCache) put(key string, v any) {
	if rc == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	rc.c.SetWithTTL(key, data, int64(len(data)), rc.ttl)
}

func (rc *responseCache) close() {
	if rc != nil {
		rc.c.Close()
	}
}
