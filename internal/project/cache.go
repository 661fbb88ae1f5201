package project

import (
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a bounded in-process cache of project metadata. Storage rows are
// the source of truth; every project mutation must invalidate its entry.
type Cache struct {
	entries *lru.Cache[uuid.UUID, *Metadata]
}

// NewCache creates a metadata cache holding at most size entries.
func NewCache(size int) (*Cache, error) {
	entries, err := lru.New[uuid.UUID, *Metadata](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries}, nil
}

// Get returns the cached metadata for id, if present.
func (c *Cache) Get(id uuid.UUID) (*Metadata, bool) {
	return c.entries.Get(id)
}

// Put stores metadata in the cache.
func (c *Cache) Put(m *Metadata) {
	c.entries.Add(m.ID, m)
}

// Invalidate drops the entry for id.
func (c *Cache) Invalidate(id uuid.UUID) {
	c.entries.Remove(id)
}
