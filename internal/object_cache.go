package internal

import (
	"sync"

	"github.com/lychee-technology/chfdw"
)

// ObjectCache memoizes function and type classifications by oid. Entries are write-once
// and are never invalidated.
type ObjectCache struct {
	mu      sync.RWMutex
	entries map[chfdw.Oid]chfdw.ClassifiedObject
}

// NewObjectCache creates an empty cache sized for the given number of entries.
func NewObjectCache(sizeHint int) *ObjectCache {
	return &ObjectCache{
		entries: make(map[chfdw.Oid]chfdw.ClassifiedObject, sizeHint),
	}
}

// Lookup returns the stored classification for id.
func (c *ObjectCache) Lookup(id chfdw.Oid) (chfdw.ClassifiedObject, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.entries[id]
	return obj, ok
}

// Insert stores obj unless its id is already present and returns the value held by the
// cache afterwards.
func (c *ObjectCache) Insert(obj chfdw.ClassifiedObject) chfdw.ClassifiedObject {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[obj.ObjectID]; ok {
		return existing
	}
	c.entries[obj.ObjectID] = obj
	return obj
}

// Len returns the number of cached classifications.
func (c *ObjectCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
