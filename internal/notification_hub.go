package internal

import (
	"context"
	"sync"

	"github.com/lychee-technology/chfdw"
	"go.uber.org/zap"
)

type subscription struct {
	id      uint64
	handler chfdw.InvalidationHandler
}

// NotificationHub is an in-process chfdw.ChangeNotifier. Notify runs every handler
// subscribed to the change's cache inline, in subscription order, and stops at the first
// error.
type NotificationHub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[chfdw.CatalogCacheID][]subscription
}

// NewNotificationHub creates a hub with no subscribers.
func NewNotificationHub() *NotificationHub {
	return &NotificationHub{
		subs: make(map[chfdw.CatalogCacheID][]subscription),
	}
}

// Subscribe registers handler for changes of cacheID and returns a function removing it.
func (h *NotificationHub) Subscribe(cacheID chfdw.CatalogCacheID, handler chfdw.InvalidationHandler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.subs[cacheID] = append(h.subs[cacheID], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(cacheID, id) })
	}
}

func (h *NotificationHub) unsubscribe(cacheID chfdw.CatalogCacheID, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	current := h.subs[cacheID]
	kept := make([]subscription, 0, len(current))
	for _, s := range current {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	h.subs[cacheID] = kept
}

// Notify delivers change to its subscribers and returns once all of them have finished.
func (h *NotificationHub) Notify(ctx context.Context, change chfdw.CatalogChange) error {
	h.mu.Lock()
	handlers := make([]chfdw.InvalidationHandler, 0, len(h.subs[change.CacheID]))
	for _, s := range h.subs[change.CacheID] {
		handlers = append(handlers, s.handler)
	}
	h.mu.Unlock()

	for _, handler := range handlers {
		if err := handler(ctx, change); err != nil {
			zap.S().Errorw("invalidation handler failed",
				"cache_id", change.CacheID, "relid", change.RelationID, "err", err)
			return err
		}
	}
	return nil
}

// SubscriberCount returns the number of handlers registered for cacheID.
func (h *NotificationHub) SubscriberCount(cacheID chfdw.CatalogCacheID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[cacheID])
}
