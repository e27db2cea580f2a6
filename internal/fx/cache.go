package fx

import (
	"context"
	"sync"
	"time"

	"github.com/fxwallet/wallet-engine/internal/model"
)

// Cache is the hot tier of the rate pipeline. Entries are immutable once
// written and overwritten wholesale on refresh; a hit is returned verbatim,
// including the freshness metadata recorded at write time.
type Cache interface {
	Get(ctx context.Context, source, dest model.Currency) (*model.RateQuote, bool)
	Put(ctx context.Context, quote *model.RateQuote)
}

// MemoryCache implements Cache with an in-process map. Used for testing and
// for running without Redis.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[pairKey]memoryEntry

	now func() time.Time
}

type pairKey struct {
	source model.Currency
	dest   model.Currency
}

type memoryEntry struct {
	quote    model.RateQuote
	storedAt time.Time
}

// NewMemoryCache creates an in-process rate cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[pairKey]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, source, dest model.Currency) (*model.RateQuote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[pairKey{source: source, dest: dest}]
	if !ok || c.now().Sub(e.storedAt) > c.ttl {
		return nil, false
	}
	quote := e.quote
	return &quote, true
}

func (c *MemoryCache) Put(_ context.Context, quote *model.RateQuote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[pairKey{source: quote.Source, dest: quote.Dest}] = memoryEntry{
		quote:    *quote,
		storedAt: c.now(),
	}
}
