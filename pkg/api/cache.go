package api

import (
	"context"
	"errors"
	"time"
)

var (
	errCacheDisabled = errors.New("cache disabled")
	errCacheStopped  = errors.New("cache stopped")
)

// cacheOp is the single message type flowing into the cache goroutine.
// A lookup carries a loader; an invalidation carries neither loader nor
// reply and just clears the store.
type cacheOp struct {
	ctx        context.Context
	key        string
	loader     func(context.Context) ([]byte, error)
	invalidate bool
	reply      chan cacheReply
}

type cacheReply struct {
	data []byte
	err  error
}

type cacheEntry struct {
	data    []byte
	expires time.Time
}

// responseCache keeps rendered list and detail responses in memory so
// repeated reads within the TTL skip the database. All state lives inside
// one goroutine, so plain maps suffice and no mutex is needed. Imports
// call Invalidate so a fresh activity shows up on the next read.
type responseCache struct {
	ttl  time.Duration
	ops  chan cacheOp
	quit chan struct{}
	now  func() time.Time
}

// newResponseCache starts the cache goroutine. A zero or negative TTL
// returns nil, and a nil cache is a valid always-miss cache.
func newResponseCache(ttl time.Duration) *responseCache {
	if ttl <= 0 {
		return nil
	}
	c := &responseCache{
		ttl:  ttl,
		ops:  make(chan cacheOp),
		quit: make(chan struct{}),
		now:  time.Now,
	}
	go c.loop()
	return c
}

// Close stops the cache goroutine. Safe to call more than once.
func (c *responseCache) Close() {
	if c == nil {
		return
	}
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
}

// Get returns the cached bytes under key, loading and storing them on a
// miss. The returned slice is a copy: callers may modify it freely.
func (c *responseCache) Get(ctx context.Context, key string, loader func(context.Context) ([]byte, error)) ([]byte, error) {
	if c == nil {
		return nil, errCacheDisabled
	}
	op := cacheOp{ctx: ctx, key: key, loader: loader, reply: make(chan cacheReply, 1)}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.quit:
		return nil, errCacheStopped
	case c.ops <- op:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.quit:
		return nil, errCacheStopped
	case reply := <-op.reply:
		if reply.err != nil {
			return nil, reply.err
		}
		buf := make([]byte, len(reply.data))
		copy(buf, reply.data)
		return buf, nil
	}
}

// Invalidate drops every cached entry. Called after a successful import,
// when any list or detail response may be stale.
func (c *responseCache) Invalidate() {
	if c == nil {
		return
	}
	select {
	case <-c.quit:
	case c.ops <- cacheOp{invalidate: true}:
	}
}

func (c *responseCache) loop() {
	store := make(map[string]cacheEntry)
	for {
		select {
		case <-c.quit:
			return
		case op := <-c.ops:
			if op.invalidate {
				store = make(map[string]cacheEntry)
				continue
			}
			now := c.now()
			if entry, ok := store[op.key]; ok && now.Before(entry.expires) {
				op.reply <- cacheReply{data: entry.data}
				continue
			}
			data, err := op.loader(op.ctx)
			if err == nil {
				buf := make([]byte, len(data))
				copy(buf, data)
				store[op.key] = cacheEntry{data: buf, expires: now.Add(c.ttl)}
			} else {
				delete(store, op.key)
			}
			op.reply <- cacheReply{data: data, err: err}
		}
	}
}
