package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const generationKey = "ncr:gen"

// TicketCache stores JSON-encoded read models under the current generation.
// Backend errors degrade to misses and are logged, never returned.
type TicketCache struct {
	store Store
	ttl   time.Duration
}

// NewTicketCache builds a cache over store. ttl bounds how long an entry may
// live even when no mutation happens.
func NewTicketCache(store Store, ttl time.Duration) *TicketCache {
	return &TicketCache{store: store, ttl: ttl}
}

func (c *TicketCache) generation(ctx context.Context) (int64, error) {
	raw, ok, err := c.store.Get(ctx, generationKey)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

// Slot is the place a cache miss may be filled: the entry name under the
// generation Load observed. Saving into a Slot after an Invalidate writes to
// a dead generation, so a snapshot read before a mutation can never be served
// after it. The zero Slot is never written.
type Slot struct {
	key string
}

func entryKey(gen int64, name string) string {
	return fmt.Sprintf("ncr:v%d:%s", gen, name)
}

// Load decodes the entry name into dst and reports whether it was present.
// On a miss the returned Slot is where Save must put the value read from the
// store.
func (c *TicketCache) Load(ctx context.Context, name string, dst any) (Slot, bool) {
	if c == nil {
		return Slot{}, false
	}
	gen, err := c.generation(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("cache generation read failed")
		return Slot{}, false
	}
	k := entryKey(gen, name)
	raw, ok, err := c.store.Get(ctx, k)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", k).Msg("cache get failed")
		return Slot{key: k}, false
	}
	if !ok {
		return Slot{key: k}, false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", k).Msg("cache entry undecodable")
		return Slot{key: k}, false
	}
	return Slot{key: k}, true
}

// Save stores v in slot. It never re-reads the generation.
func (c *TicketCache) Save(ctx context.Context, slot Slot, v any) {
	if c == nil || slot.key == "" {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, slot.key, raw, c.ttl); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", slot.key).Msg("cache set failed")
	}
}

// Invalidate makes every existing entry unreachable.
func (c *TicketCache) Invalidate(ctx context.Context) error {
	if c == nil {
		return nil
	}
	_, err := c.store.Incr(ctx, generationKey)
	return err
}
