package persistence

import (
	"context"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/types"
)

// CachedPersist keeps the size most recent messages of the most recently used rooms in memory. History queries
// with a limit up to size are served from the cache, everything else goes to the wrapped persister.
type CachedPersist struct {
	Persister
	size  int
	cache *lru.Cache // room -> []*types.Message, ascending, immutable once added

	// gens counts the appends per room. A history result is only put into the cache if no append to the room
	// happened while it was fetched.
	gens map[string]uint64

	sync.Mutex
}

func NewCachedPersister(p Persister, rooms, size int) (*CachedPersist, error) {
	cache, err := lru.New(rooms)
	if err != nil {
		return nil, err
	}
	return &CachedPersist{
		Persister: p,
		size:      size,
		cache:     cache,
		gens:      make(map[string]uint64),
	}, nil
}

func (c *CachedPersist) StoreMessage(ctx context.Context, room, author, body string) (*types.Message, error) {
	msg, err := c.Persister.StoreMessage(ctx, room, author, body)
	if err != nil {
		return nil, err
	}
	c.Lock()
	defer c.Unlock()
	c.gens[room]++
	if v, ok := c.cache.Get(room); ok {
		c.cache.Add(room, insertMessage(v.([]*types.Message), msg, c.size))
	}
	return msg, nil
}

func (c *CachedPersist) GetMessageHistory(ctx context.Context, room string, limit int) ([]*types.Message, error) {
	limit = normalizeLimit(limit)
	if limit > c.size {
		return c.Persister.GetMessageHistory(ctx, room, limit)
	}
	c.Lock()
	if v, ok := c.cache.Get(room); ok {
		c.Unlock()
		return tail(v.([]*types.Message), limit), nil
	}
	gen := c.gens[room]
	c.Unlock()

	messages, err := c.Persister.GetMessageHistory(ctx, room, c.size)
	if err != nil {
		return nil, err
	}
	c.Lock()
	if c.gens[room] == gen {
		c.cache.Add(room, messages)
	} else {
		globals.AppLogger.Trace("history changed while loading, not caching", "room", room)
	}
	c.Unlock()
	return tail(messages, limit), nil
}

// tail returns a copy of the last n messages.
func tail(messages []*types.Message, n int) []*types.Message {
	if n > len(messages) {
		n = len(messages)
	}
	res := make([]*types.Message, n)
	copy(res, messages[len(messages)-n:])
	return res
}

// insertMessage returns a new slice with msg inserted at its timestamp position, keeping at most size messages.
func insertMessage(messages []*types.Message, msg *types.Message, size int) []*types.Message {
	i := sort.Search(len(messages), func(i int) bool {
		return messages[i].Timestamp.After(msg.Timestamp)
	})
	res := make([]*types.Message, 0, len(messages)+1)
	res = append(res, messages[:i]...)
	res = append(res, msg)
	res = append(res, messages[i:]...)
	if len(res) > size {
		res = res[len(res)-size:]
	}
	return res
}
