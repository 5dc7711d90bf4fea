package persistence

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/types"
)

// countingPersister counts the history queries which reach the backend.
type countingPersister struct {
	Persister
	queries int32
}

func (c *countingPersister) GetMessageHistory(ctx context.Context, room string, limit int) ([]*types.Message, error) {
	atomic.AddInt32(&c.queries, 1)
	return c.Persister.GetMessageHistory(ctx, room, limit)
}

func newCachedTestPersister(t *testing.T, rooms, size int) (*CachedPersist, *countingPersister) {
	backend := &countingPersister{Persister: newTestPersister(t, config.PersistenceConfig{Type: "buntdb", DSN: ":memory:"})}
	cached, err := NewCachedPersister(backend, rooms, size)
	require.NoError(t, err)
	return cached, backend
}

func bodies(messages []*types.Message) []string {
	res := make([]string, len(messages))
	for i, msg := range messages {
		res[i] = msg.Body
	}
	return res
}

func TestCacheServesRepeatedQueries(t *testing.T) {
	ctx := context.Background()
	cached, backend := newCachedTestPersister(t, 2, 3)
	for i := 1; i <= 4; i++ {
		_, err := cached.StoreMessage(ctx, "general", "alice", fmt.Sprintf("%d", i))
		require.NoError(t, err)
	}

	history, err := cached.GetMessageHistory(ctx, "general", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "4"}, bodies(history))
	history, err = cached.GetMessageHistory(ctx, "general", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3", "4"}, bodies(history))
	assert.EqualValues(t, 1, atomic.LoadInt32(&backend.queries))

	// appends update the cached entry
	_, err = cached.StoreMessage(ctx, "general", "bob", "5")
	require.NoError(t, err)
	history, err = cached.GetMessageHistory(ctx, "general", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "4", "5"}, bodies(history))
	assert.EqualValues(t, 1, atomic.LoadInt32(&backend.queries))

	// larger limits bypass the cache
	history, err = cached.GetMessageHistory(ctx, "general", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, bodies(history))
	assert.EqualValues(t, 2, atomic.LoadInt32(&backend.queries))
}

func TestCacheEvictsRooms(t *testing.T) {
	ctx := context.Background()
	cached, backend := newCachedTestPersister(t, 1, 5)
	for _, room := range []string{"a", "b"} {
		_, err := cached.StoreMessage(ctx, room, "alice", "hello "+room)
		require.NoError(t, err)
	}
	_, err := cached.GetMessageHistory(ctx, "a", 5)
	require.NoError(t, err)
	_, err = cached.GetMessageHistory(ctx, "b", 5)
	require.NoError(t, err)
	history, err := cached.GetMessageHistory(ctx, "a", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello a"}, bodies(history))
	assert.EqualValues(t, 3, atomic.LoadInt32(&backend.queries))
}

func TestCacheResultIsACopy(t *testing.T) {
	ctx := context.Background()
	cached, _ := newCachedTestPersister(t, 1, 5)
	_, err := cached.StoreMessage(ctx, "general", "alice", "1")
	require.NoError(t, err)
	history, err := cached.GetMessageHistory(ctx, "general", 5)
	require.NoError(t, err)
	history[0] = nil
	history, err = cached.GetMessageHistory(ctx, "general", 5)
	require.NoError(t, err)
	require.NotNil(t, history[0])
}

func TestInsertMessage(t *testing.T) {
	var messages []*types.Message
	for i := 0; i < 4; i++ {
		msg, err := newMessage("general", "alice", fmt.Sprintf("%d", i))
		require.NoError(t, err)
		messages = append(messages, msg)
	}
	res := insertMessage([]*types.Message{messages[0], messages[2]}, messages[1], 10)
	assert.Equal(t, []string{"0", "1", "2"}, bodies(res))
	res = insertMessage(res, messages[3], 3)
	assert.Equal(t, []string{"1", "2", "3"}, bodies(res))
}
