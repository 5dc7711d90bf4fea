package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-rooms/config"
)

// persisterFactories returns the backends under test. mongodb and redis only run if a server is configured via
// MONGODB_URI / REDIS_ADDR.
func persisterFactories(t *testing.T) map[string]func(t *testing.T) Persister {
	factories := map[string]func(t *testing.T) Persister{
		"buntdb": func(t *testing.T) Persister {
			return newTestPersister(t, config.PersistenceConfig{Type: "buntdb", DSN: ":memory:"})
		},
		"buntdb-file": func(t *testing.T) Persister {
			return newTestPersister(t, config.PersistenceConfig{Type: "buntdb", DSN: filepath.Join(t.TempDir(), "rooms.db")})
		},
		"gorm-sqlite": func(t *testing.T) Persister {
			return newTestPersister(t, config.PersistenceConfig{Type: "gorm", Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "rooms.db")})
		},
		"sql-sqlite3": func(t *testing.T) Persister {
			return newTestPersister(t, config.PersistenceConfig{Type: "sql", Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "rooms.db")})
		},
	}
	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		factories["mongodb"] = func(t *testing.T) Persister {
			return newTestPersister(t, config.PersistenceConfig{Type: "mongodb", DSN: uri, Database: "test-" + uuid.New().String()})
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		factories["redis"] = func(t *testing.T) Persister {
			return newTestPersister(t, config.PersistenceConfig{Type: "redis", DSN: "redis://" + addr + "/15"})
		}
	}
	return factories
}

func newTestPersister(t *testing.T, pc config.PersistenceConfig) Persister {
	t.Helper()
	pc.Timeout = 5 * time.Second
	p, err := NewPersister(&config.Config{PersistenceConfig: pc})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

// testRoom returns a room name which is unique per test, so shared servers (mongodb, redis) start empty.
func testRoom(t *testing.T, name string) string {
	return name + "-" + uuid.New().String()[:8]
}

func TestPersisters(t *testing.T) {
	for name, factory := range persisterFactories(t) {
		factory := factory
		t.Run(name, func(t *testing.T) {
			t.Run("StoreAndGet", func(t *testing.T) { testStoreAndGet(t, factory(t)) })
			t.Run("RecentIsBounded", func(t *testing.T) { testRecentIsBounded(t, factory(t)) })
			t.Run("RoomsAreSeparate", func(t *testing.T) { testRoomsAreSeparate(t, factory(t)) })
			t.Run("DefaultLimit", func(t *testing.T) { testDefaultLimit(t, factory(t)) })
			t.Run("ConcurrentAppends", func(t *testing.T) { testConcurrentAppends(t, factory(t)) })
		})
	}
}

func testStoreAndGet(t *testing.T, p Persister) {
	ctx := context.Background()
	room := testRoom(t, "general")
	before := time.Now().Add(-time.Second)
	msg, err := p.StoreMessage(ctx, room, "alice", "hi")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.Id)
	assert.Equal(t, room, msg.Room)
	assert.Equal(t, "alice", msg.Author)
	assert.Equal(t, "hi", msg.Body)
	assert.True(t, msg.Timestamp.After(before))

	history, err := p.GetMessageHistory(ctx, room, 50)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.Id, history[0].Id)
	assert.Equal(t, msg.Body, history[0].Body)
	assert.True(t, msg.Timestamp.Equal(history[0].Timestamp), "%s != %s", msg.Timestamp, history[0].Timestamp)

	empty, err := p.GetMessageHistory(ctx, testRoom(t, "empty"), 50)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testRecentIsBounded(t *testing.T, p Persister) {
	ctx := context.Background()
	room := testRoom(t, "general")
	for i := 1; i <= 5; i++ {
		_, err := p.StoreMessage(ctx, room, "alice", fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}
	history, err := p.GetMessageHistory(ctx, room, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "message 4", history[0].Body)
	assert.Equal(t, "message 5", history[1].Body)

	history, err = p.GetMessageHistory(ctx, room, 10)
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i, msg := range history {
		assert.Equal(t, fmt.Sprintf("message %d", i+1), msg.Body)
		if i > 0 {
			assert.True(t, history[i-1].Timestamp.Before(msg.Timestamp))
		}
	}
}

func testRoomsAreSeparate(t *testing.T, p Persister) {
	ctx := context.Background()
	general := testRoom(t, "general")
	// a room name which is a prefix of the other must not see its messages
	prefix := general[:len(general)-1]
	_, err := p.StoreMessage(ctx, general, "alice", "in general")
	require.NoError(t, err)
	_, err = p.StoreMessage(ctx, prefix, "bob", "in prefix")
	require.NoError(t, err)

	history, err := p.GetMessageHistory(ctx, general, 50)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "in general", history[0].Body)

	history, err = p.GetMessageHistory(ctx, prefix, 50)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "in prefix", history[0].Body)
}

func testDefaultLimit(t *testing.T, p Persister) {
	ctx := context.Background()
	room := testRoom(t, "busy")
	for i := 0; i < DefaultHistoryLimit+5; i++ {
		_, err := p.StoreMessage(ctx, room, "alice", fmt.Sprintf("%d", i))
		require.NoError(t, err)
	}
	history, err := p.GetMessageHistory(ctx, room, 0)
	require.NoError(t, err)
	require.Len(t, history, DefaultHistoryLimit)
	assert.Equal(t, "5", history[0].Body)
	assert.Equal(t, fmt.Sprintf("%d", DefaultHistoryLimit+4), history[len(history)-1].Body)
}

func testConcurrentAppends(t *testing.T, p Persister) {
	ctx := context.Background()
	room := testRoom(t, "general")
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_, err := p.StoreMessage(ctx, room, fmt.Sprintf("user%d", i), fmt.Sprintf("%d-%d", i, j))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
	history, err := p.GetMessageHistory(ctx, room, 50)
	require.NoError(t, err)
	assert.Len(t, history, 20)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].Timestamp.Before(history[i-1].Timestamp))
	}
}

func TestNewPersisterErrors(t *testing.T) {
	_, err := NewPersister(&config.Config{PersistenceConfig: config.PersistenceConfig{Type: "carrier-pigeon"}})
	assert.Error(t, err)
	_, err = NewPersister(&config.Config{PersistenceConfig: config.PersistenceConfig{Type: "gorm", Driver: "oracle", DSN: "x"}})
	assert.Error(t, err)
	_, err = NewPersister(&config.Config{PersistenceConfig: config.PersistenceConfig{Type: "sql", Driver: "sqlite3"}})
	assert.Error(t, err)
}

func TestStoreFailureIsPersistenceError(t *testing.T) {
	p := newTestPersister(t, config.PersistenceConfig{Type: "sql", Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "rooms.db")})
	require.NoError(t, p.Close())
	_, err := p.StoreMessage(context.Background(), "general", "alice", "hi")
	assert.ErrorIs(t, err, ErrPersistence)
	_, err = p.GetMessageHistory(context.Background(), "general", 10)
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestClockIsStrictlyIncreasing(t *testing.T) {
	var c clock
	prev := c.Now()
	for i := 0; i < 1000; i++ {
		now := c.Now()
		assert.True(t, now.After(prev))
		assert.Zero(t, now.Nanosecond()%1000)
		prev = now
	}
}

func TestMessageIdsDiffer(t *testing.T) {
	a, err := newMessage("general", "alice", "hi")
	require.NoError(t, err)
	b, err := newMessage("general", "alice", "hi")
	require.NoError(t, err)
	assert.NotEqual(t, a.Id, b.Id, "same content at different times")
}
