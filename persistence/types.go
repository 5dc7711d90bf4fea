package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/types"
)

const (
	// DefaultHistoryLimit is used by GetMessageHistory if no positive limit is given.
	DefaultHistoryLimit    = 50
	defaultConnectTimeout  = 5 * time.Second
	defaultConnectAttempts = 5
)

// connectRetryDelay is the wait after the first failed connection attempt, it doubles with every further attempt.
var connectRetryDelay = 2 * time.Second

// ErrPersistence is matched (via errors.Is) by every error caused by the underlying storage.
var ErrPersistence = errors.New("persistence error")

// Persister is the durable message store.
type Persister interface {
	// StoreMessage appends a message to the room's history. The timestamp and id are assigned here.
	StoreMessage(ctx context.Context, room, author, body string) (*types.Message, error)
	// GetMessageHistory returns the limit most recent messages of the room, in ascending timestamp order.
	GetMessageHistory(ctx context.Context, room string, limit int) ([]*types.Message, error)
	Close() error
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

func connectTimeout(cfg *config.Config) time.Duration {
	if cfg.PersistenceConfig.Timeout > 0 {
		return cfg.PersistenceConfig.Timeout
	}
	return defaultConnectTimeout
}

func connectAttempts(cfg *config.Config) int {
	if cfg.PersistenceConfig.ConnectAttempts > 0 {
		return cfg.PersistenceConfig.ConnectAttempts
	}
	return defaultConnectAttempts
}

// connectWithRetry calls connect until it succeeds, at most attempts times.
func connectWithRetry(backend string, attempts int, connect func() error) error {
	delay := connectRetryDelay
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = connect()
		if err == nil {
			if attempt > 1 {
				globals.AppLogger.Info("connected", "backend", backend, "attempt", attempt)
			}
			return nil
		}
		globals.AppLogger.Warn("could not connect", "backend", backend, "attempt", attempt, "attempts", attempts, "error", err)
		if attempt < attempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return fmt.Errorf("could not connect to %s after %d attempts: %w", backend, attempts, err)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}

// clock hands out UTC timestamps in microsecond precision (the best precision all backends keep) which are
// strictly increasing within this process.
type clock struct {
	last time.Time
	sync.Mutex
}

var storeClock clock

func (c *clock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(c.last) {
		now = c.last.Add(time.Microsecond)
	}
	c.last = now
	return now
}

// newMessage creates the record to be stored.
func newMessage(room, author, body string) (*types.Message, error) {
	msg := &types.Message{
		Room:      room,
		Author:    author,
		Body:      body,
		Timestamp: storeClock.Now(),
	}
	if err := msg.CreateId(); err != nil {
		return nil, persistenceError("create id", err)
	}
	return msg, nil
}

// reverse turns a descending result into ascending order.
func reverse(messages []*types.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}

func toMicros(t time.Time) int64 {
	return t.UnixNano() / int64(time.Microsecond)
}

func fromMicros(us int64) time.Time {
	return time.Unix(0, us*int64(time.Microsecond)).UTC()
}
