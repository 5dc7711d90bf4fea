package ws

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/filter"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/persistence"
	"github.com/tcriess/lightspeed-rooms/room"
	"github.com/tcriess/lightspeed-rooms/types"
	"golang.org/x/time/rate"
)

const (
	maxMessageSize      = 32 * 1024
	pongWait            = 2 * time.Minute
	pingPeriod          = time.Minute
	writeWait           = 10 * time.Second
	defaultStoreTimeout = 5 * time.Second
)

// Hub connects the registry, the message store and the send policy. There is one hub per server, rooms only
// exist in the registry.
type Hub struct {
	Registry *room.Registry

	// persistence
	Persister persistence.Persister

	// global configuration
	Cfg *config.Config

	policy *filter.Policy

	// number of frames which could not be handed to a recipient
	deliveryFailures uint64

	cronRunner *cron.Cron
}

func NewHub(cfg *config.Config, registry *room.Registry, persister persistence.Persister, policy *filter.Policy) *Hub {
	return &Hub{
		Registry:  registry,
		Persister: persister,
		Cfg:       cfg,
		policy:    policy,
	}
}

// Session is the per-connection state of the event handling. It is only used by the connection's read loop.
type Session struct {
	Conn *room.Connection

	// nil if typing events are not limited
	typing *rate.Limiter
}

// Open registers a new connection for the authenticated user. All frames for the connection are handed to sink.
func (h *Hub) Open(user types.User, sink room.Sink) (*Session, error) {
	conn, err := h.Registry.Register(uuid.New().String(), user, sink)
	if err != nil {
		return nil, err
	}
	s := &Session{Conn: conn}
	if h.Cfg.ChatConfig.TypingRate > 0 {
		burst := h.Cfg.ChatConfig.TypingBurst
		if burst <= 0 {
			burst = 1
		}
		s.typing = rate.NewLimiter(rate.Limit(h.Cfg.ChatConfig.TypingRate), burst)
	}
	globals.AppLogger.Info("connection opened", "connection", conn.Id, "user", user.Nick)
	return s, nil
}

// Close removes the session's connection from all rooms. Calling it more than once is a no-op.
func (h *Hub) Close(s *Session) {
	if h.Registry.Unregister(s.Conn.Id) {
		globals.AppLogger.Info("connection closed", "connection", s.Conn.Id, "user", s.Conn.User.Nick)
	}
}

// Broadcast delivers the message to every connection currently joined to the room, except excludeId (which may
// be empty). It never persists. Failed deliveries only affect the respective recipient, they are counted and
// logged. Broadcast returns the number of successful deliveries.
func (h *Hub) Broadcast(roomName string, msg *types.Message, excludeId string) int {
	return h.fanOut(roomName, types.EventReceiveMessage, msg, excludeId)
}

// NotifyTyping tells every other member of the room that author is typing.
func (h *Hub) NotifyTyping(roomName, author, senderId string) int {
	return h.fanOut(roomName, types.EventUserTyping, author, senderId)
}

func (h *Hub) fanOut(roomName, event string, data interface{}, excludeId string) int {
	frame, err := types.EncodeWireMessage(event, data)
	if err != nil {
		globals.AppLogger.Error("could not encode message", "event", event, "error", err)
		return 0
	}
	delivered := 0
	for _, conn := range h.Registry.Recipients(roomName) {
		if conn.Id == excludeId {
			continue
		}
		if err := conn.Deliver(frame); err != nil {
			atomic.AddUint64(&h.deliveryFailures, 1)
			globals.AppLogger.Debug("could not deliver", "event", event, "room", roomName, "connection", conn.Id, "error", err)
			continue
		}
		delivered++
	}
	globals.AppLogger.Trace("fan out done", "event", event, "room", roomName, "delivered", delivered)
	return delivered
}

// DeliveryFailures returns the number of failed deliveries since the hub was created.
func (h *Hub) DeliveryFailures() uint64 {
	return atomic.LoadUint64(&h.deliveryFailures)
}

// SendMessage checks, stores and broadcasts a message sent by the connection. The sender is included in the
// broadcast. If the message is rejected or cannot be stored, nothing is broadcast.
func (h *Hub) SendMessage(ctx context.Context, conn *room.Connection, roomName, body string) (*types.Message, error) {
	msg, err := h.store(ctx, roomName, conn.User.Nick, body)
	if err != nil {
		return nil, err
	}
	h.Broadcast(roomName, msg, "")
	return msg, nil
}

// PostMessage stores a message which was not sent via a live connection. It is only broadcast if
// chat.broadcast_posted is set.
func (h *Hub) PostMessage(ctx context.Context, user types.User, roomName, body string) (*types.Message, error) {
	msg, err := h.store(ctx, roomName, user.Nick, body)
	if err != nil {
		return nil, err
	}
	if h.Cfg.ChatConfig.BroadcastPosted {
		h.Broadcast(roomName, msg, "")
	}
	return msg, nil
}

func (h *Hub) store(ctx context.Context, roomName, author, body string) (*types.Message, error) {
	if h.policy != nil {
		if err := h.policy.Check(roomName, author, body); err != nil {
			return nil, err
		}
	}
	ctx, cancel := context.WithTimeout(ctx, h.storeTimeout())
	defer cancel()
	msg, err := h.Persister.StoreMessage(ctx, roomName, author, body)
	if err != nil {
		globals.AppLogger.Error("could not store message", "room", roomName, "author", author, "error", err)
		return nil, err
	}
	return msg, nil
}

// History returns the most recent messages of the room, at most history.limit of them.
func (h *Hub) History(ctx context.Context, roomName string, limit int) ([]*types.Message, error) {
	max := h.Cfg.HistoryConfig.Limit
	if max <= 0 {
		max = persistence.DefaultHistoryLimit
	}
	if limit <= 0 || limit > max {
		limit = max
	}
	ctx, cancel := context.WithTimeout(ctx, h.storeTimeout())
	defer cancel()
	return h.Persister.GetMessageHistory(ctx, roomName, limit)
}

func (h *Hub) storeTimeout() time.Duration {
	if h.Cfg.PersistenceConfig.Timeout > 0 {
		return h.Cfg.PersistenceConfig.Timeout
	}
	return defaultStoreTimeout
}

// RoomInfos returns the current rooms and their number of connections.
func (h *Hub) RoomInfos() []types.RoomInfo {
	return h.Registry.RoomInfos()
}

// StartStats logs the registry statistics according to the cron spec.
func (h *Hub) StartStats(spec string) error {
	if spec == "" {
		return nil
	}
	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := cronRunner.AddFunc(spec, h.logStats)
	if err != nil {
		return fmt.Errorf("invalid stats cron spec %q: %w", spec, err)
	}
	h.cronRunner = cronRunner
	cronRunner.Start()
	return nil
}

func (h *Hub) logStats() {
	connections, rooms := h.Registry.Stats()
	globals.AppLogger.Info("stats", "connections", connections, "rooms", rooms, "delivery_failures", h.DeliveryFailures())
}

// Shutdown stops the stats job and closes all live connections.
func (h *Hub) Shutdown() {
	if h.cronRunner != nil {
		<-h.cronRunner.Stop().Done()
	}
	for _, conn := range h.Registry.All() {
		if err := conn.Close(); err != nil {
			globals.AppLogger.Debug("could not close connection", "connection", conn.Id, "error", err)
		}
	}
}
