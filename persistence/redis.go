package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/types"
)

const (
	redisKeyPrefix = "lightspeed-rooms:messages:"
	redisUsersKey  = "lightspeed-rooms:users"       // username -> account json
	redisEmailsKey = "lightspeed-rooms:user-emails" // email -> username
)

// RedisPersist keeps one sorted set per room, scored by the timestamp in microseconds (exact in a float64).
type RedisPersist struct {
	client *redis.Client
}

func NewRedisPersister(cfg *config.Config) (Persister, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no dsn configured for redis")
	}
	opts, err := redis.ParseURL(cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	err = connectWithRetry("redis", connectAttempts(cfg), func() error {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout(cfg))
		defer cancel()
		return client.Ping(ctx).Err()
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	return &RedisPersist{client: client}, nil
}

func (p *RedisPersist) StoreMessage(ctx context.Context, room, author, body string) (*types.Message, error) {
	msg, err := newMessage(room, author, body)
	if err != nil {
		return nil, err
	}
	val, err := json.Marshal(msg)
	if err != nil {
		return nil, persistenceError("marshal message", err)
	}
	err = p.client.ZAdd(ctx, redisKeyPrefix+room, redis.Z{
		Score:  float64(toMicros(msg.Timestamp)),
		Member: string(val),
	}).Err()
	if err != nil {
		return nil, persistenceError("store message", err)
	}
	return msg, nil
}

func (p *RedisPersist) GetMessageHistory(ctx context.Context, room string, limit int) ([]*types.Message, error) {
	vals, err := p.client.ZRevRange(ctx, redisKeyPrefix+room, 0, int64(normalizeLimit(limit)-1)).Result()
	if err != nil {
		return nil, persistenceError("get message history", err)
	}
	messages := make([]*types.Message, 0, len(vals))
	for _, val := range vals {
		msg := &types.Message{}
		if err := json.Unmarshal([]byte(val), msg); err != nil {
			globals.AppLogger.Error("could not unmarshal stored message", "room", room, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	reverse(messages)
	return messages, nil
}

// CreateUser claims the email first and then the username, both with HSETNX. If the username is taken, the email
// claim is released again.
func (p *RedisPersist) CreateUser(ctx context.Context, account *types.Account) error {
	val, err := json.Marshal(account)
	if err != nil {
		return persistenceError("marshal user", err)
	}
	ok, err := p.client.HSetNX(ctx, redisEmailsKey, account.Email, account.Username).Result()
	if err != nil {
		return persistenceError("create user", err)
	}
	if !ok {
		return ErrUserExists
	}
	ok, err = p.client.HSetNX(ctx, redisUsersKey, account.Username, string(val)).Result()
	if err != nil || !ok {
		if delErr := p.client.HDel(ctx, redisEmailsKey, account.Email).Err(); delErr != nil {
			globals.AppLogger.Error("could not release email", "email", account.Email, "error", delErr)
		}
		if err != nil {
			return persistenceError("create user", err)
		}
		return ErrUserExists
	}
	return nil
}

func (p *RedisPersist) GetUserByName(ctx context.Context, username string) (*types.Account, error) {
	val, err := p.client.HGet(ctx, redisUsersKey, username).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, persistenceError("get user", err)
	}
	account := &types.Account{}
	if err := json.Unmarshal([]byte(val), account); err != nil {
		return nil, persistenceError("unmarshal user", err)
	}
	return account, nil
}

func (p *RedisPersist) GetUserByEmail(ctx context.Context, email string) (*types.Account, error) {
	username, err := p.client.HGet(ctx, redisEmailsKey, email).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, persistenceError("get user", err)
	}
	return p.GetUserByName(ctx, username)
}

func (p *RedisPersist) Close() error {
	return p.client.Close()
}
