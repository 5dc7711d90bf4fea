package persistence

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/types"
	"github.com/tidwall/buntdb"
)

// BuntDBPersist stores messages as JSON values under "message:<hex room>:<micros>:<id>" keys, so a room's history
// is a contiguous, time ordered key range.
type BuntDBPersist struct {
	db *buntdb.DB
}

func NewBuntPersister(cfg *config.Config) (Persister, error) {
	fileName := cfg.PersistenceConfig.DSN
	if fileName == "" {
		fileName = ":memory:"
	}
	db, err := buntdb.Open(fileName)
	if err != nil {
		return nil, err
	}
	return &BuntDBPersist{db}, nil
}

func roomKeyPrefix(room string) string {
	return "message:" + hex.EncodeToString([]byte(room)) + ":"
}

func (p *BuntDBPersist) StoreMessage(_ context.Context, room, author, body string) (*types.Message, error) {
	msg, err := newMessage(room, author, body)
	if err != nil {
		return nil, err
	}
	val, err := json.Marshal(msg)
	if err != nil {
		return nil, persistenceError("marshal message", err)
	}
	key := fmt.Sprintf("%s%020d:%s", roomKeyPrefix(room), toMicros(msg.Timestamp), msg.Id)
	err = p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(val), nil)
		return err
	})
	if err != nil {
		return nil, persistenceError("store message", err)
	}
	return msg, nil
}

// GetMessageHistory walks the room's key range backwards and stops after limit messages.
func (p *BuntDBPersist) GetMessageHistory(_ context.Context, room string, limit int) ([]*types.Message, error) {
	limit = normalizeLimit(limit)
	messages := make([]*types.Message, 0, limit)
	prefix := roomKeyPrefix(room)
	err := p.db.View(func(tx *buntdb.Tx) error {
		// all keys of the room are > prefix and < prefix+"~" (the timestamp part is digits only)
		return tx.DescendRange("", prefix+"~", prefix, func(key, val string) bool {
			msg := &types.Message{}
			if err := json.Unmarshal([]byte(val), msg); err != nil {
				globals.AppLogger.Error("could not unmarshal stored message", "key", key, "error", err)
				return true
			}
			messages = append(messages, msg)
			return len(messages) < limit
		})
	})
	if err != nil {
		return nil, persistenceError("get message history", err)
	}
	reverse(messages)
	return messages, nil
}

func (p *BuntDBPersist) Close() error {
	return p.db.Close()
}

func userNameKey(username string) string {
	return "user:name:" + hex.EncodeToString([]byte(username))
}

func userEmailKey(email string) string {
	return "user:email:" + hex.EncodeToString([]byte(email))
}

// CreateUser stores the account under its username key, the email key points to the username.
func (p *BuntDBPersist) CreateUser(_ context.Context, account *types.Account) error {
	val, err := json.Marshal(account)
	if err != nil {
		return persistenceError("marshal user", err)
	}
	err = p.db.Update(func(tx *buntdb.Tx) error {
		for _, key := range []string{userNameKey(account.Username), userEmailKey(account.Email)} {
			_, err := tx.Get(key)
			if err == nil {
				return ErrUserExists
			}
			if err != buntdb.ErrNotFound {
				return err
			}
		}
		if _, _, err := tx.Set(userNameKey(account.Username), string(val), nil); err != nil {
			return err
		}
		_, _, err := tx.Set(userEmailKey(account.Email), account.Username, nil)
		return err
	})
	if errors.Is(err, ErrUserExists) {
		return err
	}
	if err != nil {
		return persistenceError("create user", err)
	}
	return nil
}

func (p *BuntDBPersist) GetUserByName(_ context.Context, username string) (*types.Account, error) {
	account := &types.Account{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(userNameKey(username))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(val), account)
	})
	if err == buntdb.ErrNotFound {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, persistenceError("get user", err)
	}
	return account, nil
}

func (p *BuntDBPersist) GetUserByEmail(ctx context.Context, email string) (*types.Account, error) {
	var username string
	err := p.db.View(func(tx *buntdb.Tx) error {
		var err error
		username, err = tx.Get(userEmailKey(email))
		return err
	})
	if err == buntdb.ErrNotFound {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, persistenceError("get user", err)
	}
	return p.GetUserByName(ctx, username)
}
