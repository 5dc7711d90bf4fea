package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/types"
)

// SQLPersist talks plain SQL to sqlite3 or postgres. Both drivers understand the $n placeholders and BIGINT used
// below, so the queries are shared.
type SQLPersist struct {
	db *sql.DB
}

func NewSQLPersister(cfg *config.Config) (Persister, error) {
	db, err := setupSQLDB(cfg)
	if err != nil {
		return nil, err
	}
	return &SQLPersist{db: db}, nil
}

func setupSQLDB(cfg *config.Config) (*sql.DB, error) {
	driver := cfg.PersistenceConfig.Driver
	switch driver {
	case "", "sqlite", "sqlite3":
		driver = "sqlite3"
	case "postgres":
	default:
		return nil, fmt.Errorf("invalid sql driver %q", cfg.PersistenceConfig.Driver)
	}
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no dsn configured for sql")
	}
	db, err := sql.Open(driver, cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite3" {
		// sqlite does not like concurrent writers
		db.SetMaxOpenConns(1)
	}
	query := `CREATE TABLE IF NOT EXISTS messages (
id TEXT PRIMARY KEY,
room TEXT NOT NULL,
author TEXT NOT NULL,
body TEXT NOT NULL,
created BIGINT NOT NULL
);`
	_, err = db.Exec(query)
	if err != nil {
		db.Close()
		return nil, err
	}
	query = `CREATE INDEX IF NOT EXISTS messages_room_created_idx ON messages (room, created);`
	_, err = db.Exec(query)
	if err != nil {
		db.Close()
		return nil, err
	}
	query = `CREATE TABLE IF NOT EXISTS users (
id TEXT PRIMARY KEY,
username TEXT NOT NULL UNIQUE,
email TEXT NOT NULL UNIQUE,
password_hash TEXT NOT NULL,
created BIGINT NOT NULL
);`
	_, err = db.Exec(query)
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (p *SQLPersist) StoreMessage(ctx context.Context, room, author, body string) (*types.Message, error) {
	msg, err := newMessage(room, author, body)
	if err != nil {
		return nil, err
	}
	query := `INSERT INTO messages (id,room,author,body,created) VALUES ($1,$2,$3,$4,$5);`
	_, err = p.db.ExecContext(ctx, query, msg.Id, msg.Room, msg.Author, msg.Body, toMicros(msg.Timestamp))
	if err != nil {
		return nil, persistenceError("store message", err)
	}
	return msg, nil
}

func (p *SQLPersist) GetMessageHistory(ctx context.Context, room string, limit int) ([]*types.Message, error) {
	query := `SELECT id,room,author,body,created FROM messages WHERE room=$1 ORDER BY created DESC LIMIT $2;`
	rows, err := p.db.QueryContext(ctx, query, room, normalizeLimit(limit))
	if err != nil {
		return nil, persistenceError("get message history", err)
	}
	defer rows.Close()
	messages := make([]*types.Message, 0)
	for rows.Next() {
		var m messageModel
		err = rows.Scan(&m.Id, &m.Room, &m.Author, &m.Body, &m.Created)
		if err != nil {
			return nil, persistenceError("scan message", err)
		}
		messages = append(messages, m.toMessage())
	}
	if err = rows.Err(); err != nil {
		return nil, persistenceError("get message history", err)
	}
	reverse(messages)
	return messages, nil
}

func (p *SQLPersist) CreateUser(ctx context.Context, account *types.Account) error {
	exists, err := p.userExists(ctx, account)
	if err != nil {
		return persistenceError("create user", err)
	}
	if exists {
		return ErrUserExists
	}
	query := `INSERT INTO users (id,username,email,password_hash,created) VALUES ($1,$2,$3,$4,$5);`
	_, err = p.db.ExecContext(ctx, query, account.Id, account.Username, account.Email, account.PasswordHash, toMicros(account.Created))
	if err != nil {
		// lost a race against another registration
		if exists, _ := p.userExists(ctx, account); exists {
			return ErrUserExists
		}
		return persistenceError("create user", err)
	}
	return nil
}

func (p *SQLPersist) userExists(ctx context.Context, account *types.Account) (bool, error) {
	var count int64
	query := `SELECT COUNT(*) FROM users WHERE username=$1 OR email=$2;`
	err := p.db.QueryRowContext(ctx, query, account.Username, account.Email).Scan(&count)
	return count > 0, err
}

func (p *SQLPersist) GetUserByName(ctx context.Context, username string) (*types.Account, error) {
	return p.getUser(ctx, `SELECT id,username,email,password_hash,created FROM users WHERE username=$1;`, username)
}

func (p *SQLPersist) GetUserByEmail(ctx context.Context, email string) (*types.Account, error) {
	return p.getUser(ctx, `SELECT id,username,email,password_hash,created FROM users WHERE email=$1;`, email)
}

func (p *SQLPersist) getUser(ctx context.Context, query, arg string) (*types.Account, error) {
	var m userModel
	err := p.db.QueryRowContext(ctx, query, arg).Scan(&m.Id, &m.Username, &m.Email, &m.PasswordHash, &m.Created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, persistenceError("get user", err)
	}
	return m.toAccount(), nil
}

func (p *SQLPersist) Close() error {
	return p.db.Close()
}
