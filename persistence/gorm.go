package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// messageModel is the table layout used by the gorm and sql persisters.
type messageModel struct {
	Id      string `gorm:"primaryKey"`
	Room    string `gorm:"not null;index:messages_room_created_idx,priority:1"`
	Author  string `gorm:"not null"`
	Body    string `gorm:"not null"`
	Created int64  `gorm:"not null;index:messages_room_created_idx,priority:2"` // unix microseconds
}

func (messageModel) TableName() string {
	return "messages"
}

func toModel(msg *types.Message) messageModel {
	return messageModel{
		Id:      msg.Id,
		Room:    msg.Room,
		Author:  msg.Author,
		Body:    msg.Body,
		Created: toMicros(msg.Timestamp),
	}
}

func (m messageModel) toMessage() *types.Message {
	return &types.Message{
		Id:        m.Id,
		Room:      m.Room,
		Author:    m.Author,
		Body:      m.Body,
		Timestamp: fromMicros(m.Created),
	}
}

// userModel is the users table of the gorm and sql persisters.
type userModel struct {
	Id           string `gorm:"primaryKey"`
	Username     string `gorm:"not null;uniqueIndex:users_username_idx"`
	Email        string `gorm:"not null;uniqueIndex:users_email_idx"`
	PasswordHash string `gorm:"not null"`
	Created      int64  `gorm:"not null"` // unix microseconds
}

func (userModel) TableName() string {
	return "users"
}

func toUserModel(account *types.Account) userModel {
	return userModel{
		Id:           account.Id,
		Username:     account.Username,
		Email:        account.Email,
		PasswordHash: account.PasswordHash,
		Created:      toMicros(account.Created),
	}
}

func (m userModel) toAccount() *types.Account {
	return &types.Account{
		Id:           m.Id,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Created:      fromMicros(m.Created),
	}
}

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg *config.Config) (Persister, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	return &GormPersist{db: db}, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no dsn configured for gorm")
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Driver {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "", "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm driver %q", cfg.PersistenceConfig.Driver)
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if cfg.PersistenceConfig.Driver != "postgres" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite does not like concurrent writers
		sqlDB.SetMaxOpenConns(1)
	}
	err = db.AutoMigrate(&messageModel{}, &userModel{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func (p *GormPersist) StoreMessage(ctx context.Context, room, author, body string) (*types.Message, error) {
	msg, err := newMessage(room, author, body)
	if err != nil {
		return nil, err
	}
	model := toModel(msg)
	err = p.db.WithContext(ctx).Create(&model).Error
	if err != nil {
		return nil, persistenceError("store message", err)
	}
	return msg, nil
}

func (p *GormPersist) GetMessageHistory(ctx context.Context, room string, limit int) ([]*types.Message, error) {
	models := make([]messageModel, 0)
	err := p.db.WithContext(ctx).Where("room = ?", room).Order("created DESC").Limit(normalizeLimit(limit)).Find(&models).Error
	if err != nil {
		return nil, persistenceError("get message history", err)
	}
	messages := make([]*types.Message, len(models))
	for i, m := range models {
		messages[i] = m.toMessage()
	}
	reverse(messages)
	return messages, nil
}

// CreateUser checks for a taken username or email first. The unique indexes catch concurrent registrations, a
// failed insert is then reported as ErrUserExists if the user showed up in the meantime.
func (p *GormPersist) CreateUser(ctx context.Context, account *types.Account) error {
	exists, err := p.userExists(ctx, account)
	if err != nil {
		return persistenceError("create user", err)
	}
	if exists {
		return ErrUserExists
	}
	model := toUserModel(account)
	err = p.db.WithContext(ctx).Create(&model).Error
	if err != nil {
		if exists, _ := p.userExists(ctx, account); exists {
			return ErrUserExists
		}
		return persistenceError("create user", err)
	}
	return nil
}

func (p *GormPersist) userExists(ctx context.Context, account *types.Account) (bool, error) {
	var count int64
	err := p.db.WithContext(ctx).Model(&userModel{}).Where("username = ? OR email = ?", account.Username, account.Email).Count(&count).Error
	return count > 0, err
}

func (p *GormPersist) GetUserByName(ctx context.Context, username string) (*types.Account, error) {
	return p.getUser(ctx, "username = ?", username)
}

func (p *GormPersist) GetUserByEmail(ctx context.Context, email string) (*types.Account, error) {
	return p.getUser(ctx, "email = ?", email)
}

func (p *GormPersist) getUser(ctx context.Context, query string, arg string) (*types.Account, error) {
	model := userModel{}
	err := p.db.WithContext(ctx).Where(query, arg).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, persistenceError("get user", err)
	}
	return model.toAccount(), nil
}

func (p *GormPersist) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
