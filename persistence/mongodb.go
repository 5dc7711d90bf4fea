package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultMongoDatabase = "lightspeed-rooms"
	mongoCollection      = "messages"
	mongoUserCollection  = "users"
	mongoMaxPoolSize     = 20
)

// mongoMessage is the stored document. Created (unix microseconds) is used for ordering, as BSON dates only keep
// milliseconds.
type mongoMessage struct {
	Id        string    `bson:"_id"`
	Room      string    `bson:"room"`
	Author    string    `bson:"author"`
	Body      string    `bson:"message"`
	Timestamp time.Time `bson:"timestamp"`
	Created   int64     `bson:"created"`
}

// mongoUser is the stored account document. Username and email have unique indexes.
type mongoUser struct {
	Id           string    `bson:"_id"`
	Username     string    `bson:"username"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password"`
	Created      time.Time `bson:"createdAt"`
}

type MongoPersist struct {
	client *mongo.Client
	coll   *mongo.Collection
	users  *mongo.Collection
}

func NewMongoPersister(cfg *config.Config) (Persister, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no dsn configured for mongodb")
	}
	dbName := cfg.PersistenceConfig.Database
	if dbName == "" {
		dbName = defaultMongoDatabase
	}
	var client *mongo.Client
	err := connectWithRetry("mongodb", connectAttempts(cfg), func() error {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout(cfg))
		defer cancel()
		c, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.PersistenceConfig.DSN).SetMaxPoolSize(mongoMaxPoolSize))
		if err != nil {
			return err
		}
		err = c.Ping(ctx, nil)
		if err != nil {
			_ = c.Disconnect(context.Background())
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout(cfg))
	defer cancel()
	coll := client.Database(dbName).Collection(mongoCollection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "room", Value: 1}, {Key: "created", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	users := client.Database(dbName).Collection(mongoUserCollection)
	_, err = users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	globals.AppLogger.Debug("connected to mongodb", "database", dbName)
	return &MongoPersist{client: client, coll: coll, users: users}, nil
}

func (p *MongoPersist) StoreMessage(ctx context.Context, room, author, body string) (*types.Message, error) {
	msg, err := newMessage(room, author, body)
	if err != nil {
		return nil, err
	}
	_, err = p.coll.InsertOne(ctx, mongoMessage{
		Id:        msg.Id,
		Room:      msg.Room,
		Author:    msg.Author,
		Body:      msg.Body,
		Timestamp: msg.Timestamp,
		Created:   toMicros(msg.Timestamp),
	})
	if err != nil {
		return nil, persistenceError("store message", err)
	}
	return msg, nil
}

func (p *MongoPersist) GetMessageHistory(ctx context.Context, room string, limit int) ([]*types.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created", Value: -1}}).SetLimit(int64(normalizeLimit(limit)))
	cursor, err := p.coll.Find(ctx, bson.M{"room": room}, opts)
	if err != nil {
		return nil, persistenceError("get message history", err)
	}
	docs := make([]mongoMessage, 0)
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, persistenceError("decode message history", err)
	}
	messages := make([]*types.Message, len(docs))
	for i, d := range docs {
		messages[i] = &types.Message{
			Id:        d.Id,
			Room:      d.Room,
			Author:    d.Author,
			Body:      d.Body,
			Timestamp: fromMicros(d.Created),
		}
	}
	reverse(messages)
	return messages, nil
}

func (p *MongoPersist) CreateUser(ctx context.Context, account *types.Account) error {
	_, err := p.users.InsertOne(ctx, mongoUser{
		Id:           account.Id,
		Username:     account.Username,
		Email:        account.Email,
		PasswordHash: account.PasswordHash,
		Created:      account.Created,
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrUserExists
	}
	if err != nil {
		return persistenceError("create user", err)
	}
	return nil
}

func (p *MongoPersist) GetUserByName(ctx context.Context, username string) (*types.Account, error) {
	return p.getUser(ctx, bson.M{"username": username})
}

func (p *MongoPersist) GetUserByEmail(ctx context.Context, email string) (*types.Account, error) {
	return p.getUser(ctx, bson.M{"email": email})
}

func (p *MongoPersist) getUser(ctx context.Context, filter bson.M) (*types.Account, error) {
	doc := mongoUser{}
	err := p.users.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, persistenceError("get user", err)
	}
	return &types.Account{
		Id:           doc.Id,
		Username:     doc.Username,
		Email:        doc.Email,
		PasswordHash: doc.PasswordHash,
		Created:      doc.Created.UTC(),
	}, nil
}

func (p *MongoPersist) Close() error {
	return p.client.Disconnect(context.Background())
}
