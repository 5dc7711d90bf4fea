package types

import (
	"strconv"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

// Message is a persisted chat entry. It is never changed after it was stored.
type Message struct {
	Id        string    `json:"id"`
	Room      string    `json:"room"`
	Author    string    `json:"author"`
	Body      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"` // assigned by the persister
}

// CreateId sets the message id to the hash of its content (including the timestamp).
func (m *Message) CreateId() error {
	h, err := hashstructure.Hash(struct {
		Room      string
		Author    string
		Body      string
		Timestamp int64
	}{m.Room, m.Author, m.Body, m.Timestamp.UnixNano()}, hashstructure.FormatV2, nil)
	if err != nil {
		return err
	}
	m.Id = strconv.FormatUint(h, 16)
	return nil
}
