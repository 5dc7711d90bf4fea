package filter

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
)

var (
	ErrEmptyRoom      = errors.New("room name is required")
	ErrEmptyMessage   = errors.New("message is required")
	ErrMessageTooLong = errors.New("message is too long")
	ErrRejected       = errors.New("message rejected by filter")
)

// Policy decides whether a message may be stored and broadcast. It is shared by the websocket and the HTTP
// send paths.
type Policy struct {
	maxLength int
	prog      *vm.Program
}

// NewPolicy compiles the configured accept filter (if any).
func NewPolicy(cfg config.ChatConfig) (*Policy, error) {
	p := &Policy{maxLength: cfg.MaxMessageLength}
	if cfg.AcceptFilter != "" {
		prog, err := expr.Compile(cfg.AcceptFilter, expr.Env(Env{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("could not compile accept filter: %w", err)
		}
		p.prog = prog
	}
	return p, nil
}

// Check validates a message before it is persisted.
func (p *Policy) Check(room, author, body string) error {
	if strings.TrimSpace(room) == "" {
		return ErrEmptyRoom
	}
	if strings.TrimSpace(body) == "" {
		return ErrEmptyMessage
	}
	length := utf8.RuneCountInString(body)
	if p.maxLength > 0 && length > p.maxLength {
		return ErrMessageTooLong
	}
	if p.prog == nil {
		return nil
	}
	env := Env{
		Room:   room,
		Author: author,
		Body:   body,
		Length: length,
	}
	res, err := expr.Run(p.prog, env)
	if err != nil {
		globals.AppLogger.Error("could not run accept filter", "error", err)
		return ErrRejected
	}
	if ok, isBool := res.(bool); isBool && ok {
		return nil
	}
	return ErrRejected
}
