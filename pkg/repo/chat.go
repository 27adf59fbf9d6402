package repo

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/34892002/3000World/internal/apperr"
	"github.com/34892002/3000World/internal/store"
	"github.com/34892002/3000World/pkg/world"
)

// MessageSink receives every stored chat message. Enqueue must not block.
type MessageSink interface {
	Enqueue(msg *store.ChatMessage) bool
}

// ChatHistory stores chat messages. History is read from the store on
// demand and is not mirrored.
type ChatHistory struct {
	b      *binding
	status *world.Status
	logger *log.Logger
	sink   MessageSink
}

func newChatHistory(b *binding, status *world.Status, logger *log.Logger, sink MessageSink) *ChatHistory {
	return &ChatHistory{b: b, status: status, logger: logger, sink: sink}
}

// Save stores msg and hands it to the sink. It assigns an id and a
// timestamp when missing. The sink's outcome never affects the result.
func (h *ChatHistory) Save(ctx context.Context, msg *store.ChatMessage) (string, error) {
	h.status.Begin()
	id, err := h.save(ctx, msg)
	return id, h.status.End(err)
}

func (h *ChatHistory) save(ctx context.Context, msg *store.ChatMessage) (string, error) {
	const op = "saveMessage"
	if msg == nil {
		return "", apperr.Validation(op, "nil message")
	}
	if strings.TrimSpace(msg.SessionID) == "" {
		return "", apperr.Validation(op, "message has no session id")
	}
	sess, err := h.b.current(op)
	if err != nil {
		return "", err
	}

	cp := *msg
	if cp.Timestamp == 0 {
		cp.Timestamp = time.Now().UnixMilli()
	}
	err = sess.Do(ctx, op, func(st store.Storer) error {
		return apperr.Wrap(apperr.KindStorage, op, st.AddMessage(ctx, &cp))
	})
	if err != nil {
		return "", err
	}
	msg.ID, msg.Timestamp = cp.ID, cp.Timestamp

	if h.sink != nil {
		h.sink.Enqueue(&cp)
	}
	return cp.ID, nil
}

// Get returns a session's messages in chronological order.
func (h *ChatHistory) Get(ctx context.Context, sessionID string) ([]*store.ChatMessage, error) {
	const op = "getChatHistory"
	sess, err := h.b.current(op)
	if err != nil {
		return nil, err
	}
	var out []*store.ChatMessage
	err = sess.Do(ctx, op, func(st store.Storer) error {
		var err error
		out, err = st.GetChatHistory(ctx, sessionID)
		return apperr.Wrap(apperr.KindStorage, op, err)
	})
	if out == nil && err == nil {
		out = []*store.ChatMessage{}
	}
	return out, err
}

// Sessions returns the chat session ids, most recently active first.
func (h *ChatHistory) Sessions(ctx context.Context) ([]string, error) {
	const op = "listSessions"
	sess, err := h.b.current(op)
	if err != nil {
		return nil, err
	}
	var out []string
	err = sess.Do(ctx, op, func(st store.Storer) error {
		var err error
		out, err = st.ListSessions(ctx)
		return apperr.Wrap(apperr.KindStorage, op, err)
	})
	if out == nil && err == nil {
		out = []string{}
	}
	return out, err
}

// DeleteSession removes every message of a session and their vectors.
func (h *ChatHistory) DeleteSession(ctx context.Context, sessionID string) error {
	h.status.Begin()
	const op = "deleteChatHistory"
	sess, err := h.b.current(op)
	if err != nil {
		return h.status.End(err)
	}
	err = sess.Do(ctx, op, func(st store.Storer) error {
		return apperr.Wrap(apperr.KindStorage, op, st.DeleteChatHistory(ctx, sessionID))
	})
	return h.status.End(err)
}
