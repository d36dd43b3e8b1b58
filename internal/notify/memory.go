package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// SentMessage records one delivery through the memory transport.
type SentMessage struct {
	ID       string
	Kind     string // "message", "photo", "document"
	Text     string
	Payload  []byte
	Filename string
	Deleted  bool
}

// MemoryTransport is an in-process Transport for development and tests.
type MemoryTransport struct {
	mu       sync.Mutex
	messages []SentMessage
	// FailSends makes every send call return this error.
	FailSends error
}

// NewMemoryTransport constructs an empty memory transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{}
}

func (m *MemoryTransport) record(kind, text string, payload []byte, filename string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSends != nil {
		return "", m.FailSends
	}
	id := uuid.NewString()
	m.messages = append(m.messages, SentMessage{
		ID:       id,
		Kind:     kind,
		Text:     text,
		Payload:  append([]byte{}, payload...),
		Filename: filename,
	})
	return id, nil
}

func (m *MemoryTransport) SendMessage(ctx context.Context, text string) (string, error) {
	return m.record("message", text, nil, "")
}

func (m *MemoryTransport) SendPhoto(ctx context.Context, caption string, payload []byte, filename string) (string, error) {
	return m.record("photo", caption, payload, filename)
}

func (m *MemoryTransport) SendDocument(ctx context.Context, caption string, payload []byte, filename string) (string, error) {
	return m.record("document", caption, payload, filename)
}

func (m *MemoryTransport) EditMessage(ctx context.Context, id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		if m.messages[i].ID == id {
			m.messages[i].Text = text
			return nil
		}
	}
	return &UnknownMessageError{ID: id}
}

func (m *MemoryTransport) DeleteMessage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		if m.messages[i].ID == id {
			m.messages[i].Deleted = true
			return nil
		}
	}
	return &UnknownMessageError{ID: id}
}

func (m *MemoryTransport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return nil
}

// Sent returns a copy of everything delivered so far.
func (m *MemoryTransport) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage{}, m.messages...)
}

// UnknownMessageError reports an edit or delete against a missing id.
type UnknownMessageError struct {
	ID string
}

func (e *UnknownMessageError) Error() string {
	return "message " + e.ID + " not found"
}
