package storage

import (
	"context"
	"fmt"
	"time"
)

// KV is the key-value collaborator every archive component persists
// through. Implementations must return ErrKeyNotFound (possibly wrapped)
// for absent keys. A zero TTL means the key never expires. No atomic
// multi-key operations are assumed.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// NotFoundError signals missing records.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " " + e.Key + " not found"
}

// ConflictError signals duplicate creation attempts.
type ConflictError struct {
	Resource string
	Key      string
}

func (e *ConflictError) Error() string {
	return e.Resource + " " + e.Key + " conflicts with existing state"
}

// ValidationError represents invalid input supplied by clients.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ErrKeyNotFound reports an absent KV key across all backends.
var ErrKeyNotFound = &NotFoundError{Resource: "key"}

// Key namespaces. The index and rate state live under fixed keys; entry
// payloads are keyed by the entry id assigned at notification delivery.
const (
	IndexKey     = "index"
	RateKey      = "rate:inbound"
	OverridesKey = "config:overrides"
)

// EntryBodyKey addresses the stripped MIME artifact for an entry.
func EntryBodyKey(id string) string {
	return fmt.Sprintf("entry:%s:raw", id)
}

// EntryImageKey addresses one stored image payload for an entry.
func EntryImageKey(id string, index int) string {
	return fmt.Sprintf("entry:%s:img:%d", id, index)
}
