// Package idempotency replays the stored response of a request whose
// Idempotency-Key was already seen.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

var ErrInFlight = errors.New("a request with this idempotency key is still in progress")

const (
	MinKeyLength = 16
	MaxKeyLength = 128
)

type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Result      []byte `json:"result"`
}

// Backend persists responses and short-lived claims on keys.
type Backend interface {
	Get(ctx context.Context, key string) (*Response, error)
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Set(ctx context.Context, key string, resp Response, ttl time.Duration) error
}

type Idempotency struct {
	backend Backend
	ttl     time.Duration
	lockTTL time.Duration
}

func NewIdempotency(backend Backend, ttl time.Duration) *Idempotency {
	return &Idempotency{backend: backend, ttl: ttl, lockTTL: 30 * time.Second}
}

func ValidKey(key string) bool {
	return len(key) >= MinKeyLength && len(key) <= MaxKeyLength
}

// Begin returns the stored response for key if there is one. Otherwise it
// claims key for the caller, who must follow up with Complete or Abort.
func (i *Idempotency) Begin(ctx context.Context, key string) (*Response, error) {
	if resp, err := i.backend.Get(ctx, key); err != nil || resp != nil {
		return resp, err
	}
	ok, err := i.backend.Reserve(ctx, key, i.lockTTL)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}
	// The holder may have finished between Get and Reserve.
	resp, err := i.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrInFlight
	}
	return resp, nil
}

func (i *Idempotency) Complete(ctx context.Context, key string, resp Response) error {
	if err := i.backend.Set(ctx, key, resp, i.ttl); err != nil {
		return errors.Wrap(err, "store response")
	}
	return i.backend.Release(ctx, key)
}

func (i *Idempotency) Abort(ctx context.Context, key string) error {
	return i.backend.Release(ctx, key)
}

// MemoryBackend keeps everything in process. Expiry is not enforced.
type MemoryBackend struct {
	mu        sync.Mutex
	responses map[string]Response
	claims    map[string]bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{responses: map[string]Response{}, claims: map[string]bool{}}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if resp, ok := m.responses[key]; ok {
		return &resp, nil
	}
	return nil, nil
}

func (m *MemoryBackend) Reserve(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims[key] {
		return false, nil
	}
	m.claims[key] = true
	return true, nil
}

func (m *MemoryBackend) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, key)
	return nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, resp Response, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[key] = resp
	return nil
}
