// Package blob fetches templates and attachments by reference key.
package blob

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/unclebandit/mailcast-backend/internal/config"
)

var (
	ErrNotFound     = errors.New("blob: object not found")
	ErrAccessDenied = errors.New("blob: access denied")
	ErrTooLarge     = errors.New("blob: object exceeds size limit")
	ErrFetchFailed  = errors.New("blob: fetch failed")
)

// Fetcher reads an asset by reference key.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// New builds the fetcher selected by cfg.Driver.
func New(cfg config.BlobConfig) (Fetcher, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3(cfg)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("blob: unknown driver %q", cfg.Driver)
	}
}

// Memory is an in-process store for development and tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: map[string][]byte{}}
}

func (m *Memory) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
}

func (m *Memory) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}
