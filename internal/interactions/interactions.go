// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package interactions caches the results of user interactions with a
// paper (evidence loads, persona prompts) keyed by identity UUIDs. The
// cache is injected into its callers; nothing here is process-wide.
package interactions

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by Get for a missing or expired record.
var ErrNotFound = errors.New("interaction not found")

// Record is one cached interaction.
type Record struct {
	ID        string
	UserID    string
	PaperID   string
	Kind      string
	Prompt    string
	Payload   []byte
	CreatedAt time.Time
}

// Store persists interaction records. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Put(ctx context.Context, rec Record) error
	DeletePaper(ctx context.Context, paperID string) (int64, error)
}

// Memory is an in-process Store. Records older than its TTL are treated
// as missing; a zero TTL keeps records forever.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{records: make(map[string]Record), ttl: ttl, now: time.Now}
}

// Get returns the record with the given ID.
func (m *Memory) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()
	if !ok || expired(rec.CreatedAt, m.ttl, m.now()) {
		return nil, ErrNotFound
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	return &rec, nil
}

// Put stores rec, replacing any record with the same ID. A zero
// CreatedAt is set to the current time.
func (m *Memory) Put(_ context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("interaction record has no ID")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	rec.Payload = append([]byte(nil), rec.Payload...)

	m.mu.Lock()
	m.records[rec.ID] = rec
	m.mu.Unlock()
	return nil
}

// DeletePaper drops every record of paperID.
func (m *Memory) DeletePaper(_ context.Context, paperID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.records {
		if rec.PaperID == paperID {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func expired(created time.Time, ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(created) > ttl
}
