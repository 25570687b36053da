// Package store keeps an audit trail of finished transfer validations.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/punchamoorthee/transferval/internal/domain"
	"github.com/punchamoorthee/transferval/internal/models"
)

var ErrNotFound = errors.New("audit record not found")

// AuditStore records the outcome of every validation that reached a terminal
// status on the hub.
type AuditStore interface {
	Record(ctx context.Context, rec models.AuditRecord) error
	Get(ctx context.Context, id domain.ServerID) (*models.AuditRecord, error)
	ListByVale(ctx context.Context, numeroVale string) ([]models.AuditRecord, error)
}

// MemoryStore is the AuditStore used when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[domain.ServerID]models.AuditRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[domain.ServerID]models.AuditRecord)}
}

func (m *MemoryStore) Record(ctx context.Context, rec models.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; !ok {
		m.records[rec.ID] = rec
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id domain.ServerID) (*models.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) ListByVale(ctx context.Context, numeroVale string) ([]models.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AuditRecord
	for _, rec := range m.records {
		if rec.NumeroVale == numeroVale {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResolvedAt > out[j].ResolvedAt })
	return out, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
