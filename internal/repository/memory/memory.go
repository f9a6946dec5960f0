// Package memory provides in-process snapshot and invoice stores for tests and dry runs.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

var (
	_ repository.SnapshotRepository = (*SnapshotStore)(nil)
	_ repository.InvoiceRepository  = (*InvoiceStore)(nil)
)

// SnapshotStore hands out copies so callers never share state with the store.
type SnapshotStore struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*entity.ProcessingSnapshot
	byHash map[string]uuid.UUID
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		byID:   map[uuid.UUID]*entity.ProcessingSnapshot{},
		byHash: map[string]uuid.UUID{},
	}
}

func (m *SnapshotStore) GetByHash(_ context.Context, hash string) (*entity.ProcessingSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byHash[hash]
	if !ok {
		return nil, nil
	}
	return cloneSnapshot(m.byID[id]), nil
}

func (m *SnapshotStore) GetByPath(_ context.Context, path string) (*entity.ProcessingSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *entity.ProcessingSnapshot
	for _, s := range m.byID {
		if s.SourceFilePath != path {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	return cloneSnapshot(latest), nil
}

func (m *SnapshotStore) Add(_ context.Context, s *entity.ProcessingSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byHash[s.SourceFileHash]; ok {
		*s = *cloneSnapshot(m.byID[id])
		return nil
	}
	m.byID[s.ID] = cloneSnapshot(s)
	m.byHash[s.SourceFileHash] = s.ID
	return nil
}

func (m *SnapshotStore) Update(_ context.Context, s *entity.ProcessingSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[s.ID]; !ok {
		return common.ErrNotFound
	}
	m.byID[s.ID] = cloneSnapshot(s)
	return nil
}

// Len reports how many snapshots are stored.
func (m *SnapshotStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func cloneSnapshot(s *entity.ProcessingSnapshot) *entity.ProcessingSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.OCR.Payload.Pages = slices.Clone(s.OCR.Payload.Pages)
	c.Extraction.Payload.Payload = slices.Clone(s.Extraction.Payload.Payload)
	c.Validation.Payload.Errors = slices.Clone(s.Validation.Payload.Errors)
	return &c
}

type InvoiceStore struct {
	mu       sync.RWMutex
	invoices map[string]*entity.Invoice // by invoice number
}

func NewInvoiceStore() *InvoiceStore {
	return &InvoiceStore{invoices: map[string]*entity.Invoice{}}
}

func (m *InvoiceStore) FindByInvoiceNumber(_ context.Context, number string) (*entity.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[number]
	if !ok {
		return nil, nil
	}
	return cloneInvoice(inv), nil
}

func (m *InvoiceStore) Add(_ context.Context, inv *entity.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[inv.InvoiceNumber]; ok {
		return common.DuplicateInvoice(inv.InvoiceNumber)
	}
	m.invoices[inv.InvoiceNumber] = cloneInvoice(inv)
	return nil
}

func (m *InvoiceStore) List(_ context.Context, filter repository.InvoiceFilter) ([]*entity.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*entity.Invoice
	for _, inv := range m.invoices {
		if filter.From != nil && inv.IssueDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && inv.IssueDate.After(*filter.To) {
			continue
		}
		out = append(out, cloneInvoice(inv))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssueDate.Equal(out[j].IssueDate) {
			return out[i].IssueDate.Before(out[j].IssueDate)
		}
		return out[i].InvoiceNumber < out[j].InvoiceNumber
	})
	return out, nil
}

func cloneInvoice(inv *entity.Invoice) *entity.Invoice {
	c := *inv
	c.Lines = slices.Clone(inv.Lines)
	return &c
}
