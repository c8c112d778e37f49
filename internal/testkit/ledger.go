package testkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gommrm/domain/core"
	"gommrm/domain/run"
	"gommrm/ports"
)

// InMemoryLedger is a ResultLedger backed by maps, for tests and for
// running the pipeline without a database.
type InMemoryLedger struct {
	mu        sync.Mutex
	fits      map[core.FitID]ports.FitRecord
	contrasts map[core.FitID][]ports.ContrastRecord
	manifests map[core.FitID]*run.Manifest
}

var _ ports.ResultLedger = (*InMemoryLedger)(nil)

// NewInMemoryLedger creates an empty ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		fits:      make(map[core.FitID]ports.FitRecord),
		contrasts: make(map[core.FitID][]ports.ContrastRecord),
		manifests: make(map[core.FitID]*run.Manifest),
	}
}

func (l *InMemoryLedger) StoreFit(ctx context.Context, rec ports.FitRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.fits[rec.ID]; exists {
		return fmt.Errorf("fit %s already stored", rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	l.fits[rec.ID] = rec
	return nil
}

func (l *InMemoryLedger) GetFit(ctx context.Context, id core.FitID) (*ports.FitRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.fits[id]
	if !ok {
		return nil, fmt.Errorf("fit not found: %s", id)
	}
	return &rec, nil
}

func (l *InMemoryLedger) StoreContrast(ctx context.Context, rec ports.ContrastRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	l.contrasts[rec.FitID] = append(l.contrasts[rec.FitID], rec)
	return nil
}

func (l *InMemoryLedger) ListContrasts(ctx context.Context, fitID core.FitID) ([]ports.ContrastRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ports.ContrastRecord, len(l.contrasts[fitID]))
	copy(out, l.contrasts[fitID])
	return out, nil
}

func (l *InMemoryLedger) StoreManifest(ctx context.Context, m *run.Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.manifests[m.FitID]; exists {
		return fmt.Errorf("manifest for fit %s already stored", m.FitID)
	}
	l.manifests[m.FitID] = m
	return nil
}

func (l *InMemoryLedger) GetManifest(ctx context.Context, fitID core.FitID) (*run.Manifest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.manifests[fitID]
	if !ok {
		return nil, fmt.Errorf("manifest not found for fit: %s", fitID)
	}
	return m, nil
}
