// Package memory holds in-process implementations of the store interfaces,
// used when an external store is disabled and in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
)

var (
	_ repository.PositionStore = (*PositionStore)(nil)
	_ repository.AuditLedger   = (*AuditLedger)(nil)
)

type PositionStore struct {
	mu          sync.Mutex
	positions   map[models.PositionKey]models.Position
	risk        map[string]models.RiskConfig
	transitions []models.PositionTransition
}

func NewPositionStore() *PositionStore {
	return &PositionStore{
		positions: make(map[models.PositionKey]models.Position),
		risk:      make(map[string]models.RiskConfig),
	}
}

// Seed installs positions and risk configs as if previously persisted.
func (s *PositionStore) Seed(positions []models.Position, risk ...models.RiskConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range positions {
		s.positions[p.Key()] = p
	}
	for _, r := range risk {
		s.risk[r.UserID] = r
	}
}

func (s *PositionStore) LoadOpen(context.Context) ([]models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if p.IsOpen() || p.State == models.PositionExitFailed {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}

func (s *PositionStore) RiskConfig(_ context.Context, userID string) (models.RiskConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.risk[userID]
	if !ok {
		return models.RiskConfig{}, models.ErrNotFound
	}
	return r, nil
}

func (s *PositionStore) UpdateDeployable(_ context.Context, userID string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.risk[userID]; ok {
		r.DeployableCapital += delta
		s.risk[userID] = r
	}
	return nil
}

func (s *PositionStore) SaveTransition(_ context.Context, t models.PositionTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[t.Position.Key()] = t.Position
	s.transitions = append(s.transitions, t)
	return nil
}

// Transitions returns every transition saved so far.
func (s *PositionStore) Transitions() []models.PositionTransition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PositionTransition, len(s.transitions))
	copy(out, s.transitions)
	return out
}

type AuditLedger struct {
	mu      sync.Mutex
	records []models.AuditRecord
	limit   int
}

// NewAuditLedger keeps at most limit records (0 keeps everything).
func NewAuditLedger(limit int) *AuditLedger {
	return &AuditLedger{limit: limit}
}

func (l *AuditLedger) Append(_ context.Context, rec models.AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	if l.limit > 0 && len(l.records) > l.limit {
		l.records = l.records[len(l.records)-l.limit:]
	}
	return nil
}

// Recent returns matching records, newest first.
func (l *AuditLedger) Recent(_ context.Context, q models.AuditQuery) ([]models.AuditRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.AuditRecord
	for i := len(l.records) - 1; i >= 0; i-- {
		r := l.records[i]
		if q.UserID != "" && r.Decision.UserID != q.UserID {
			continue
		}
		if q.Token != "" && r.Decision.Token != q.Token {
			continue
		}
		if !q.Since.IsZero() && r.RecordedAt.Before(q.Since) {
			continue
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// Records returns all records in append order.
func (l *AuditLedger) Records() []models.AuditRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.AuditRecord, len(l.records))
	copy(out, l.records)
	return out
}
