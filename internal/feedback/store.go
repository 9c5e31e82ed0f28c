package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ledgerlens/ledgerlens/internal/observability"
)

// Store serializes writes through one mutex and answers reads from the last
// committed aggregates.
type Store struct {
	log    Log
	logger *slog.Logger
	now    func() time.Time

	writeMu sync.Mutex
	aggMu   sync.RWMutex
	agg     *Aggregates
}

type StoreOption func(*Store)

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore loads the existing log and aggregates it.
func NewStore(ctx context.Context, log Log, logger *slog.Logger, opts ...StoreOption) (*Store, error) {
	if log == nil {
		log = NewMemoryLog()
	}
	s := &Store{
		log:    log,
		logger: observability.Component(logger, "feedback"),
		now:    time.Now,
		agg:    newAggregates(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := s.Rebuild(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Record(ctx context.Context, in Input) (Record, error) {
	record, err := NewRecord(in, s.now())
	if err != nil {
		observability.IncrementFeedbackRecord("rejected")
		return Record{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.log.Append(ctx, record); err != nil {
		observability.IncrementFeedbackRecord("error")
		return Record{}, fmt.Errorf("append feedback: %w", err)
	}

	s.aggMu.Lock()
	s.agg.apply(record)
	s.aggMu.Unlock()

	observability.IncrementFeedbackRecord(string(record.Outcome))
	s.logger.Debug("feedback recorded", "id", record.ID, "outcome", record.Outcome)
	return record, nil
}

// Rebuild re-reads the whole log and replaces the aggregates. It returns the
// number of records aggregated.
func (s *Store) Rebuild(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	records, err := s.log.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list feedback: %w", err)
	}
	next := Aggregate(records)

	s.aggMu.Lock()
	s.agg = next
	s.aggMu.Unlock()
	return len(records), nil
}

// Records returns the persisted log.
func (s *Store) Records(ctx context.Context) ([]Record, error) {
	return s.log.List(ctx)
}

func (s *Store) ConfidenceAdjustment(query string) float64 {
	s.aggMu.RLock()
	defer s.aggMu.RUnlock()
	return s.agg.ConfidenceAdjustment(query)
}

func (s *Store) SimilarCorrections(query string) []Correction {
	s.aggMu.RLock()
	defer s.aggMu.RUnlock()
	return s.agg.SimilarCorrections(query)
}

// CorrectedSQL lists the corrected statements of similar past requests.
func (s *Store) CorrectedSQL(query string) []string {
	corrections := s.SimilarCorrections(query)
	out := make([]string, 0, len(corrections))
	for _, c := range corrections {
		out = append(out, c.CorrectedSQL)
	}
	return out
}

func (s *Store) Insights(query string) Insights {
	s.aggMu.RLock()
	defer s.aggMu.RUnlock()
	return s.agg.Insights(query)
}

func (s *Store) Stats() Stats {
	s.aggMu.RLock()
	defer s.aggMu.RUnlock()
	return s.agg.Stats()
}
