// Package promotion is the durable home for rank records and rank change
// events: it wraps the pure rank ledger with persistence and event fanout.
package promotion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dessincoach/pkg/domain"
	"dessincoach/pkg/notify"
	"dessincoach/pkg/rank"
	"dessincoach/pkg/store"
)

// Store applies review scores to user rank records.
type Store struct {
	data      store.Store
	ledger    *rank.Ledger
	publisher notify.Publisher
	now       func() time.Time
}

// New constructs a promotion store. publisher may be nil.
func New(data store.Store, ledger *rank.Ledger, publisher notify.Publisher) *Store {
	if ledger == nil {
		ledger = rank.NewLedger()
	}
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Store{
		data:      data,
		ledger:    ledger,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetRank returns the user's rank record; absence means never evaluated.
func (s *Store) GetRank(ctx context.Context, userID string) (domain.UserRankRecord, bool, error) {
	return s.data.GetRankRecord(ctx, userID)
}

// ApplyScore runs the ledger over the user's current record and persists the
// result. Exactly one record write happens per call; a rank change event is
// appended only when the ledger signals one (rank changed or first-time).
// Reads under concurrent submissions may be stale; the record write is a
// whole-record merge keyed by user ID and the rank table only advances, so a
// racing pair can at worst skip an intermediate promotion step.
func (s *Store) ApplyScore(ctx context.Context, userID string, score float64, taskID string) (domain.UserRankRecord, bool, error) {
	var current *domain.UserRankRecord
	record, found, err := s.data.GetRankRecord(ctx, userID)
	if err != nil {
		return domain.UserRankRecord{}, false, fmt.Errorf("load rank record: %w", err)
	}
	if found {
		current = &record
	}

	updated, promoted, event := s.ledger.Evaluate(current, score, userID, taskID, s.now())
	if err := s.data.SaveRankRecord(ctx, updated); err != nil {
		return domain.UserRankRecord{}, false, fmt.Errorf("save rank record: %w", err)
	}
	if event != nil {
		event.ID = uuid.NewString()
		if err := s.data.AppendRankEvent(ctx, *event); err != nil {
			return domain.UserRankRecord{}, false, fmt.Errorf("append rank event: %w", err)
		}
		if err := s.publisher.PublishRankChange(ctx, *event); err != nil {
			slog.Warn("rank event publish failed", "userId", userID, "err", err)
		}
	}
	return updated, promoted, nil
}

// History returns the user's rank change events, newest-first.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]domain.RankChangeEvent, error) {
	return s.data.ListRankEvents(ctx, userID, limit)
}
