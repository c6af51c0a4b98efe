// Package rank decides rank progression from accumulated review scores.
// It is pure logic: no I/O, no clocks of its own.
package rank

import (
	"math"
	"time"

	"dessincoach/pkg/domain"
)

// QualifyingScore is the minimum overall score that counts toward promotion.
const QualifyingScore = 80.0

// countThreshold maps a rank to the minimum number of qualifying scores
// required to hold it. Ordered ascending; ForCount scans from the highest
// rank downward and returns the first rank whose threshold is met, so every
// non-negative count maps to exactly one rank and the mapping saturates at
// the highest rank.
type countThreshold struct {
	rank     domain.Rank
	minCount int
}

var countThresholds = []countThreshold{
	{domain.RankKyu10, 0},
	{domain.RankKyu9, 1},
	{domain.RankKyu8, 2},
	{domain.RankKyu7, 3},
	{domain.RankKyu6, 4},
	{domain.RankKyu5, 5},
	{domain.RankKyu4, 6},
	{domain.RankKyu3, 7},
	{domain.RankKyu2, 8},
	{domain.RankKyu1, 9},
	{domain.RankDan1, 12},
	{domain.RankDan2, 15},
	{domain.RankDan3, 18},
	{domain.RankShihanDai, 24},
	{domain.RankShihan, 30},
}

// ForCount returns the rank earned by the given qualifying-score count.
func ForCount(count int) domain.Rank {
	for i := len(countThresholds) - 1; i >= 0; i-- {
		if count >= countThresholds[i].minCount {
			return countThresholds[i].rank
		}
	}
	return domain.RankKyu10
}

// Ledger evaluates submissions against the promotion rules.
type Ledger struct{}

// NewLedger returns a Ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Evaluate applies one submission score to a user's rank record.
// A nil record means the user has never been evaluated; the initial record
// starts at the lowest rank with zero submissions. The returned event is
// non-nil when the rank changed or when this is the first-ever evaluation.
// Rank never decreases, even on malformed input: the new rank is the
// maximum of the prior rank and the rank earned by the qualifying count.
func (l *Ledger) Evaluate(record *domain.UserRankRecord, score float64, userID, taskID string, now time.Time) (domain.UserRankRecord, bool, *domain.RankChangeEvent) {
	firstTime := record == nil
	updated := domain.UserRankRecord{UserID: userID, CurrentRank: domain.RankKyu10}
	if !firstTime {
		updated = *record
		updated.HighScores = append([]float64(nil), record.HighScores...)
		if !updated.CurrentRank.Valid() {
			updated.CurrentRank = domain.RankKyu10
		}
	}
	oldRank := updated.CurrentRank

	if !math.IsNaN(score) && !math.IsInf(score, 0) && score >= QualifyingScore {
		updated.HighScores = append(updated.HighScores, score)
	}
	earned := ForCount(len(updated.HighScores))
	if earned > updated.CurrentRank {
		updated.CurrentRank = earned
	}
	updated.LatestScore = score
	updated.TotalSubmissions++
	updated.UpdatedAt = now

	promoted := updated.CurrentRank != oldRank
	if !promoted && !firstTime {
		return updated, false, nil
	}

	event := &domain.RankChangeEvent{
		UserID:    userID,
		NewRank:   updated.CurrentRank,
		Score:     score,
		TaskID:    taskID,
		ChangedAt: now,
	}
	if !firstTime {
		prior := oldRank
		event.OldRank = &prior
	}
	return updated, promoted, event
}
