package rank

import (
	"math/rand"
	"testing"
	"time"

	"dessincoach/pkg/domain"
)

func TestForCountBoundaries(t *testing.T) {
	cases := []struct {
		count int
		want  domain.Rank
	}{
		{0, domain.RankKyu10},
		{1, domain.RankKyu9},
		{3, domain.RankKyu7},
		{9, domain.RankKyu1},
		{10, domain.RankKyu1},
		{11, domain.RankKyu1},
		{12, domain.RankDan1},
		{15, domain.RankDan2},
		{18, domain.RankDan3},
		{24, domain.RankShihanDai},
		{30, domain.RankShihan},
		{100, domain.RankShihan},
	}
	for _, tc := range cases {
		if got := ForCount(tc.count); got != tc.want {
			t.Errorf("ForCount(%d) = %v, want %v", tc.count, got, tc.want)
		}
	}
}

func TestForCountDeterministicAndMonotonic(t *testing.T) {
	for n := 0; n < 200; n++ {
		first := ForCount(n)
		if second := ForCount(n); second != first {
			t.Fatalf("ForCount(%d) not deterministic: %v then %v", n, first, second)
		}
		if next := ForCount(n + 1); next < first {
			t.Fatalf("ForCount(%d)=%v > ForCount(%d)=%v", n, first, n+1, next)
		}
	}
}

func TestEvaluateFirstSubmissionHighScore(t *testing.T) {
	ledger := NewLedger()
	now := time.Now().UTC()

	record, promoted, event := ledger.Evaluate(nil, 85, "user-1", "task-1", now)

	if record.CurrentRank != domain.RankKyu9 {
		t.Fatalf("rank = %v, want %v", record.CurrentRank, domain.RankKyu9)
	}
	if !promoted {
		t.Fatalf("expected promotion")
	}
	if len(record.HighScores) != 1 || record.HighScores[0] != 85 {
		t.Fatalf("high scores = %v", record.HighScores)
	}
	if record.TotalSubmissions != 1 {
		t.Fatalf("total submissions = %d", record.TotalSubmissions)
	}
	if event == nil {
		t.Fatalf("expected rank change event")
	}
	if event.OldRank != nil {
		t.Fatalf("first event must have nil old rank, got %v", *event.OldRank)
	}
	if event.NewRank != domain.RankKyu9 || event.TaskID != "task-1" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestEvaluateFirstSubmissionLowScoreStillAudited(t *testing.T) {
	ledger := NewLedger()

	record, promoted, event := ledger.Evaluate(nil, 40, "user-1", "task-1", time.Now().UTC())

	if record.CurrentRank != domain.RankKyu10 {
		t.Fatalf("rank = %v, want lowest", record.CurrentRank)
	}
	if promoted {
		t.Fatalf("low first score must not promote")
	}
	if event == nil {
		t.Fatalf("first evaluation must emit an audit event even without promotion")
	}
	if event.OldRank != nil || event.NewRank != domain.RankKyu10 {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestEvaluateNonQualifyingScore(t *testing.T) {
	ledger := NewLedger()
	prior := &domain.UserRankRecord{
		UserID:           "user-1",
		CurrentRank:      domain.RankKyu9,
		HighScores:       []float64{85},
		TotalSubmissions: 5,
	}

	record, promoted, event := ledger.Evaluate(prior, 72, "user-1", "task-2", time.Now().UTC())

	if record.CurrentRank != domain.RankKyu9 {
		t.Fatalf("rank = %v, want unchanged", record.CurrentRank)
	}
	if len(record.HighScores) != 1 {
		t.Fatalf("high scores must not grow on non-qualifying score: %v", record.HighScores)
	}
	if record.TotalSubmissions != 6 {
		t.Fatalf("total submissions = %d, want 6", record.TotalSubmissions)
	}
	if promoted || event != nil {
		t.Fatalf("unchanged non-first update must not emit an event")
	}
	if len(prior.HighScores) != 1 || prior.TotalSubmissions != 5 {
		t.Fatalf("input record mutated: %+v", prior)
	}
}

func TestEvaluateThresholdScoreQualifies(t *testing.T) {
	ledger := NewLedger()

	record, _, _ := ledger.Evaluate(nil, QualifyingScore, "user-1", "task-1", time.Now().UTC())

	if len(record.HighScores) != 1 {
		t.Fatalf("score exactly at threshold must qualify, high scores = %v", record.HighScores)
	}
}

func TestEvaluateCeilingSaturates(t *testing.T) {
	ledger := NewLedger()
	scores := make([]float64, 31)
	for i := range scores {
		scores[i] = 90
	}
	prior := &domain.UserRankRecord{
		UserID:           "user-1",
		CurrentRank:      domain.RankShihan,
		HighScores:       scores,
		TotalSubmissions: 40,
	}

	record, promoted, event := ledger.Evaluate(prior, 99, "user-1", "task-9", time.Now().UTC())

	if record.CurrentRank != domain.RankShihan {
		t.Fatalf("rank = %v, want ceiling", record.CurrentRank)
	}
	if promoted || event != nil {
		t.Fatalf("no event expected at ceiling")
	}
	if len(record.HighScores) != 32 {
		t.Fatalf("high scores length = %d, want 32", len(record.HighScores))
	}
	if record.TotalSubmissions != 41 {
		t.Fatalf("total submissions = %d, want 41", record.TotalSubmissions)
	}
}

func TestEvaluateRankNeverDecreases(t *testing.T) {
	ledger := NewLedger()
	rng := rand.New(rand.NewSource(7))
	now := time.Now().UTC()

	var record *domain.UserRankRecord
	last := domain.RankKyu10
	for i := 0; i < 500; i++ {
		score := rng.Float64()*120 - 10 // deliberately out of range both ways
		next, _, _ := ledger.Evaluate(record, score, "user-1", "task", now)
		if next.CurrentRank < last {
			t.Fatalf("rank decreased from %v to %v at step %d", last, next.CurrentRank, i)
		}
		last = next.CurrentRank
		record = &next
	}
}

func TestEvaluateEventOnlyOnRankChange(t *testing.T) {
	ledger := NewLedger()
	now := time.Now().UTC()

	var record *domain.UserRankRecord
	events := 0
	changes := 0
	last := domain.RankKyu10
	for i := 0; i < 40; i++ {
		score := 70.0
		if i%2 == 0 {
			score = 88
		}
		next, _, event := ledger.Evaluate(record, score, "user-1", "task", now)
		if event != nil {
			events++
		}
		if record == nil || next.CurrentRank != last {
			changes++
		}
		last = next.CurrentRank
		record = &next
	}
	if events != changes {
		t.Fatalf("events = %d, rank changes (incl. first) = %d", events, changes)
	}
}
