package promotion

import (
	"context"
	"testing"

	"dessincoach/pkg/domain"
	"dessincoach/pkg/rank"
	"dessincoach/pkg/store"
)

func TestApplyScoreFirstSubmission(t *testing.T) {
	data := store.NewMemoryStore()
	promo := New(data, rank.NewLedger(), nil)
	ctx := context.Background()

	record, promoted, err := promo.ApplyScore(ctx, "user-1", 85, "task-1")
	if err != nil {
		t.Fatalf("apply score: %v", err)
	}
	if !promoted {
		t.Fatalf("expected promotion on first qualifying score")
	}
	if record.CurrentRank != domain.RankKyu9 {
		t.Fatalf("rank = %v, want %v", record.CurrentRank, domain.RankKyu9)
	}

	events, err := promo.History(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	if events[0].OldRank != nil {
		t.Fatalf("first event must carry nil old rank")
	}
	if events[0].ID == "" {
		t.Fatalf("event id must be assigned")
	}
	if events[0].TaskID != "task-1" {
		t.Fatalf("event task id = %q", events[0].TaskID)
	}
}

func TestApplyScoreUnchangedRankWritesNoEvent(t *testing.T) {
	data := store.NewMemoryStore()
	promo := New(data, rank.NewLedger(), nil)
	ctx := context.Background()

	if _, _, err := promo.ApplyScore(ctx, "user-1", 85, "task-1"); err != nil {
		t.Fatalf("apply score: %v", err)
	}
	record, promoted, err := promo.ApplyScore(ctx, "user-1", 60, "task-2")
	if err != nil {
		t.Fatalf("apply score: %v", err)
	}
	if promoted {
		t.Fatalf("non-qualifying score must not promote")
	}
	if record.TotalSubmissions != 2 {
		t.Fatalf("total submissions = %d, want 2", record.TotalSubmissions)
	}
	if record.LatestScore != 60 {
		t.Fatalf("latest score = %v", record.LatestScore)
	}

	events, _ := promo.History(ctx, "user-1", 10)
	if len(events) != 1 {
		t.Fatalf("unchanged update must not append an event, got %d", len(events))
	}
}

func TestApplyScoreAccumulatesAcrossCalls(t *testing.T) {
	data := store.NewMemoryStore()
	promo := New(data, rank.NewLedger(), nil)
	ctx := context.Background()

	var last domain.UserRankRecord
	for i := 0; i < 3; i++ {
		var err error
		last, _, err = promo.ApplyScore(ctx, "user-1", 90, "task")
		if err != nil {
			t.Fatalf("apply score: %v", err)
		}
	}
	if last.CurrentRank != domain.RankKyu7 {
		t.Fatalf("rank after 3 qualifying scores = %v, want %v", last.CurrentRank, domain.RankKyu7)
	}
	if len(last.HighScores) != 3 {
		t.Fatalf("high scores = %v", last.HighScores)
	}

	stored, found, err := promo.GetRank(ctx, "user-1")
	if err != nil || !found {
		t.Fatalf("get rank: found=%v err=%v", found, err)
	}
	if stored.CurrentRank != last.CurrentRank || stored.TotalSubmissions != 3 {
		t.Fatalf("persisted record mismatch: %+v", stored)
	}
}

func TestGetRankAbsentUser(t *testing.T) {
	promo := New(store.NewMemoryStore(), rank.NewLedger(), nil)

	_, found, err := promo.GetRank(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get rank: %v", err)
	}
	if found {
		t.Fatalf("absent user must report not found")
	}
}
