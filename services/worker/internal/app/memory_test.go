package app

import (
	"context"
	"strings"
	"testing"

	"dessincoach/pkg/domain"
	"dessincoach/pkg/store"
)

func TestMemoryRecorderRecordAndRecall(t *testing.T) {
	data := store.NewMemoryStore()
	recorder := NewMemoryRecorder(data, nil, 5)
	ctx := context.Background()

	analysis := sampleAnalysis()
	if err := recorder.Record(ctx, "user-1", "task-1", analysis); err != nil {
		t.Fatalf("record: %v", err)
	}

	context1, err := recorder.RecentContext(ctx, "user-1")
	if err != nil {
		t.Fatalf("recent context: %v", err)
	}
	if !strings.Contains(context1, "前回の強み: 形の正確さ, 集中力") {
		t.Fatalf("context missing strengths: %q", context1)
	}
	if !strings.Contains(context1, "前回の改善点: 中間調を増やす") {
		t.Fatalf("context missing improvements: %q", context1)
	}
	if !strings.Contains(context1, "提出回数: 1") {
		t.Fatalf("context missing submission count: %q", context1)
	}
}

func TestMemoryRecorderEmptyHistory(t *testing.T) {
	recorder := NewMemoryRecorder(store.NewMemoryStore(), nil, 5)
	got, err := recorder.RecentContext(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("recent context: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty context, got %q", got)
	}
}

func TestCalculateTrend(t *testing.T) {
	cases := []struct {
		name   string
		scores []float64
		want   string
	}{
		{"single score", []float64{70}, TrendStable},
		{"flat", []float64{70, 70, 70, 70}, TrendStable},
		{"improving", []float64{40, 45, 70, 75, 80}, TrendImproving},
		{"declining", []float64{80, 75, 45, 40, 35}, TrendDeclining},
		{"small swing", []float64{70, 72, 71, 73}, TrendStable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := calculateTrend(tc.scores); got != tc.want {
				t.Fatalf("calculateTrend(%v) = %q, want %q", tc.scores, got, tc.want)
			}
		})
	}
}

func TestProgressionsAggregatesNewestFirstInput(t *testing.T) {
	data := store.NewMemoryStore()
	recorder := NewMemoryRecorder(data, nil, 10)
	ctx := context.Background()

	// scores rise over time
	for _, score := range []float64{40, 60, 80} {
		analysis := domain.Analysis{
			OverallScore: score,
			Proportion:   domain.Criterion{Score: score},
			Tone:         domain.Criterion{Score: 50},
			Texture:      domain.Criterion{Score: 50},
			LineQuality:  domain.Criterion{Score: 50},
		}
		if err := recorder.Record(ctx, "user-1", "task", analysis); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	memories, err := data.ListRecentMemories(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	progressions := Progressions(memories)
	var proportion *SkillProgression
	for i := range progressions {
		if progressions[i].Category == "proportion" {
			proportion = &progressions[i]
		}
	}
	if proportion == nil {
		t.Fatalf("proportion progression missing: %+v", progressions)
	}
	if proportion.SubmissionCount != 3 {
		t.Fatalf("submission count = %d", proportion.SubmissionCount)
	}
	if proportion.LatestScore != 80 {
		t.Fatalf("latest = %v, want chronological last", proportion.LatestScore)
	}
}
