package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dessincoach/pkg/ai"
	"dessincoach/pkg/domain"
	"dessincoach/pkg/store"
)

// Trend values for skill progressions.
const (
	TrendImproving = "improving"
	TrendStable    = "stable"
	TrendDeclining = "declining"
)

// SkillProgression summarizes one criterion across past submissions.
type SkillProgression struct {
	Category        string  `json:"category"`
	AverageScore    float64 `json:"averageScore"`
	LatestScore     float64 `json:"latestScore"`
	Trend           string  `json:"trend"`
	SubmissionCount int     `json:"submissionCount"`
}

// memoryContent is the structured payload stored per review.
type memoryContent struct {
	OverallScore float64            `json:"overall_score"`
	Criteria     map[string]float64 `json:"criteria"`
	Strengths    []string           `json:"strengths"`
	Improvements []string           `json:"improvements"`
	Tags         []string           `json:"tags,omitempty"`
}

// MemoryRecorder persists per-review progress notes and recalls them for
// prompt context. The embedder is optional; without it recall falls back to
// recency.
type MemoryRecorder struct {
	data        store.Store
	embedder    ai.Embedder
	recallLimit int
}

// NewMemoryRecorder builds a recorder. embedder may be nil.
func NewMemoryRecorder(data store.Store, embedder ai.Embedder, recallLimit int) *MemoryRecorder {
	if recallLimit <= 0 {
		recallLimit = 5
	}
	return &MemoryRecorder{data: data, embedder: embedder, recallLimit: recallLimit}
}

// Record stores the analysis as a progress memory. Failures are the caller's
// to log; a lost memory never fails the review.
func (m *MemoryRecorder) Record(ctx context.Context, userID, taskID string, analysis domain.Analysis) error {
	content := memoryContent{
		OverallScore: analysis.OverallScore,
		Criteria: map[string]float64{
			"proportion":   analysis.Proportion.Score,
			"tone":         analysis.Tone.Score,
			"texture":      analysis.Texture.Score,
			"line_quality": analysis.LineQuality.Score,
		},
		Strengths:    analysis.Strengths,
		Improvements: analysis.Improvements,
		Tags:         analysis.Tags,
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}

	var embedding []float32
	if m.embedder != nil {
		embedding, err = m.embedder.EmbedText(ctx, embeddingText(analysis), "RETRIEVAL_DOCUMENT")
		if err != nil {
			// Degrade to recency-only recall for this entry.
			embedding = nil
		}
	}

	memory := domain.ProgressMemory{
		ID:        uuid.NewString(),
		UserID:    userID,
		TaskID:    taskID,
		Content:   string(raw),
		Score:     analysis.OverallScore,
		CreatedAt: time.Now().UTC(),
	}
	return m.data.SaveMemory(ctx, memory, embedding)
}

// RecentContext builds a short Japanese context block describing the user's
// recent submissions, for inclusion in the analysis prompt.
func (m *MemoryRecorder) RecentContext(ctx context.Context, userID string) (string, error) {
	memories, err := m.recall(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(memories) == 0 {
		return "", nil
	}

	// memories arrive newest-first; the most recent entry drives the summary.
	var parts []string
	if latest := decodeContent(memories[0].Content); latest != nil {
		if len(latest.Strengths) > 0 {
			parts = append(parts, "前回の強み: "+strings.Join(head(latest.Strengths, 2), ", "))
		}
		if len(latest.Improvements) > 0 {
			parts = append(parts, "前回の改善点: "+strings.Join(head(latest.Improvements, 2), ", "))
		}
	}
	for _, progression := range Progressions(memories) {
		if progression.Trend != TrendStable {
			parts = append(parts, fmt.Sprintf("%s は %s 傾向", progression.Category, trendLabel(progression.Trend)))
		}
	}
	parts = append(parts, fmt.Sprintf("これまでの提出回数: %d", len(memories)))
	return strings.Join(parts, "。"), nil
}

func (m *MemoryRecorder) recall(ctx context.Context, userID string) ([]domain.ProgressMemory, error) {
	if m.embedder != nil {
		query, err := m.embedder.EmbedText(ctx, "デッサン分析結果 スコア 評価", "RETRIEVAL_QUERY")
		if err == nil && len(query) > 0 {
			return m.data.SearchMemories(ctx, userID, query, m.recallLimit)
		}
	}
	return m.data.ListRecentMemories(ctx, userID, m.recallLimit)
}

// Progressions aggregates per-criterion score history. Input is newest-first.
func Progressions(memories []domain.ProgressMemory) []SkillProgression {
	categories := []string{"proportion", "tone", "texture", "line_quality"}
	scores := make(map[string][]float64, len(categories))

	// walk oldest-first so trends read chronologically
	for i := len(memories) - 1; i >= 0; i-- {
		content := decodeContent(memories[i].Content)
		if content == nil {
			continue
		}
		for _, category := range categories {
			if score, ok := content.Criteria[category]; ok {
				scores[category] = append(scores[category], score)
			}
		}
	}

	var progressions []SkillProgression
	for _, category := range categories {
		history := scores[category]
		if len(history) == 0 {
			continue
		}
		var sum float64
		for _, score := range history {
			sum += score
		}
		progressions = append(progressions, SkillProgression{
			Category:        category,
			AverageScore:    sum / float64(len(history)),
			LatestScore:     history[len(history)-1],
			Trend:           calculateTrend(history),
			SubmissionCount: len(history),
		})
	}
	return progressions
}

// calculateTrend compares the recent average (last 3) against the overall
// average; a swing over 5 points counts as a trend.
func calculateTrend(scores []float64) string {
	if len(scores) < 2 {
		return TrendStable
	}
	recentCount := 3
	if len(scores) < recentCount {
		recentCount = len(scores)
	}
	var recentSum, overallSum float64
	for _, score := range scores[len(scores)-recentCount:] {
		recentSum += score
	}
	for _, score := range scores {
		overallSum += score
	}
	diff := recentSum/float64(recentCount) - overallSum/float64(len(scores))
	switch {
	case diff > 5:
		return TrendImproving
	case diff < -5:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func decodeContent(raw string) *memoryContent {
	var content memoryContent
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		return nil
	}
	return &content
}

func embeddingText(analysis domain.Analysis) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("総合スコア %.1f", analysis.OverallScore))
	parts = append(parts, analysis.Strengths...)
	parts = append(parts, analysis.Improvements...)
	parts = append(parts, analysis.Tags...)
	return strings.Join(parts, " ")
}

func trendLabel(trend string) string {
	switch trend {
	case TrendImproving:
		return "上昇"
	case TrendDeclining:
		return "下降"
	default:
		return "横ばい"
	}
}

func head(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
