package domain

import "time"

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether no further status transition is allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CanTransitionTo codifies the task state machine:
// pending -> processing -> completed, with pending/processing -> failed.
// Stores do not re-validate transitions; callers check here first.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case TaskPending:
		return next == TaskProcessing || next == TaskFailed
	case TaskProcessing:
		return next == TaskProcessing || next == TaskCompleted || next == TaskFailed
	}
	return false
}

// ReviewTask is one drawing submission under review.
type ReviewTask struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	Status            TaskStatus `json:"status"`
	ImageURL          string     `json:"imageUrl"`
	ExampleImageURL   string     `json:"exampleImageUrl,omitempty"`
	AnnotatedImageURL string     `json:"annotatedImageUrl,omitempty"`
	Feedback          *Feedback  `json:"feedback,omitempty"`
	Score             *float64   `json:"score,omitempty"`
	Tags              []string   `json:"tags,omitempty"`
	RankChanged       bool       `json:"rankChanged,omitempty"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Criterion is one scored axis of an analysis with short per-aspect notes.
type Criterion struct {
	Score float64           `json:"score"`
	Notes map[string]string `json:"notes,omitempty"`
}

// Analysis is the structured scoring result produced by the analyzer.
type Analysis struct {
	OverallScore float64   `json:"overall_score"`
	Proportion   Criterion `json:"proportion"`
	Tone         Criterion `json:"tone"`
	Texture      Criterion `json:"texture"`
	LineQuality  Criterion `json:"line_quality"`
	Strengths    []string  `json:"strengths,omitempty"`
	Improvements []string  `json:"improvements,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
}

// Feedback is the analysis enriched with composed text for the user.
type Feedback struct {
	Analysis         Analysis `json:"analysis"`
	Summary          string   `json:"summary"`
	DetailedFeedback string   `json:"detailed_feedback"`
}

// Rank is one of 15 ordered skill levels, 1 (lowest) through 15 (highest).
type Rank int

const (
	RankKyu10 Rank = iota + 1
	RankKyu9
	RankKyu8
	RankKyu7
	RankKyu6
	RankKyu5
	RankKyu4
	RankKyu3
	RankKyu2
	RankKyu1
	RankDan1
	RankDan2
	RankDan3
	RankShihanDai
	RankShihan
)

// RankCount is the number of defined ranks.
const RankCount = int(RankShihan)

var rankLabels = [RankCount]string{
	"10級", "9級", "8級", "7級", "6級",
	"5級", "4級", "3級", "2級", "1級",
	"初段", "二段", "三段", "師範代", "師範",
}

// Valid reports whether r is one of the defined ranks.
func (r Rank) Valid() bool {
	return r >= RankKyu10 && r <= RankShihan
}

// Label returns the display label for the rank. Out-of-range values
// map to the lowest rank's label.
func (r Rank) Label() string {
	if !r.Valid() {
		r = RankKyu10
	}
	return rankLabels[int(r)-1]
}

// UserRankRecord tracks a user's cumulative promotion state.
type UserRankRecord struct {
	UserID           string    `json:"userId"`
	CurrentRank      Rank      `json:"currentRank"`
	LatestScore      float64   `json:"latestScore"`
	TotalSubmissions int       `json:"totalSubmissions"`
	HighScores       []float64 `json:"highScores"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// RankChangeEvent is an immutable audit record of a rank change,
// including the initial assignment (OldRank nil).
type RankChangeEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	OldRank   *Rank     `json:"oldRank"`
	NewRank   Rank      `json:"newRank"`
	Score     float64   `json:"score"`
	TaskID    string    `json:"taskId"`
	ChangedAt time.Time `json:"changedAt"`
}

// ProgressMemory is a short retrievable note about one completed review,
// used to recall a user's recent trajectory during feedback composition.
type ProgressMemory struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	TaskID    string    `json:"taskId"`
	Content   string    `json:"content"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"createdAt"`
}
