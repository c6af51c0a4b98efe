package store

import (
	"context"
	"errors"
	"time"

	"dessincoach/pkg/domain"
)

// ErrTaskNotFound is returned when an update targets a missing task.
var ErrTaskNotFound = errors.New("task not found")

const (
	// DefaultListLimit applies when a list request omits the limit.
	DefaultListLimit = 20
	// MaxListLimit caps any list request.
	MaxListLimit = 100
)

// TaskFilter narrows ListTasks results. All set fields apply conjunctively.
type TaskFilter struct {
	Status domain.TaskStatus
	Tag    string
	From   time.Time
	To     time.Time
}

// TaskPatch carries the optional fields of a partial task update.
// Nil fields are left untouched.
type TaskPatch struct {
	Feedback          *domain.Feedback
	Score             *float64
	Tags              []string
	ErrorMessage      *string
	AnnotatedImageURL *string
	ExampleImageURL   *string
	RankChanged       *bool
}

// Store defines persistence for review tasks, rank records, rank change
// events, and progress memories.
type Store interface {
	// tasks
	CreateTask(ctx context.Context, userID, imageURL, exampleImageURL string) (domain.ReviewTask, error)
	GetTask(ctx context.Context, id string) (domain.ReviewTask, bool, error)
	ListTasks(ctx context.Context, userID string, limit int, filter TaskFilter) ([]domain.ReviewTask, error)
	UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus, patch TaskPatch) (domain.ReviewTask, error)
	DeleteTask(ctx context.Context, id string) (bool, error)

	// rank records
	GetRankRecord(ctx context.Context, userID string) (domain.UserRankRecord, bool, error)
	SaveRankRecord(ctx context.Context, record domain.UserRankRecord) error
	AppendRankEvent(ctx context.Context, event domain.RankChangeEvent) error
	ListRankEvents(ctx context.Context, userID string, limit int) ([]domain.RankChangeEvent, error)

	// progress memories
	SaveMemory(ctx context.Context, memory domain.ProgressMemory, embedding []float32) error
	ListRecentMemories(ctx context.Context, userID string, limit int) ([]domain.ProgressMemory, error)
	SearchMemories(ctx context.Context, userID string, embedding []float32, limit int) ([]domain.ProgressMemory, error)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
