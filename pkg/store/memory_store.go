package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dessincoach/pkg/domain"
)

// MemoryStore is an in-memory Store used in tests and local development.
type MemoryStore struct {
	mu         sync.RWMutex
	tasks      map[string]domain.ReviewTask
	ranks      map[string]domain.UserRankRecord
	events     map[string][]domain.RankChangeEvent
	memories   map[string][]domain.ProgressMemory
	embeddings map[string][]float32
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:      make(map[string]domain.ReviewTask),
		ranks:      make(map[string]domain.UserRankRecord),
		events:     make(map[string][]domain.RankChangeEvent),
		memories:   make(map[string][]domain.ProgressMemory),
		embeddings: make(map[string][]float32),
	}
}

func (s *MemoryStore) CreateTask(_ context.Context, userID, imageURL, exampleImageURL string) (domain.ReviewTask, error) {
	now := time.Now().UTC()
	task := domain.ReviewTask{
		ID:              uuid.NewString(),
		UserID:          userID,
		Status:          domain.TaskPending,
		ImageURL:        imageURL,
		ExampleImageURL: exampleImageURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()
	return task, nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (domain.ReviewTask, bool, error) {
	s.mu.RLock()
	task, ok := s.tasks[id]
	s.mu.RUnlock()
	return task, ok, nil
}

func (s *MemoryStore) ListTasks(_ context.Context, userID string, limit int, filter TaskFilter) ([]domain.ReviewTask, error) {
	s.mu.RLock()
	matched := make([]domain.ReviewTask, 0)
	for _, task := range s.tasks {
		if task.UserID != userID {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.Tag != "" && !containsTag(task.Tags, filter.Tag) {
			continue
		}
		if !filter.From.IsZero() && task.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && task.CreatedAt.After(filter.To) {
			continue
		}
		matched = append(matched, task)
	}
	s.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	limit = clampLimit(limit)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) UpdateTaskStatus(_ context.Context, id string, status domain.TaskStatus, patch TaskPatch) (domain.ReviewTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return domain.ReviewTask{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	task.Status = status
	task.UpdatedAt = time.Now().UTC()
	if patch.Feedback != nil {
		feedback := *patch.Feedback
		task.Feedback = &feedback
	}
	if patch.Score != nil {
		score := *patch.Score
		task.Score = &score
	}
	if patch.Tags != nil {
		task.Tags = append([]string(nil), patch.Tags...)
	}
	if patch.ErrorMessage != nil {
		task.ErrorMessage = *patch.ErrorMessage
	}
	if patch.AnnotatedImageURL != nil {
		task.AnnotatedImageURL = *patch.AnnotatedImageURL
	}
	if patch.ExampleImageURL != nil {
		task.ExampleImageURL = *patch.ExampleImageURL
	}
	if patch.RankChanged != nil {
		task.RankChanged = *patch.RankChanged
	}
	s.tasks[id] = task
	return task, nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return false, nil
	}
	delete(s.tasks, id)
	return true, nil
}

func (s *MemoryStore) GetRankRecord(_ context.Context, userID string) (domain.UserRankRecord, bool, error) {
	s.mu.RLock()
	record, ok := s.ranks[userID]
	s.mu.RUnlock()
	return record, ok, nil
}

func (s *MemoryStore) SaveRankRecord(_ context.Context, record domain.UserRankRecord) error {
	s.mu.Lock()
	s.ranks[record.UserID] = record
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) AppendRankEvent(_ context.Context, event domain.RankChangeEvent) error {
	s.mu.Lock()
	s.events[event.UserID] = append(s.events[event.UserID], event)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListRankEvents(_ context.Context, userID string, limit int) ([]domain.RankChangeEvent, error) {
	s.mu.RLock()
	events := append([]domain.RankChangeEvent(nil), s.events[userID]...)
	s.mu.RUnlock()
	sort.Slice(events, func(i, j int) bool {
		return events[i].ChangedAt.After(events[j].ChangedAt)
	})
	limit = clampLimit(limit)
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *MemoryStore) SaveMemory(_ context.Context, memory domain.ProgressMemory, embedding []float32) error {
	s.mu.Lock()
	s.memories[memory.UserID] = append(s.memories[memory.UserID], memory)
	if len(embedding) > 0 {
		s.embeddings[memory.ID] = append([]float32(nil), embedding...)
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListRecentMemories(ctx context.Context, userID string, limit int) ([]domain.ProgressMemory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	memories := append([]domain.ProgressMemory(nil), s.memories[userID]...)
	s.mu.RUnlock()
	sort.Slice(memories, func(i, j int) bool {
		return memories[i].CreatedAt.After(memories[j].CreatedAt)
	})
	limit = clampLimit(limit)
	if len(memories) > limit {
		memories = memories[:limit]
	}
	return memories, nil
}

// SearchMemories approximates similarity search by recency; the in-memory
// store has no vector index.
func (s *MemoryStore) SearchMemories(ctx context.Context, userID string, _ []float32, limit int) ([]domain.ProgressMemory, error) {
	if limit <= 0 {
		return []domain.ProgressMemory{}, nil
	}
	return s.ListRecentMemories(ctx, userID, limit)
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
