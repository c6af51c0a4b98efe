// Package app implements the review API use cases: submitting drawings,
// reading results, and rank queries.
package app

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"dessincoach/internal/util"
	"dessincoach/pkg/domain"
	"dessincoach/pkg/promotion"
	"dessincoach/pkg/queue"
	"dessincoach/pkg/storage"
	"dessincoach/pkg/store"
)

const uploadURLExpiry = 15 * time.Minute

// ReviewQueue is the part of the job queue the API needs.
type ReviewQueue interface {
	Enqueue(ctx context.Context, taskID, userID, imageURL string) (queue.JobStatus, error)
}

// App holds the review service dependencies.
type App struct {
	data         store.Store
	jobs         ReviewQueue
	promotion    *promotion.Store
	objects      storage.ObjectStore // optional, enables upload URLs
	allowedHosts []string
}

// Config wires the app dependencies.
type Config struct {
	Store        store.Store
	Queue        ReviewQueue
	Promotion    *promotion.Store
	Objects      storage.ObjectStore
	AllowedHosts []string
}

// New builds the app.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if cfg.Promotion == nil {
		return nil, errors.New("promotion store is required")
	}
	return &App{
		data:         cfg.Store,
		jobs:         cfg.Queue,
		promotion:    cfg.Promotion,
		objects:      cfg.Objects,
		allowedHosts: cfg.AllowedHosts,
	}, nil
}

// SubmitReview creates a pending task and enqueues it for the worker.
func (a *App) SubmitReview(ctx context.Context, userID, imageURL string) (domain.ReviewTask, error) {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return domain.ReviewTask{}, fmt.Errorf("%w: imageUrl is required", ErrInvalidInput)
	}
	if !storage.AllowedOrigin(imageURL, a.allowedHosts) {
		return domain.ReviewTask{}, fmt.Errorf("%w: imageUrl host is not allowed", ErrInvalidInput)
	}

	task, err := a.data.CreateTask(ctx, userID, imageURL, "")
	if err != nil {
		return domain.ReviewTask{}, fmt.Errorf("create task: %w", err)
	}
	if _, err := a.jobs.Enqueue(ctx, task.ID, userID, imageURL); err != nil {
		// The task stays PENDING; a submitted record without a queued job is
		// recoverable, a queued job without a record is not.
		util.LoggerFromContext(ctx).Error("enqueue failed after task create", "taskId", task.ID, "err", err)
		return domain.ReviewTask{}, fmt.Errorf("enqueue review: %w", err)
	}
	return task, nil
}

// GetReview returns one task, enforcing ownership.
func (a *App) GetReview(ctx context.Context, userID, taskID string) (domain.ReviewTask, error) {
	task, found, err := a.data.GetTask(ctx, taskID)
	if err != nil {
		return domain.ReviewTask{}, fmt.Errorf("load task: %w", err)
	}
	if !found {
		return domain.ReviewTask{}, fmt.Errorf("%w: review %s", ErrNotFound, taskID)
	}
	if task.UserID != userID {
		return domain.ReviewTask{}, ErrForbidden
	}
	return task, nil
}

// ListReviews returns the user's tasks, newest first.
func (a *App) ListReviews(ctx context.Context, userID string, limit int, filter store.TaskFilter) ([]domain.ReviewTask, error) {
	tasks, err := a.data.ListTasks(ctx, userID, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// DeleteReview removes a task. Deleting an absent task is not an error.
func (a *App) DeleteReview(ctx context.Context, userID, taskID string) error {
	task, found, err := a.data.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if !found {
		return nil
	}
	if task.UserID != userID {
		return ErrForbidden
	}
	if _, err := a.data.DeleteTask(ctx, taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// GetRank returns the user's rank record. Users who never submitted get the
// starting rank with zero submissions.
func (a *App) GetRank(ctx context.Context, userID string) (domain.UserRankRecord, error) {
	record, found, err := a.promotion.GetRank(ctx, userID)
	if err != nil {
		return domain.UserRankRecord{}, fmt.Errorf("load rank: %w", err)
	}
	if !found {
		return domain.UserRankRecord{
			UserID:      userID,
			CurrentRank: domain.RankKyu10,
		}, nil
	}
	return record, nil
}

// RankHistory returns the user's rank change events, newest first.
func (a *App) RankHistory(ctx context.Context, userID string, limit int) ([]domain.RankChangeEvent, error) {
	events, err := a.promotion.History(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("load rank history: %w", err)
	}
	return events, nil
}

// UploadTarget is a presigned upload destination.
type UploadTarget struct {
	UploadURL string `json:"uploadUrl"`
	ImageURL  string `json:"imageUrl"`
	ExpiresIn int    `json:"expiresIn"`
}

// CreateUploadURL issues a presigned PUT URL for a new drawing. Only JPEG and
// PNG uploads are accepted.
func (a *App) CreateUploadURL(ctx context.Context, userID, filename string) (UploadTarget, error) {
	if a.objects == nil {
		return UploadTarget{}, fmt.Errorf("%w: direct uploads are not configured", ErrInvalidInput)
	}
	switch strings.ToLower(path.Ext(filename)) {
	case "", ".png", ".jpg", ".jpeg":
	default:
		return UploadTarget{}, fmt.Errorf("%w: only jpeg and png uploads are supported", ErrInvalidInput)
	}
	key := storage.UploadKey(userID, filename)
	uploadURL, err := a.objects.PresignPut(ctx, key, uploadURLExpiry)
	if err != nil {
		return UploadTarget{}, fmt.Errorf("presign upload: %w", err)
	}
	return UploadTarget{
		UploadURL: uploadURL,
		ImageURL:  a.objects.PublicURL(key),
		ExpiresIn: int(uploadURLExpiry.Seconds()),
	}, nil
}

// CompleteEnrichment finishes a task once the example image arrives from the
// enrichment service. Failed tasks never transition back; completed tasks
// accept the image idempotently.
func (a *App) CompleteEnrichment(ctx context.Context, taskID, exampleImageURL string) (domain.ReviewTask, error) {
	exampleImageURL = strings.TrimSpace(exampleImageURL)
	if exampleImageURL == "" {
		return domain.ReviewTask{}, fmt.Errorf("%w: exampleImageUrl is required", ErrInvalidInput)
	}
	task, found, err := a.data.GetTask(ctx, taskID)
	if err != nil {
		return domain.ReviewTask{}, fmt.Errorf("load task: %w", err)
	}
	if !found {
		return domain.ReviewTask{}, fmt.Errorf("%w: review %s", ErrNotFound, taskID)
	}
	if task.Status == domain.TaskFailed {
		return domain.ReviewTask{}, fmt.Errorf("%w: review already failed", ErrConflict)
	}

	updated, err := a.data.UpdateTaskStatus(ctx, taskID, domain.TaskCompleted, store.TaskPatch{
		ExampleImageURL: &exampleImageURL,
	})
	if err != nil {
		return domain.ReviewTask{}, fmt.Errorf("complete task: %w", err)
	}
	return updated, nil
}
