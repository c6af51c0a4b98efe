// Package app runs the review pipeline: it consumes queued review jobs,
// scores the drawing, applies the score to the user's rank, composes
// feedback and triggers image enrichments.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dessincoach/pkg/ai"
	"dessincoach/pkg/domain"
	"dessincoach/pkg/promotion"
	"dessincoach/pkg/queue"
	"dessincoach/pkg/store"
)

// failedReviewMessage is the user-facing error stored on failed tasks.
// Analyzer errors never leak to users.
const failedReviewMessage = "講評の生成に失敗しました。時間をおいて再度お試しください。"

// App orchestrates one review from PROCESSING to a terminal status.
type App struct {
	data      store.Store
	promotion *promotion.Store
	analyzer  ai.Analyzer
	memories  *MemoryRecorder
	annotator Annotator         // optional
	exampler  ExampleDispatcher // optional
}

// Config wires the pipeline dependencies. Annotator and Exampler are
// optional enrichments.
type Config struct {
	Store     store.Store
	Promotion *promotion.Store
	Analyzer  ai.Analyzer
	Memories  *MemoryRecorder
	Annotator Annotator
	Exampler  ExampleDispatcher
}

// New builds the pipeline.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Promotion == nil {
		return nil, errors.New("promotion store is required")
	}
	if cfg.Analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	memories := cfg.Memories
	if memories == nil {
		memories = NewMemoryRecorder(cfg.Store, nil, 0)
	}
	return &App{
		data:      cfg.Store,
		promotion: cfg.Promotion,
		analyzer:  cfg.Analyzer,
		memories:  memories,
		annotator: cfg.Annotator,
		exampler:  cfg.Exampler,
	}, nil
}

// ProcessReview handles one queued review job. A non-nil return requeues the
// job, so only transient infrastructure errors propagate; review-level
// failures are written to the task and absorbed.
//
// Delivery is at-least-once: a redelivered job whose task already reached a
// terminal status is dropped without side effects.
func (a *App) ProcessReview(ctx context.Context, job queue.JobStatus) error {
	logger := slog.With("taskId", job.TaskID, "jobId", job.ID)

	task, found, err := a.data.GetTask(ctx, job.TaskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if !found {
		logger.Warn("review job references unknown task, dropping")
		return nil
	}
	if task.Status.Terminal() {
		logger.Info("task already terminal, dropping redelivery", "status", task.Status)
		return nil
	}

	if _, err := a.data.UpdateTaskStatus(ctx, task.ID, domain.TaskProcessing, store.TaskPatch{}); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	// Rank label and history context are prompt hints only.
	rankLabel := ""
	priorRank := domain.RankKyu10
	if record, ok, err := a.promotion.GetRank(ctx, task.UserID); err == nil && ok {
		rankLabel = record.CurrentRank.Label()
		priorRank = record.CurrentRank
	} else if err != nil {
		logger.Warn("rank lookup failed, analyzing without rank context", "err", err)
	}
	recentContext, err := a.memories.RecentContext(ctx, task.UserID)
	if err != nil {
		logger.Warn("memory recall failed, analyzing without history", "err", err)
		recentContext = ""
	}

	analysis, err := a.analyzer.Analyze(ctx, task.ImageURL, rankLabel, recentContext)
	if err != nil {
		logger.Error("analysis failed", "err", err)
		msg := failedReviewMessage
		if _, markErr := a.data.UpdateTaskStatus(ctx, task.ID, domain.TaskFailed, store.TaskPatch{
			ErrorMessage: &msg,
		}); markErr != nil {
			return fmt.Errorf("mark failed: %w", markErr)
		}
		return nil
	}

	// Checkpoint the full analysis before rank evaluation so a crash between
	// the two steps never loses the score or the criteria breakdown. The
	// composed text is filled in by the second checkpoint.
	score := analysis.OverallScore
	partial := domain.Feedback{Analysis: analysis}
	if _, err := a.data.UpdateTaskStatus(ctx, task.ID, domain.TaskProcessing, store.TaskPatch{
		Feedback: &partial,
		Score:    &score,
		Tags:     analysis.Tags,
	}); err != nil {
		return fmt.Errorf("checkpoint analysis: %w", err)
	}

	record, promoted, err := a.promotion.ApplyScore(ctx, task.UserID, analysis.OverallScore, task.ID)
	if err != nil {
		// Rank bookkeeping must not block feedback delivery. Fall back to the
		// best-known prior rank and let the next submission repair the record.
		logger.Error("rank update failed, continuing with prior rank", "err", err)
		record = domain.UserRankRecord{UserID: task.UserID, CurrentRank: priorRank}
		promoted = false
	}

	feedback := ComposeFeedback(analysis, record.CurrentRank, promoted)
	if _, err := a.data.UpdateTaskStatus(ctx, task.ID, domain.TaskProcessing, store.TaskPatch{
		Feedback:    &feedback,
		RankChanged: &promoted,
	}); err != nil {
		return fmt.Errorf("checkpoint feedback: %w", err)
	}

	if err := a.memories.Record(ctx, task.UserID, task.ID, analysis); err != nil {
		logger.Warn("progress memory write failed", "err", err)
	}

	annotatedURL := ""
	if a.annotator != nil {
		url, err := a.annotator.Annotate(ctx, task.ID, task.ImageURL, analysis, record.CurrentRank.Label())
		if err != nil {
			logger.Warn("annotation failed, delivering feedback without overlay", "err", err)
		} else {
			annotatedURL = url
			if _, err := a.data.UpdateTaskStatus(ctx, task.ID, domain.TaskProcessing, store.TaskPatch{
				AnnotatedImageURL: &annotatedURL,
			}); err != nil {
				return fmt.Errorf("store annotated image: %w", err)
			}
		}
	}

	if a.exampler != nil {
		if err := a.exampler.Dispatch(ctx, task.ID, task.UserID, task.ImageURL, analysis, annotatedURL); err != nil {
			logger.Warn("example image dispatch failed, completing without example", "err", err)
		} else {
			// The enricher completes the task through the callback endpoint.
			logger.Info("example image dispatched, awaiting callback")
			return nil
		}
	}

	if _, err := a.data.UpdateTaskStatus(ctx, task.ID, domain.TaskCompleted, store.TaskPatch{}); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	logger.Info("review completed", "score", analysis.OverallScore, "rank", record.CurrentRank.Label(), "promoted", promoted)
	return nil
}
