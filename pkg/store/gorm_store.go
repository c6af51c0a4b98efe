package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"dessincoach/pkg/domain"
)

const migrateLockID int64 = 48120331

const (
	defaultEmbeddingDim      = 768
	canonicalEmbeddingDimEnv = "DESSIN_EMBEDDING_DIM"
)

type GormStoreOptions struct {
	EmbeddingDim int
}

type GormStoreOption func(*GormStoreOptions)

// WithEmbeddingDim sets the embedding dimension used for progress memories.
func WithEmbeddingDim(dim int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.EmbeddingDim = dim
	}
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db           *gorm.DB
	embeddingDim int
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	embeddingDim, err := resolveEmbeddingDim(opts.EmbeddingDim)
	if err != nil {
		return nil, err
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		if err := tx.AutoMigrate(&TaskModel{}, &RankRecordModel{}, &RankEventModel{}, &MemoryModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(`
			DO $$
			BEGIN
			IF EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'memory_models' AND column_name = 'embedding'
			) THEN
				ALTER TABLE memory_models ALTER COLUMN embedding TYPE vector(%d);
			END IF;
			END $$;
		`, embeddingDim)).Error; err != nil {
			return fmt.Errorf("alter memory embedding type: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, embeddingDim: embeddingDim}, nil
}

func resolveEmbeddingDim(configValue int) (int, error) {
	if configValue > 0 {
		return configValue, nil
	}
	raw := strings.TrimSpace(os.Getenv(canonicalEmbeddingDimEnv))
	if raw == "" {
		return defaultEmbeddingDim, nil
	}
	dim, err := strconv.Atoi(raw)
	if err != nil || dim <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", canonicalEmbeddingDimEnv, raw)
	}
	return dim, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateTask inserts a new pending task with a fresh ID.
func (s *GormStore) CreateTask(ctx context.Context, userID, imageURL, exampleImageURL string) (domain.ReviewTask, error) {
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
	model, err := taskToModel(task)
	if err != nil {
		return domain.ReviewTask{}, err
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.ReviewTask{}, err
	}
	return task, nil
}

// GetTask retrieves a task by ID.
func (s *GormStore) GetTask(ctx context.Context, id string) (domain.ReviewTask, bool, error) {
	var model TaskModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ReviewTask{}, false, nil
		}
		return domain.ReviewTask{}, false, err
	}
	task, err := taskFromModel(model)
	if err != nil {
		return domain.ReviewTask{}, false, err
	}
	return task, true, nil
}

// ListTasks returns a user's tasks newest-first with conjunctive filters.
func (s *GormStore) ListTasks(ctx context.Context, userID string, limit int, filter TaskFilter) ([]domain.ReviewTask, error) {
	tx := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.Status != "" {
		tx = tx.Where("status = ?", string(filter.Status))
	}
	if filter.Tag != "" {
		tx = tx.Where("tags @> ?", fmt.Sprintf("[%q]", filter.Tag))
	}
	if !filter.From.IsZero() {
		tx = tx.Where("created_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		tx = tx.Where("created_at <= ?", filter.To.UTC())
	}
	var models []TaskModel
	if err := tx.Order("created_at DESC").Limit(clampLimit(limit)).Find(&models).Error; err != nil {
		return nil, err
	}
	tasks := make([]domain.ReviewTask, 0, len(models))
	for _, model := range models {
		task, err := taskFromModel(model)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// UpdateTaskStatus writes status, updated_at, and any supplied patch fields.
func (s *GormStore) UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus, patch TaskPatch) (domain.ReviewTask, error) {
	updates := map[string]any{
		"status":     string(status),
		"updated_at": time.Now().UTC(),
	}
	if patch.Feedback != nil {
		raw, err := json.Marshal(patch.Feedback)
		if err != nil {
			return domain.ReviewTask{}, fmt.Errorf("encode feedback: %w", err)
		}
		updates["feedback"] = raw
	}
	if patch.Score != nil {
		updates["score"] = *patch.Score
	}
	if patch.Tags != nil {
		raw, err := json.Marshal(patch.Tags)
		if err != nil {
			return domain.ReviewTask{}, fmt.Errorf("encode tags: %w", err)
		}
		updates["tags"] = raw
	}
	if patch.ErrorMessage != nil {
		updates["error_message"] = *patch.ErrorMessage
	}
	if patch.AnnotatedImageURL != nil {
		updates["annotated_image_url"] = *patch.AnnotatedImageURL
	}
	if patch.ExampleImageURL != nil {
		updates["example_image_url"] = *patch.ExampleImageURL
	}
	if patch.RankChanged != nil {
		updates["rank_changed"] = *patch.RankChanged
	}
	res := s.db.WithContext(ctx).Model(&TaskModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return domain.ReviewTask{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ReviewTask{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	task, found, err := s.GetTask(ctx, id)
	if err != nil {
		return domain.ReviewTask{}, err
	}
	if !found {
		return domain.ReviewTask{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task, nil
}

// DeleteTask removes a task. Deleting an absent task is not an error.
func (s *GormStore) DeleteTask(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&TaskModel{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetRankRecord returns a user's rank record; absence means never evaluated.
func (s *GormStore) GetRankRecord(ctx context.Context, userID string) (domain.UserRankRecord, bool, error) {
	var model RankRecordModel
	if err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.UserRankRecord{}, false, nil
		}
		return domain.UserRankRecord{}, false, err
	}
	record, err := rankRecordFromModel(model)
	if err != nil {
		return domain.UserRankRecord{}, false, err
	}
	return record, true, nil
}

// SaveRankRecord upserts the rank columns only, leaving any other state on
// the user row untouched.
func (s *GormStore) SaveRankRecord(ctx context.Context, record domain.UserRankRecord) error {
	model, err := rankRecordToModel(record)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"current_rank", "latest_score", "total_submissions", "high_scores", "updated_at"}),
	}).Create(&model).Error
}

// AppendRankEvent records one rank change event.
func (s *GormStore) AppendRankEvent(ctx context.Context, event domain.RankChangeEvent) error {
	model := rankEventToModel(event)
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListRankEvents returns a user's rank history, newest-first.
func (s *GormStore) ListRankEvents(ctx context.Context, userID string, limit int) ([]domain.RankChangeEvent, error) {
	var models []RankEventModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("changed_at DESC").
		Limit(clampLimit(limit)).
		Find(&models).Error; err != nil {
		return nil, err
	}
	events := make([]domain.RankChangeEvent, 0, len(models))
	for _, model := range models {
		events = append(events, rankEventFromModel(model))
	}
	return events, nil
}

// SaveMemory stores a progress memory, optionally with an embedding.
func (s *GormStore) SaveMemory(ctx context.Context, memory domain.ProgressMemory, embedding []float32) error {
	model := MemoryModel{
		ID:        memory.ID,
		UserID:    memory.UserID,
		TaskID:    memory.TaskID,
		Content:   memory.Content,
		Score:     memory.Score,
		CreatedAt: memory.CreatedAt,
	}
	if len(embedding) > 0 {
		if s.embeddingDim > 0 && len(embedding) != s.embeddingDim {
			return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), s.embeddingDim)
		}
		vec := pgvector.NewVector(embedding)
		model.Embedding = &vec
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListRecentMemories returns a user's memories, newest-first.
func (s *GormStore) ListRecentMemories(ctx context.Context, userID string, limit int) ([]domain.ProgressMemory, error) {
	var models []MemoryModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(clampLimit(limit)).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return memoriesFromModels(models), nil
}

// SearchMemories finds a user's memories most similar to the embedding.
func (s *GormStore) SearchMemories(ctx context.Context, userID string, embedding []float32, limit int) ([]domain.ProgressMemory, error) {
	if limit <= 0 {
		return []domain.ProgressMemory{}, nil
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding vector is empty")
	}
	if s.embeddingDim > 0 && len(embedding) != s.embeddingDim {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), s.embeddingDim)
	}
	vec := pgvector.NewVector(embedding)
	var models []MemoryModel
	if err := s.db.WithContext(ctx).Model(&MemoryModel{}).
		Where("user_id = ? AND embedding IS NOT NULL", userID).
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return memoriesFromModels(models), nil
}

func memoriesFromModels(models []MemoryModel) []domain.ProgressMemory {
	memories := make([]domain.ProgressMemory, 0, len(models))
	for _, model := range models {
		memories = append(memories, domain.ProgressMemory{
			ID:        model.ID,
			UserID:    model.UserID,
			TaskID:    model.TaskID,
			Content:   model.Content,
			Score:     model.Score,
			CreatedAt: model.CreatedAt,
		})
	}
	return memories
}

func taskToModel(task domain.ReviewTask) (TaskModel, error) {
	model := TaskModel{
		ID:                task.ID,
		UserID:            task.UserID,
		Status:            string(task.Status),
		ImageURL:          task.ImageURL,
		ExampleImageURL:   task.ExampleImageURL,
		AnnotatedImageURL: task.AnnotatedImageURL,
		Score:             task.Score,
		RankChanged:       task.RankChanged,
		ErrorMessage:      task.ErrorMessage,
		CreatedAt:         task.CreatedAt,
		UpdatedAt:         task.UpdatedAt,
	}
	if task.Feedback != nil {
		raw, err := json.Marshal(task.Feedback)
		if err != nil {
			return TaskModel{}, fmt.Errorf("encode feedback: %w", err)
		}
		model.Feedback = raw
	}
	if task.Tags != nil {
		raw, err := json.Marshal(task.Tags)
		if err != nil {
			return TaskModel{}, fmt.Errorf("encode tags: %w", err)
		}
		model.Tags = raw
	}
	return model, nil
}

func taskFromModel(model TaskModel) (domain.ReviewTask, error) {
	task := domain.ReviewTask{
		ID:                model.ID,
		UserID:            model.UserID,
		Status:            domain.TaskStatus(model.Status),
		ImageURL:          model.ImageURL,
		ExampleImageURL:   model.ExampleImageURL,
		AnnotatedImageURL: model.AnnotatedImageURL,
		Score:             model.Score,
		RankChanged:       model.RankChanged,
		ErrorMessage:      model.ErrorMessage,
		CreatedAt:         model.CreatedAt,
		UpdatedAt:         model.UpdatedAt,
	}
	if len(model.Feedback) > 0 {
		var feedback domain.Feedback
		if err := json.Unmarshal(model.Feedback, &feedback); err != nil {
			return domain.ReviewTask{}, fmt.Errorf("decode feedback: %w", err)
		}
		task.Feedback = &feedback
	}
	if len(model.Tags) > 0 {
		if err := json.Unmarshal(model.Tags, &task.Tags); err != nil {
			return domain.ReviewTask{}, fmt.Errorf("decode tags: %w", err)
		}
	}
	return task, nil
}

func rankRecordToModel(record domain.UserRankRecord) (RankRecordModel, error) {
	raw, err := json.Marshal(record.HighScores)
	if err != nil {
		return RankRecordModel{}, fmt.Errorf("encode high scores: %w", err)
	}
	return RankRecordModel{
		UserID:           record.UserID,
		CurrentRank:      int(record.CurrentRank),
		LatestScore:      record.LatestScore,
		TotalSubmissions: record.TotalSubmissions,
		HighScores:       raw,
		UpdatedAt:        record.UpdatedAt,
	}, nil
}

func rankRecordFromModel(model RankRecordModel) (domain.UserRankRecord, error) {
	record := domain.UserRankRecord{
		UserID:           model.UserID,
		CurrentRank:      domain.Rank(model.CurrentRank),
		LatestScore:      model.LatestScore,
		TotalSubmissions: model.TotalSubmissions,
		UpdatedAt:        model.UpdatedAt,
	}
	if len(model.HighScores) > 0 {
		if err := json.Unmarshal(model.HighScores, &record.HighScores); err != nil {
			return domain.UserRankRecord{}, fmt.Errorf("decode high scores: %w", err)
		}
	}
	return record, nil
}

func rankEventToModel(event domain.RankChangeEvent) RankEventModel {
	model := RankEventModel{
		ID:        event.ID,
		UserID:    event.UserID,
		NewRank:   int(event.NewRank),
		Score:     event.Score,
		TaskID:    event.TaskID,
		ChangedAt: event.ChangedAt,
	}
	if event.OldRank != nil {
		old := int(*event.OldRank)
		model.OldRank = &old
	}
	return model
}

func rankEventFromModel(model RankEventModel) domain.RankChangeEvent {
	event := domain.RankChangeEvent{
		ID:        model.ID,
		UserID:    model.UserID,
		NewRank:   domain.Rank(model.NewRank),
		Score:     model.Score,
		TaskID:    model.TaskID,
		ChangedAt: model.ChangedAt,
	}
	if model.OldRank != nil {
		old := domain.Rank(*model.OldRank)
		event.OldRank = &old
	}
	return event
}
