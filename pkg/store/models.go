package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type TaskModel struct {
	ID                string `gorm:"primaryKey"`
	UserID            string `gorm:"not null;index:idx_tasks_user_created"`
	Status            string `gorm:"not null;index"`
	ImageURL          string `gorm:"not null"`
	ExampleImageURL   string
	AnnotatedImageURL string
	Feedback          datatypes.JSON `gorm:"type:jsonb"`
	Score             *float64
	Tags              datatypes.JSON `gorm:"type:jsonb"`
	RankChanged       bool
	ErrorMessage      string
	CreatedAt         time.Time `gorm:"not null;index:idx_tasks_user_created"`
	UpdatedAt         time.Time `gorm:"not null"`
}

type RankRecordModel struct {
	UserID           string `gorm:"primaryKey"`
	CurrentRank      int    `gorm:"not null"`
	LatestScore      float64
	TotalSubmissions int            `gorm:"not null"`
	HighScores       datatypes.JSON `gorm:"type:jsonb"`
	UpdatedAt        time.Time      `gorm:"not null"`
}

type RankEventModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index:idx_rank_events_user_changed"`
	OldRank   *int
	NewRank   int `gorm:"not null"`
	Score     float64
	TaskID    string
	ChangedAt time.Time `gorm:"not null;index:idx_rank_events_user_changed"`
}

type MemoryModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;index"`
	TaskID    string
	Content   string `gorm:"type:text;not null"`
	Score     float64
	Embedding *pgvector.Vector `gorm:"type:vector(768)"`
	CreatedAt time.Time        `gorm:"not null;index"`
}
