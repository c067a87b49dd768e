package models

import (
	"time"
)

// IngestRun records the outcome of one finished upload run
type IngestRun struct {
	ID          string    `gorm:"primaryKey" json:"id"` // UUID run ID
	Status      string    `gorm:"not null;default:completed" json:"status"` // completed, partial, failed
	Total       int       `gorm:"not null;default:0" json:"total"`
	Succeeded   int       `gorm:"not null;default:0" json:"succeeded"`
	Failed      int       `gorm:"not null;default:0" json:"failed"`
	Failures    string    `gorm:"type:text" json:"failures"` // JSON array of {file_name, error}
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM
func (IngestRun) TableName() string {
	return "ingest_runs"
}
