package model

import (
	"time"

	"github.com/google/uuid"
)

// PrintJobStatus tracks an upload handed to a printer.
type PrintJobStatus string

const (
	PrintJobUploading PrintJobStatus = "uploading"
	PrintJobDone      PrintJobStatus = "done"
	PrintJobFailed    PrintJobStatus = "failed"
)

// PrintJob records one file sent to a printer.
type PrintJob struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey"`
	DeviceSerial string         `gorm:"size:64;not null;index"`
	File         string         `gorm:"size:512;not null"`
	Transport    string         `gorm:"size:16;not null"`
	Status       PrintJobStatus `gorm:"size:16;not null"`
	Error        string         `gorm:"size:512"`
	StartedAt    time.Time      `gorm:"not null"`
	FinishedAt   *time.Time
}
