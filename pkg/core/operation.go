package core

import (
	"time"
)

// AnalysisCreditCost is the number of credits one completed analysis costs.
const AnalysisCreditCost = 1

// OperationState is the coarse lifecycle state of a registered operation.
type OperationState string

const (
	OperationPending   OperationState = "pending"
	OperationCompleted OperationState = "completed"
	OperationFailed    OperationState = "failed"
)

// OperationResult is the structured outcome of a side-effect pipeline.
// It is returned by value and never carries a panic or raw error out of the
// pipeline goroutine.
type OperationResult struct {
	OperationID string
	ResumeID    string
	UploadURL   string
	FileKey     string
	Success     bool
	Error       string
	Timestamp   time.Time
}

// OperationInfo describes a live registry entry for introspection.
type OperationInfo struct {
	OperationID string
	OwnerID     string
	FileName    string
	State       OperationState
	StartedAt   time.Time
}

// UploadResult is what the file-storage collaborator returns on success.
type UploadResult struct {
	URL string
	Key string
}

// ResumeRecord is the durable record created for an uploaded resume.
type ResumeRecord struct {
	ID         string    `gorm:"primaryKey;size:36"`
	OwnerID    string    `gorm:"index;size:36;not null"`
	FileName   string    `gorm:"size:255"`
	StorageURL string    `gorm:"type:text"`
	FileKey    string    `gorm:"size:255"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// AnalysisRecord is the durable record of a completed analysis, created by
// the billing path.
type AnalysisRecord struct {
	ID           string    `gorm:"primaryKey;size:36"`
	ResumeID     string    `gorm:"index;size:36;not null"`
	OwnerID      string    `gorm:"index;size:36;not null"`
	FileName     string    `gorm:"size:255"`
	Payload      []byte    `gorm:"type:bytes"`
	ProcessingMs int64     `gorm:"default:0"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

// CreditTransaction records one credit movement, linked to the analysis
// that caused it.
type CreditTransaction struct {
	ID         string    `gorm:"primaryKey;size:36"`
	OwnerID    string    `gorm:"index;size:36;not null"`
	AnalysisID string    `gorm:"index;size:36"`
	Amount     int       `gorm:"not null"`
	Reason     string    `gorm:"size:255"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// Account holds an owner's credit balance.
type Account struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Email     string    `gorm:"size:255"`
	Credits   int       `gorm:"default:0"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
