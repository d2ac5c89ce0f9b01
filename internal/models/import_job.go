package models

import (
	"time"

	"gorm.io/gorm"
)

// ImportJob types and statuses
const (
	JobTypeImport = "import"
	JobTypeUpdate = "update"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// ImportJob is the audit record of one import or update execution for a
// wallet. It is mutated only by the orchestrator executing that run and is
// immutable once status reaches completed or failed.
type ImportJob struct {
	gorm.Model
	RunID    string `gorm:"size:36;index"`
	WalletID uint   `gorm:"index;not null"`
	JobType  string `gorm:"size:10;index;not null"`
	Status   string `gorm:"size:10;index;not null"`
	Progress int    `gorm:"default:0"`

	TotalTransactions    int `gorm:"default:0"`
	ImportedTransactions int `gorm:"default:0"`
	SendTransactions     int `gorm:"default:0"`
	ReceiveTransactions  int `gorm:"default:0"`

	ErrorMessage string `gorm:"type:text"`
	StartedAt    *time.Time
	CompletedAt  *time.Time

	// Relationships
	Wallet Wallet `gorm:"foreignKey:WalletID"`
}

// Terminal reports whether the job has reached a final status.
func (j *ImportJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
