package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NotificationClaim records that a notification for a ledger event was taken by one worker.
type NotificationClaim struct {
	ClaimID      string    `gorm:"type:uuid;primaryKey"`
	EventID      string    `gorm:"not null;uniqueIndex:uniq_notification_claims_event"`
	Kind         string    `gorm:"not null"`
	CardholderID string    `gorm:"not null;index:idx_notification_claims_cardholder"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (NotificationClaim) TableName() string { return "notification_claims" }

func (claim *NotificationClaim) BeforeCreate(tx *gorm.DB) error {
	if claim.ClaimID == "" {
		claim.ClaimID = uuid.NewString()
	}
	return nil
}

// SweepRun mirrors the sweep_runs table.
type SweepRun struct {
	RunID      string         `gorm:"type:uuid;primaryKey"`
	Kind       string         `gorm:"not null;index:idx_sweep_runs_kind_started,priority:1"`
	DryRun     bool           `gorm:"not null"`
	Processed  int            `gorm:"not null"`
	Updated    int            `gorm:"not null"`
	Failed     int            `gorm:"not null"`
	Failures   datatypes.JSON `gorm:"type:jsonb;not null"`
	StartedAt  time.Time      `gorm:"not null;index:idx_sweep_runs_kind_started,priority:2"`
	FinishedAt time.Time      `gorm:"not null"`
}

func (SweepRun) TableName() string { return "sweep_runs" }

func (run *SweepRun) BeforeCreate(tx *gorm.DB) error {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	return nil
}
