package models

import "time"

// EngineStats is a single-row table of operational counters for the
// reconciliation engine, flushed periodically from Redis.
type EngineStats struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	WebhooksProcessed int64      `gorm:"not null;default:0" json:"webhooks_processed"`
	WebhooksRejected  int64      `gorm:"not null;default:0" json:"webhooks_rejected"`
	SweepChecked      int64      `gorm:"not null;default:0" json:"sweep_checked"`
	SweepChanged      int64      `gorm:"not null;default:0" json:"sweep_changed"`
	SweepErrors       int64      `gorm:"not null;default:0" json:"sweep_errors"`
	LastSweepAt       *time.Time `gorm:"type:timestamp;default:null" json:"last_sweep_at,omitempty"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
