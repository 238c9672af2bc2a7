// Package models defines the database models for governance auditing.
package models

import "time"

// RoundRecord tracks the milestones of one governance round: quorum,
// settlement, and the snapshot it produced.
type RoundRecord struct {
	ID              uint   `gorm:"primaryKey"`
	Session         string `gorm:"size:128;index:ux_session_round,unique"`
	Round           int    `gorm:"index:ux_session_round,unique"`
	QuorumThreshold int64
	TotalPower      int64
	VoterCount      int
	QuorumAt        *time.Time
	SettledAt       *time.Time
	SnapshotID      string `gorm:"size:64;index"`
	IdempotencyKey  string `gorm:"size:128"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
