package models

import "time"

// SnapshotRecord mirrors the immutable snapshot published to the log
// after settlement.
type SnapshotRecord struct {
	ID           uint      `gorm:"primaryKey"`
	SnapshotID   string    `gorm:"size:64;uniqueIndex"`
	SnapshotType string    `gorm:"size:32"`
	Session      string    `gorm:"size:128;index"`
	Round        int       `gorm:"index"`
	TokenWeights string    `gorm:"type:text"` // JSON-encoded token -> weight
	Hash         string    `gorm:"size:128"`
	CreatedBy    string    `gorm:"size:64"`
	Timestamp    time.Time `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
