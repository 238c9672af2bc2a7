package models

import "time"

// VoteRecord is the durable audit row for one accepted vote. Every
// accepted vote is recorded, including ones later superseded by a
// revote; round state itself stays in memory.
type VoteRecord struct {
	ID           uint      `gorm:"primaryKey"`
	Session      string    `gorm:"size:128;index"`
	Round        int       `gorm:"index"`
	VoterID      string    `gorm:"size:64;index"`
	VotingPower  int64     `gorm:"not null"`
	RatioChanges string    `gorm:"type:text"` // JSON-encoded token/ratio pairs
	CastAt       time.Time `gorm:"index"`
	TotalPower   int64     // running power after this vote was applied
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
