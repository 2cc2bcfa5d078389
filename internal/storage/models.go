package storage

import "time"

// AttackRow is one detected attack. Patterns are kept as the JSON array
// written to the attack log.
type AttackRow struct {
	ID            uint      `gorm:"primaryKey"`
	RecordID      string    `gorm:"uniqueIndex;not null"`
	Timestamp     time.Time `gorm:"index"`
	SourceIP      string    `gorm:"index"`
	URL           string
	Location      string
	RiskLevel     string `gorm:"index"`
	PatternsJSON  string `gorm:"type:text"`
	ContentSample string `gorm:"type:text"`
	CreatedAt     time.Time
}
