package model

import "time"

// LocationSession is the durable session record (GORM). It carries only the
// session-to-publisher mapping and lifecycle bounds; positions never touch
// the database.
type LocationSession struct {
	ID          string     `gorm:"type:uuid;primaryKey"`
	PublisherID string     `gorm:"size:64;not null;index"`
	State       string     `gorm:"size:20;not null;default:active"` // active, stopped, expired
	CreatedAt   time.Time  `gorm:"autoCreateTime"`
	ExpiresAt   time.Time  `gorm:"not null"`
	FinishedAt  *time.Time `gorm:"column:finished_at"`
}

func (LocationSession) TableName() string { return "location_sessions" }
