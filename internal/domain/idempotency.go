// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// Idempotency records a completed POST /inscription keyed by (client, key).
// A retried request carrying the same key inside the TTL window is answered
// from this record instead of inserting a second row.
type Idempotency struct {
	ID            string    `gorm:"primaryKey"`
	Client        string    `gorm:"not null;uniqueIndex:ux_client_key,priority:1"`
	Key           string    `gorm:"not null;uniqueIndex:ux_client_key,priority:2"`
	InscriptionID uint      `gorm:"not null"`
	Status        int       `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt     time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
