// Package domain defines the persistence models for form submissions and the
// snapshot format used by the backup tool. These types are mapped with GORM
// and form the core data layer of the intake service.
package domain

import "time"

// Inscription is one name/email/message submission received by the intake
// endpoint, or replayed from a snapshot by the restore tool.
//
// Fields:
//   - ID: integer primary key assigned by storage (explicit during restore).
//   - Name: trimmed display name, 2–100 letters (column "nom").
//   - Email: ciphertext token of the normalized address. Legacy rows may
//     hold plaintext.
//   - Message: optional free text, up to 1000 characters, never NULL.
//   - DateInscription: submission time in UTC with microsecond precision.
//
// Rows are never updated. They are removed only by a full restore.
type Inscription struct {
	ID              uint      `json:"id"               gorm:"primaryKey;autoIncrement"`
	Name            string    `json:"nom"              gorm:"column:nom;type:varchar(100);not null"`
	Email           string    `json:"email"            gorm:"type:text;not null"`
	Message         string    `json:"message"          gorm:"type:text;not null;default:''"`
	DateInscription time.Time `json:"date_inscription" gorm:"column:date_inscription;not null;index:idx_inscriptions_date"`
}

// TableName returns the database table name for Inscription.
func (Inscription) TableName() string { return TableInscriptions }

// TableInscriptions is the logical name of the submissions table. It is also
// recorded in every snapshot.
const TableInscriptions = "inscriptions"
