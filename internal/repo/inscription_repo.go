// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Inscription model.
//
// All functions are context-aware and accept a *gorm.DB handle, so they work
// the same on a pooled handle, a dedicated connection or a transaction.
// They follow the "thin repository" approach: no validation and no
// encryption, only persistence and query composition. Driver errors are
// propagated unchanged.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-inscriptions/internal/domain"
)

// StampNow returns t in UTC truncated to the precision the table keeps.
func StampNow(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// CreateInscription inserts one submission. The storage layer owns the
// timestamp: now is normalised with StampNow.
func CreateInscription(ctx context.Context, db *gorm.DB, name, email, message string, now time.Time) (*domain.Inscription, error) {
	in := &domain.Inscription{
		Name:            name,
		Email:           email,
		Message:         message,
		DateInscription: StampNow(now),
	}
	if err := db.WithContext(ctx).Create(in).Error; err != nil {
		return nil, err
	}
	return in, nil
}

// ListInscriptions returns rows newest first (date_inscription DESC, id DESC).
// limit <= 0 returns every row from offset on.
func ListInscriptions(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Inscription, error) {
	out := make([]domain.Inscription, 0)
	q := db.WithContext(ctx).Order("date_inscription DESC, id DESC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListInscriptionsByID returns every row in primary key order, the order
// snapshots are written and replayed in.
func ListInscriptionsByID(ctx context.Context, db *gorm.DB) ([]domain.Inscription, error) {
	out := make([]domain.Inscription, 0)
	err := db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}

// CountInscriptions uses a raw COUNT so a missing table surfaces as an error.
func CountInscriptions(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM " + domain.TableInscriptions).Scan(&total).Error
	return total, err
}

// DeleteAllInscriptions empties the table and reports how many rows went.
func DeleteAllInscriptions(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&domain.Inscription{})
	return res.RowsAffected, res.Error
}

// InsertInscription writes rec verbatim, including its id and timestamp.
func InsertInscription(ctx context.Context, db *gorm.DB, rec *domain.Inscription) error {
	return db.WithContext(ctx).Create(rec).Error
}

// ResyncInscriptionSequence moves the Postgres id sequence past the largest
// id after rows were inserted with explicit ids. SQLite tracks this on its
// own, so other dialects are a no-op.
func ResyncInscriptionSequence(ctx context.Context, db *gorm.DB) error {
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	return db.WithContext(ctx).Exec(
		"SELECT setval(pg_get_serial_sequence(?, 'id'), COALESCE(MAX(id), 0) + 1, false) FROM " + domain.TableInscriptions,
		domain.TableInscriptions,
	).Error
}
