// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the aggregate query behind the listing
// ETag.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-inscriptions/internal/domain"
)

// InscriptionsStats returns the number of rows and the newest
// date_inscription. When the table is empty the count is 0 and latest is nil.
func InscriptionsStats(ctx context.Context, db *gorm.DB) (count int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Inscription{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest date_inscription (avoid MAX() -> TEXT in SQLite)
	var row struct {
		DateInscription time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.Inscription{}).
		Select("date_inscription").
		Order("date_inscription DESC").
		Limit(1).
		Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.DateInscription, nil
}
