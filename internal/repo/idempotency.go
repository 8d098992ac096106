// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to implement safe-retry semantics for POST /inscription.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-inscriptions/internal/domain"
)

// GetIdempotency returns a non-expired record for (client, key) or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, client, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("client = ? AND key = ? AND expires_at > ?", client, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, client, key string, inscriptionID uint, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:            uuid.NewString(),
		Client:        client,
		Key:           key,
		InscriptionID: inscriptionID,
		Status:        status,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// DeleteExpiredIdempotency removes records whose window closed before now.
// An expired row would otherwise keep its (client, key) slot taken.
func DeleteExpiredIdempotency(ctx context.Context, db *gorm.DB, client, key string, now time.Time) error {
	return db.WithContext(ctx).
		Where("client = ? AND key = ? AND expires_at <= ?", client, key, now).
		Delete(&domain.Idempotency{}).Error
}
