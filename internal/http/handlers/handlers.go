package handlers

import (
	"context"
	"time"

	"github.com/tbourn/go-inscriptions/internal/services"
)

// InscriptionService is what the inscription endpoints need from the
// service layer. *services.InscriptionService satisfies it.
type InscriptionService interface {
	// SubmitOnce validates and stores a submission. A non-empty key already
	// used by client returns the earlier id with replayed=true.
	SubmitOnce(ctx context.Context, client, key string, name, email, message any) (id uint, replayed bool, err error)
	// List returns rows newest first; pageSize <= 0 means all rows.
	List(ctx context.Context, page, pageSize int) ([]services.InscriptionView, int64, error)
	// Stats returns the row count and newest timestamp.
	Stats(ctx context.Context) (count int64, latest *time.Time, err error)
}

// Handlers groups the inscription endpoints.
type Handlers struct {
	svc InscriptionService
}

// New binds the endpoints to svc.
func New(svc InscriptionService) *Handlers {
	return &Handlers{svc: svc}
}
