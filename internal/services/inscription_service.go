// Package services – InscriptionService
//
// This file implements InscriptionService, which owns the intake and listing
// use cases. Submissions are validated, the email is encrypted, and one row is
// written on a dedicated connection. Listing reads every row newest first and
// decrypts emails, falling back to the stored value for rows written before
// encryption was enabled.
//
// Observability: public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-inscriptions/internal/cryptox"
	"github.com/tbourn/go-inscriptions/internal/domain"
	"github.com/tbourn/go-inscriptions/internal/repo"
	"github.com/tbourn/go-inscriptions/internal/utils"
	"github.com/tbourn/go-inscriptions/internal/validation"
)

// Cipher is the email encryption contract. *cryptox.Cipher satisfies it.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) (string, error)
}

// InscriptionView is one listed row with the email revealed.
type InscriptionView struct {
	ID              uint   `json:"id"`
	Name            string `json:"nom"`
	Email           string `json:"email"`
	Message         string `json:"message"`
	DateInscription string `json:"date_inscription"`
}

// InscriptionService handles submissions and listing.
type InscriptionService struct {
	// DB is the pooled handle. Every call checks out one connection from it.
	DB *gorm.DB
	// Cipher encrypts emails on intake and decrypts them on listing.
	Cipher Cipher
	// IdempotencyTTL bounds how long an Idempotency-Key is remembered.
	IdempotencyTTL time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (s *InscriptionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func tracer() trace.Tracer { return otel.Tracer("services/InscriptionService") }

// Submit validates a raw submission and stores it. Validation failures are
// returned as *validation.FieldError, database failures match ErrStorage.
func (s *InscriptionService) Submit(ctx context.Context, name, email, message any) (*domain.Inscription, error) {
	ctx, span := tracer().Start(ctx, "Submit")
	defer span.End()

	clean, token, err := s.prepare(name, email, message)
	if err != nil {
		return nil, err
	}

	var rec *domain.Inscription
	err = s.DB.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var cerr error
		rec, cerr = repo.CreateInscription(ctx, conn, clean.Name, token, clean.Message, s.now())
		return cerr
	})
	if err != nil {
		submissions.WithLabelValues("error").Inc()
		return nil, storageErr(err)
	}
	submissions.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Int("inscription.id", int(rec.ID)))
	return rec, nil
}

// SubmitOnce is Submit keyed by (client, key). A key already completed for
// the same client inside the TTL is not stored again; its original id is
// returned with replayed=true. An empty key behaves like Submit.
func (s *InscriptionService) SubmitOnce(ctx context.Context, client, key string, name, email, message any) (id uint, replayed bool, err error) {
	if key == "" {
		rec, err := s.Submit(ctx, name, email, message)
		if err != nil {
			return 0, false, err
		}
		return rec.ID, false, nil
	}

	ctx, span := tracer().Start(ctx, "SubmitOnce",
		trace.WithAttributes(attribute.Bool("idempotency.key_present", true)),
	)
	defer span.End()

	clean, token, err := s.prepare(name, email, message)
	if err != nil {
		return 0, false, err
	}

	now := s.now().UTC()
	err = s.DB.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		prev, gerr := repo.GetIdempotency(ctx, conn, client, key, now)
		switch {
		case gerr == nil:
			id, replayed = prev.InscriptionID, true
			return nil
		case !errors.Is(gerr, repo.ErrNotFound):
			return gerr
		}
		if derr := repo.DeleteExpiredIdempotency(ctx, conn, client, key, now); derr != nil {
			return derr
		}

		terr := conn.Transaction(func(tx *gorm.DB) error {
			rec, cerr := repo.CreateInscription(ctx, tx, clean.Name, token, clean.Message, now)
			if cerr != nil {
				return cerr
			}
			if _, cerr = repo.CreateIdempotency(ctx, tx, client, key, rec.ID, http.StatusOK, s.IdempotencyTTL); cerr != nil {
				return cerr
			}
			id = rec.ID
			return nil
		})
		if errors.Is(terr, repo.ErrDuplicate) {
			// A concurrent request with the same key won; answer with its row.
			prev, gerr := repo.GetIdempotency(ctx, conn, client, key, now)
			if gerr != nil {
				return gerr
			}
			id, replayed = prev.InscriptionID, true
			return nil
		}
		return terr
	})
	switch {
	case err != nil:
		submissions.WithLabelValues("error").Inc()
		return 0, false, storageErr(err)
	case replayed:
		submissions.WithLabelValues("replayed").Inc()
	default:
		submissions.WithLabelValues("ok").Inc()
	}
	span.SetAttributes(attribute.Bool("idempotency.replayed", replayed))
	return id, replayed, nil
}

func (s *InscriptionService) prepare(name, email, message any) (validation.Clean, string, error) {
	clean, err := validation.Submission(name, email, message)
	if err != nil {
		submissions.WithLabelValues("invalid").Inc()
		return validation.Clean{}, "", err
	}
	token, err := s.Cipher.Encrypt(clean.Email)
	if err != nil {
		submissions.WithLabelValues("error").Inc()
		return validation.Clean{}, "", err
	}
	return clean, token, nil
}

// List returns rows newest first with emails decrypted. pageSize <= 0 returns
// every row and total equals the number returned. A storage failure returns
// no rows at all.
func (s *InscriptionService) List(ctx context.Context, page, pageSize int) (items []InscriptionView, total int64, err error) {
	ctx, span := tracer().Start(ctx, "List",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	var rows []domain.Inscription
	err = s.DB.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if pageSize <= 0 {
			var lerr error
			rows, lerr = repo.ListInscriptions(ctx, conn, 0, 0)
			total = int64(len(rows))
			return lerr
		}
		if page < 1 {
			page = 1
		}
		if page > utils.MaxPage(pageSize) {
			page = utils.MaxPage(pageSize)
		}
		var cerr error
		if total, cerr = repo.CountInscriptions(ctx, conn); cerr != nil {
			return cerr
		}
		if total == 0 {
			rows = []domain.Inscription{}
			return nil
		}
		rows, cerr = repo.ListInscriptions(ctx, conn, (page-1)*pageSize, pageSize)
		return cerr
	})
	if err != nil {
		return nil, 0, storageErr(err)
	}

	items = make([]InscriptionView, 0, len(rows))
	for _, r := range rows {
		items = append(items, InscriptionView{
			ID:              r.ID,
			Name:            r.Name,
			Email:           s.reveal(ctx, r.ID, r.Email),
			Message:         r.Message,
			DateInscription: domain.FormatTimestamp(r.DateInscription),
		})
	}
	span.SetAttributes(attribute.Int("rows", len(items)))
	return items, total, nil
}

// reveal decrypts a stored email. Anything that does not open is returned
// as stored: rows from before encryption hold plaintext.
func (s *InscriptionService) reveal(ctx context.Context, id uint, stored string) string {
	plain, err := s.Cipher.Decrypt(stored)
	if err == nil {
		return plain
	}
	if cryptox.IsToken(stored) {
		decryptFallbacks.WithLabelValues("token").Inc()
		log.Ctx(ctx).Warn().Uint("inscription_id", id).Err(err).Msg("email token did not decrypt; returning stored value")
	} else {
		decryptFallbacks.WithLabelValues("plaintext").Inc()
	}
	return stored
}

// Stats returns the row count and newest timestamp, for conditional GETs.
func (s *InscriptionService) Stats(ctx context.Context) (count int64, latest *time.Time, err error) {
	err = s.DB.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var serr error
		count, latest, serr = repo.InscriptionsStats(ctx, conn)
		return serr
	})
	if err != nil {
		return 0, nil, storageErr(err)
	}
	return count, latest, nil
}
