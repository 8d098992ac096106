package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-inscriptions/internal/http/middleware"
	"github.com/tbourn/go-inscriptions/internal/utils"
	"github.com/tbourn/go-inscriptions/internal/validation"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500

	headerReplayed   = "Idempotency-Replayed"
	headerTotalCount = "X-Total-Count"
)

// SubmitRequest documents the POST /inscription body. The handler decodes
// into a map instead so that wrongly typed fields reach the validators and
// get their specific message.
type SubmitRequest struct {
	Name    string `json:"name" example:"Amina"`
	Email   string `json:"email" example:"amina@example.com"`
	Message string `json:"message,omitempty" example:"Bonjour"`
}

// PostInscription godoc
// @ID          postInscription
// @Summary     Submit the form
// @Description Validates the submission, encrypts the email and stores one row.
// @Description With an Idempotency-Key, a retry from the same client stores nothing and returns the same answer.
// @Tags        Inscriptions
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string                   false  "Key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.SubmitRequest   true   "Form fields"
//
// @Success     200  {object}  handlers.SubmitResponse  "Stored (or replayed)"
// @Failure     400  {object}  handlers.SubmitResponse  "Invalid JSON or field"
// @Failure     429  {object}  handlers.ErrorResponse   "Rate limited"
// @Failure     500  {object}  handlers.SubmitResponse  "Storage failure"
// @Router      /inscription [post]
func (h *Handlers) PostInscription(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		reject(c, http.StatusBadRequest, MsgInvalidJSON)
		return
	}

	lg := middleware.LoggerFrom(c)
	key, _ := middleware.GetIdempotencyKey(c)
	if middleware.IsReplay(c) {
		lg.Debug().Msg("idempotency key already used by this client")
	}
	id, replayed, err := h.svc.SubmitOnce(c.Request.Context(), middleware.ClientKey(c), key,
		body["name"], body["email"], body["message"])
	if err != nil {
		if errors.Is(err, validation.ErrInvalidInput) {
			reject(c, http.StatusBadRequest, validation.MessageOf(err))
			return
		}
		reject(c, http.StatusInternalServerError, err.Error())
		return
	}

	if replayed {
		c.Header(headerReplayed, "true")
		lg.Info().Uint("inscription_id", id).Msg("inscription replayed")
	} else {
		lg.Info().Uint("inscription_id", id).Msg("inscription stored")
	}
	ok(c, http.StatusOK, SubmitResponse{Success: true, Message: MsgSubmitted})
}

// ListInscriptions godoc
// @ID          listInscriptions
// @Summary     List submissions
// @Description Returns every submission newest first with emails decrypted.
// @Description page/page_size select one page; X-Total-Count always carries the row count.
// @Tags        Inscriptions
// @Produce     json
//
// @Param       page           query   int     false  "Page number"     minimum(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(500) default(50)
// @Param       If-None-Match  header  string  false  "ETag from a previous response"
//
// @Success     200  {array}   services.InscriptionView
// @Success     304  "Not modified"
// @Failure     500  {object}  handlers.ListErrorResponse
// @Router      /inscriptions [get]
func (h *Handlers) ListInscriptions(c *gin.Context) {
	ctx := c.Request.Context()

	page, pageSize := 0, 0
	if c.Query("page") != "" || c.Query("page_size") != "" {
		page, pageSize = utils.ClampPage(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)
	}

	// Best effort: without stats the listing is served unconditionally.
	if count, latest, err := h.svc.Stats(ctx); err == nil {
		var ts int64
		if latest != nil {
			ts = latest.UnixMicro()
		}
		etag := fmt.Sprintf(`W/"inscriptions:%d:%d"`, count, ts)
		if pageSize > 0 {
			etag = fmt.Sprintf(`W/"inscriptions:%d:%d:%d:%d"`, count, ts, page, pageSize)
		}
		c.Header("ETag", etag)
		if etagMatches(c.GetHeader("If-None-Match"), etag) {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.svc.List(ctx, page, pageSize)
	if err != nil {
		c.Header("ETag", "")
		middleware.LoggerFrom(c).Error().Err(err).Msg("listing failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, ListErrorResponse{Error: err.Error()})
		return
	}

	c.Header(headerTotalCount, strconv.FormatInt(total, 10))
	ok(c, http.StatusOK, items)
}

// etagMatches implements the weak comparison of If-None-Match.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, cand := range strings.Split(header, ",") {
		cand = strings.TrimSpace(cand)
		if cand == "*" || strings.TrimPrefix(cand, "W/") == want {
			return true
		}
	}
	return false
}
