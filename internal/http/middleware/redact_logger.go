package middleware

// Access logging. Request bodies are never logged: the POST /inscription
// body is the personal data the service stores encrypted. Query strings and
// header values are scrubbed before they reach a log line.

import (
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const redacted = "[REDACTED]"

// DefaultMaskedParams are the form fields. A query carrying them is a client
// submitting the form the wrong way; their values are dropped whole.
var DefaultMaskedParams = []string{"name", "nom", "email", "message"}

// RedactOptions extends the built-in masks. Names match case-insensitively.
type RedactOptions struct {
	// MaskHeaders are replaced by [REDACTED] on top of Authorization,
	// Cookie and Set-Cookie.
	MaskHeaders []string
	// MaskParams are query parameters replaced by [REDACTED] on top of
	// DefaultMaskedParams.
	MaskParams []string
}

var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so UUID hex groups never match.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

type redactor struct {
	headers map[string]struct{}
	params  map[string]struct{}
}

func lowerSet(base []string, extra []string) map[string]struct{} {
	set := make(map[string]struct{}, len(base)+len(extra))
	for _, group := range [][]string{base, extra} {
		for _, s := range group {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				set[s] = struct{}{}
			}
		}
	}
	return set
}

func newRedactor(opts RedactOptions) *redactor {
	return &redactor{
		headers: lowerSet([]string{"authorization", "cookie", "set-cookie"}, opts.MaskHeaders),
		params:  lowerSet(DefaultMaskedParams, opts.MaskParams),
	}
}

// text scrubs free text. UUIDs go first; the phone pattern would otherwise
// eat their digit groups.
func (r *redactor) text(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// query masks form-field parameters and scrubs the rest. Output keys are
// sorted. An unparsable query is scrubbed as text.
func (r *redactor) query(raw string) string {
	if raw == "" {
		return ""
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return truncate(r.text(raw), maxQueryLogLength)
	}
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		_, masked := r.params[strings.ToLower(k)]
		for _, v := range vals[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(r.text(k))
			b.WriteByte('=')
			if masked {
				b.WriteString(redacted)
			} else {
				b.WriteString(r.text(v))
			}
		}
	}
	return truncate(b.String(), maxQueryLogLength)
}

func (r *redactor) header(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.headers[strings.ToLower(k)]; ok {
			out[k] = redacted
			continue
		}
		out[k] = r.text(strings.Join(vv, ", "))
	}
	return out
}

// RedactingLogger attaches the request-scoped logger (LoggerFrom, and
// zerolog.Ctx on the request context) and writes one "http_request" line per
// request: info, warn for 4xx, error for 5xx or recorded handler errors.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	rd := newRedactor(opts)

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = truncate(rd.text(c.Request.URL.Path), maxQueryLogLength)
		}

		reqID := c.GetString(requestIDKey)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}

		l := log.With().
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &l)
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))

		c.Next()

		status := c.Writer.Status()
		ev := l.Info()
		switch {
		case status >= 500 || len(c.Errors) > 0:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", rd.text(c.Errors.String()))
		}
		ev.
			Str("query", rd.query(c.Request.URL.RawQuery)).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", rd.header(c.Request.Header)).
			Msg("http_request")
	}
}
