package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Header values sent to browsers loading the form page and its assets.
const (
	DefaultCSP = "default-src 'self'; script-src 'self' 'unsafe-inline'; " +
		"style-src 'self' 'unsafe-inline'; img-src 'self' https: data:; " +
		"font-src 'self' https:; frame-ancestors 'none';"
	DefaultReferrerPolicy    = "strict-origin-when-cross-origin"
	DefaultPermissionsPolicy = "geolocation=(), microphone=(), camera=()"

	// NoStoreValue is the Cache-Control of responses carrying personal data.
	NoStoreValue = "no-store, no-cache, must-revalidate, private"
)

// SecurityOptions configures SecurityHeaders. Empty policy strings fall back
// to the Default* values; HSTS stays off unless enabled.
type SecurityOptions struct {
	EnableHSTS        bool          // only when traffic is HTTPS end to end
	HSTSMaxAge        time.Duration // defaults to 180 days
	CSP               string
	ReferrerPolicy    string
	PermissionsPolicy string
}

// SecurityHeaders sets the hardening headers on every response:
//
//	X-Content-Type-Options: nosniff
//	X-Frame-Options: DENY
//	X-XSS-Protection: 1; mode=block
//	Referrer-Policy, Content-Security-Policy, Permissions-Policy
//	Strict-Transport-Security (HTTPS requests only, when enabled)
//
// It also exposes X-Request-ID to browser clients through
// Access-Control-Expose-Headers.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hsts := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"
	csp := orDefault(opt.CSP, DefaultCSP)
	referrer := orDefault(opt.ReferrerPolicy, DefaultReferrerPolicy)
	permissions := orDefault(opt.PermissionsPolicy, DefaultPermissionsPolicy)

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", referrer)
		h.Set("Content-Security-Policy", csp)
		h.Set("Permissions-Policy", permissions)

		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		if rid := h.Get(requestIDHeader); rid != "" {
			const hdr = "Access-Control-Expose-Headers"
			cur := h.Get(hdr)
			if cur == "" {
				h.Set(hdr, requestIDHeader)
			} else if !strings.Contains(cur, requestIDHeader) {
				h.Set(hdr, cur+", "+requestIDHeader)
			}
		}

		c.Next()
	}
}

// NoStore forbids any caching of the response. Installed on the inscription
// routes, which carry names and email addresses.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Cache-Control", NoStoreValue)
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		c.Next()
	}
}

// isHTTPS reports whether the request arrived over TLS, directly or behind a
// proxy that set X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
