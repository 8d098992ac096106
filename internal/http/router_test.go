package httpapi

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-inscriptions/internal/config"
	"github.com/tbourn/go-inscriptions/internal/cryptox"
	"github.com/tbourn/go-inscriptions/internal/domain"
	"github.com/tbourn/go-inscriptions/internal/http/middleware"
)

const routerTestKey = "q83vEjRWeJq83vEjRWeJq83vEjRWeJq83vEjRWeJq80="

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Inscription{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	site := t.TempDir()
	for name, body := range map[string]string{
		"index.html":      "<form id=\"inscription\"></form>",
		".env":            "ENCRYPTION_KEY=secret",
		"inscriptions.db": "SQLite format 3",
	} {
		if err := os.WriteFile(filepath.Join(site, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return config.Config{
		APIBasePath:          "/",
		RateRPS:              100,
		RateBurst:            100,
		InscriptionPerMinute: 5,
		InscriptionBurst:     5,
		IdempotencyTTL:       time.Hour,
		StaticDir:            site,
		BackupDir:            filepath.Join(site, "backups"),
		DB:                   config.DBConfig{Driver: config.DriverSQLite, Path: filepath.Join(site, "inscriptions.db")},
		OTEL:                 config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newTestRouter(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cipher, err := cryptox.NewCipher(routerTestKey)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	db := newTestDB(t)
	r := gin.New()
	RegisterRoutes(r, db, cipher, cfg)
	return r, db
}

func serve(r http.Handler, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(t))

	w := serve(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" && got != "*" {
		t.Fatalf("allow-all CORS expected, got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
	if w.Header().Get("Content-Security-Policy") != middleware.DefaultCSP {
		t.Fatalf("CSP missing on /health")
	}

	w = serve(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Fatalf("GET /metrics bad: code=%d", w.Code)
	}

	w = serve(r, http.MethodGet, "/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	var env map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil || env["code"] != "not_found" {
		t.Fatalf("404 envelope: %v %s", err, w.Body.String())
	}

	w = serve(r, http.MethodPost, "/health", "", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	w = serve(r, http.MethodGet, "/inscription", "", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /inscription expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSPreflight(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(t))
	w := serve(r, http.MethodOptions, "/inscription", "", map[string]string{
		"Origin":                        "http://dashboard.example",
		"Access-Control-Request-Method": "POST",
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected ACAO *, got %q", got)
	}
}

func TestRegisterRoutes_CORSWithOrigins(t *testing.T) {
	cfg := testConfig(t)
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://dashboard.example"}}
	r, _ := newTestRouter(t, cfg)

	w := serve(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://dashboard.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://dashboard.example" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	w = serve(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://evil.example"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("disallowed origin: code=%d", w.Code)
	}
}

func TestRegisterRoutes_InscriptionFlow(t *testing.T) {
	r, db := newTestRouter(t, testConfig(t))

	w := serve(r, http.MethodPost, "/inscription", `{"name":"Amina","email":"Amina@Example.com","message":"Salut"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /inscription = %d %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); got != middleware.NoStoreValue {
		t.Fatalf("Cache-Control = %q", got)
	}

	var stored domain.Inscription
	if err := db.First(&stored).Error; err != nil {
		t.Fatalf("row: %v", err)
	}
	if !cryptox.IsToken(stored.Email) {
		t.Fatalf("email stored in clear: %q", stored.Email)
	}

	w = serve(r, http.MethodGet, "/inscriptions", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /inscriptions = %d", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != middleware.NoStoreValue {
		t.Fatalf("listing Cache-Control = %q", got)
	}
	if w.Header().Get("X-Total-Count") != "1" {
		t.Fatalf("X-Total-Count = %q", w.Header().Get("X-Total-Count"))
	}
	var rows []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil || len(rows) != 1 {
		t.Fatalf("listing: %v %s", err, w.Body.String())
	}
	if rows[0]["email"] != "amina@example.com" || rows[0]["nom"] != "Amina" {
		t.Fatalf("row = %v", rows[0])
	}

	etag := w.Header().Get("ETag")
	w = serve(r, http.MethodGet, "/inscriptions", "", map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional GET = %d", w.Code)
	}
}

func TestRegisterRoutes_ListingIsGzipped(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(t))
	serve(r, http.MethodPost, "/inscription", `{"name":"Amina","email":"a@b.co"}`, nil)

	w := serve(r, http.MethodGet, "/inscriptions", "", map[string]string{"Accept-Encoding": "gzip"})
	if w.Code != http.StatusOK || w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("code=%d encoding=%q", w.Code, w.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	if !bytes.Contains(raw, []byte(`"email":"a@b.co"`)) {
		t.Fatalf("body = %s", raw)
	}
}

func TestRegisterRoutes_IntakeRateLimit(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(t))

	for i := 0; i < 5; i++ {
		w := serve(r, http.MethodPost, "/inscription", `{"name":"Amina","email":"a@b.co"}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("submission %d = %d", i+1, w.Code)
		}
	}
	w := serve(r, http.MethodPost, "/inscription", `{"name":"Amina","email":"a@b.co"}`, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("sixth submission = %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}

	// listing is not behind the intake limiter
	if w := serve(r, http.MethodGet, "/inscriptions", "", nil); w.Code != http.StatusOK {
		t.Fatalf("listing after intake limit = %d", w.Code)
	}
}

func TestRegisterRoutes_ReplayBypassesIntakeLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.InscriptionPerMinute = 1
	cfg.InscriptionBurst = 1
	r, db := newTestRouter(t, cfg)

	hdr := map[string]string{middleware.HeaderIdempotencyKey: "form-1"}
	first := serve(r, http.MethodPost, "/inscription", `{"name":"Amina","email":"a@b.co"}`, hdr)
	if first.Code != http.StatusOK {
		t.Fatalf("first = %d", first.Code)
	}
	retry := serve(r, http.MethodPost, "/inscription", `{"name":"Amina","email":"a@b.co"}`, hdr)
	if retry.Code != http.StatusOK || retry.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("retry = %d replayed=%q", retry.Code, retry.Header().Get("Idempotency-Replayed"))
	}

	var n int64
	if err := db.Model(&domain.Inscription{}).Count(&n).Error; err != nil || n != 1 {
		t.Fatalf("rows = %d err=%v", n, err)
	}

	// a new key is a new submission and the bucket is empty
	other := serve(r, http.MethodPost, "/inscription", `{"name":"Amina","email":"a@b.co"}`,
		map[string]string{middleware.HeaderIdempotencyKey: "form-2"})
	if other.Code != http.StatusTooManyRequests {
		t.Fatalf("new key = %d", other.Code)
	}
}

func TestRegisterRoutes_BadIdempotencyKey(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(t))
	w := serve(r, http.MethodPost, "/inscription", `{"name":"Amina","email":"a@b.co"}`,
		map[string]string{middleware.HeaderIdempotencyKey: "has spaces"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad key = %d", w.Code)
	}
}

func TestRegisterRoutes_StaticSite(t *testing.T) {
	r, _ := newTestRouter(t, testConfig(t))

	w := serve(r, http.MethodGet, "/", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "inscription") {
		t.Fatalf("GET / = %d %q", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("security headers missing on static page")
	}

	for _, target := range []string{"/.env", "/inscriptions.db", "/backups/x.json"} {
		if w := serve(r, http.MethodGet, target, "", nil); w.Code != http.StatusNotFound {
			t.Fatalf("GET %s = %d; want 404", target, w.Code)
		}
	}
}

func TestRegisterRoutes_HealthDegraded(t *testing.T) {
	r, db := newTestRouter(t, testConfig(t))
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()

	if w := serve(r, http.MethodGet, "/health", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("health with closed DB = %d", w.Code)
	}
	// the idempotency lookup error must not block the request
	w := serve(r, http.MethodPost, "/inscription", `{"name":"Amina","email":"a@b.co"}`,
		map[string]string{middleware.HeaderIdempotencyKey: "k-1"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("submission with closed DB = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["success"] != false {
		t.Fatalf("500 body: %v %s", err, w.Body.String())
	}
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	cfg := testConfig(t)
	cfg.SwaggerEnabled = true
	r, _ := newTestRouter(t, cfg)

	w := serve(r, http.MethodGet, "/swagger/doc.json", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/inscriptions") {
		t.Fatalf("swagger doc = %d", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for target, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", target, rec.Code, rec.Body.String())
		}
	}
}

func Test_staticDeny(t *testing.T) {
	cfg := config.Config{BackupDir: "backups", DB: config.DBConfig{Driver: config.DriverSQLite, Path: "inscriptions.db"}}
	if got := staticDeny(cfg); len(got) != 2 {
		t.Fatalf("sqlite deny = %v", got)
	}
	cfg.DB = config.DBConfig{Driver: config.DriverPostgres, DSN: "postgres://x"}
	if got := staticDeny(cfg); len(got) != 1 || got[0] != "backups" {
		t.Fatalf("postgres deny = %v", got)
	}
}
