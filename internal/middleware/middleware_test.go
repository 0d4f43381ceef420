package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiterFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	rl := NewRateLimiter(rdb, "public", 2, time.Minute, zerolog.Nop())
	now := time.Date(2026, 3, 1, 9, 0, 10, 0, time.UTC)
	rl.now = func() time.Time { return now }

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i, want := range []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests} {
		w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != want {
			t.Fatalf("request %d: status = %d, want %d", i, w.Code, want)
		}
		if i == 2 && w.Header().Get("Retry-After") != "50" {
			t.Fatalf("Retry-After = %q, want 50", w.Header().Get("Retry-After"))
		}
	}

	now = now.Add(time.Minute)
	if w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil)); w.Code != http.StatusNoContent {
		t.Fatalf("next window status = %d", w.Code)
	}
}

func TestRateLimiterFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	r := gin.New()
	r.Use(NewRateLimiter(rdb, "public", 1, time.Minute, zerolog.Nop()).Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for range 3 {
		if w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil)); w.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204 while redis is down", w.Code)
		}
	}
}

func TestAdminJWTAndPermissions(t *testing.T) {
	tokens := service.NewTokenService("mw-secret", time.Minute)

	r := gin.New()
	r.GET("/analytics", RequireAdminJWT(tokens), RequirePermission(model.PermissionAnalyticsRead), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	bearer := func(tok string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/analytics", nil)
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		return req
	}

	reader, _ := tokens.IssueAdminToken("a1", time.Hour, string(model.PermissionAnalyticsRead))
	root, _ := tokens.IssueAdminToken("a2", time.Hour, string(model.PermissionAll))
	reviewer, _ := tokens.IssueAdminToken("a3", time.Hour, string(model.PermissionAttemptsReview))
	expired, _ := tokens.IssueAdminToken("a4", -time.Minute, string(model.PermissionAll))
	attemptTok, _ := tokens.IssueAttemptToken(uuid.New(), uuid.New(), time.Now().Add(time.Hour))

	cases := []struct {
		name  string
		token string
		want  int
		code  string
	}{
		{"missing", "", http.StatusUnauthorized, "TOKEN_REQUIRED"},
		{"garbage", "not-a-jwt", http.StatusUnauthorized, "TOKEN_INVALID"},
		{"expired", expired, http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{"attempt token", attemptTok, http.StatusForbidden, "ADMIN_ACCESS_ONLY"},
		{"wrong permission", reviewer, http.StatusForbidden, "FORBIDDEN"},
		{"exact permission", reader, http.StatusNoContent, ""},
		{"wildcard", root, http.StatusNoContent, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(r, bearer(tc.token))
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
			if tc.code != "" && !strings.Contains(w.Body.String(), tc.code) {
				t.Fatalf("body %s does not carry %s", w.Body.String(), tc.code)
			}
		})
	}
}

func TestAttemptTokenFromQuery(t *testing.T) {
	tokens := service.NewTokenService("mw-secret", time.Minute)
	attemptID := uuid.New()
	tok, _ := tokens.IssueAttemptToken(attemptID, uuid.New(), time.Now().Add(time.Hour))

	r := gin.New()
	r.GET("/attempts/:id/stream", RequireAttemptToken(tokens), func(c *gin.Context) {
		if GetClaims(c).AttemptID != attemptID {
			t.Error("claims not stored on context")
		}
		c.Status(http.StatusNoContent)
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/attempts/"+attemptID.String()+"/stream?token="+tok, nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/attempts/"+uuid.NewString()+"/stream?token="+tok, nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign attempt status = %d, want 403", w.Code)
	}
}

func TestBrotliCompressesLargeBodies(t *testing.T) {
	large := strings.Repeat("integrity ", 500)

	r := gin.New()
	r.Use(Brotli())
	r.GET("/large", func(c *gin.Context) { c.String(http.StatusOK, large) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/large", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")
	w := serve(r, req)
	if w.Header().Get("Content-Encoding") != "br" {
		t.Fatalf("Content-Encoding = %q, want br", w.Header().Get("Content-Encoding"))
	}
	plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != large {
		t.Fatal("decompressed body differs")
	}

	req = httptest.NewRequest(http.MethodGet, "/small", nil)
	req.Header.Set("Accept-Encoding", "br")
	w = serve(r, req)
	if w.Header().Get("Content-Encoding") != "" || w.Body.String() != "ok" {
		t.Fatalf("small body was altered: %q %q", w.Header().Get("Content-Encoding"), w.Body.String())
	}
}

func TestNoStore(t *testing.T) {
	r := gin.New()
	r.Use(NoStore())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get("Cache-Control") != "no-store" || w.Header().Get("Pragma") != "no-cache" {
		t.Fatalf("headers = %v", w.Header())
	}
}
