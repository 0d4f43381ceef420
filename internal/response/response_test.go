package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestIDMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { Success(c, http.StatusOK, RequestID(c)) })

	tests := []struct {
		name   string
		header string
		reused bool
	}{
		{"missing", "", false},
		{"accepted", "edge-7f3a.42:1", true},
		{"too long", strings.Repeat("a", maxRequestIDLen+1), false},
		{"unsafe characters", "abc\ninjected=1", false},
		{"spaces", "abc def", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header["X-Request-Id"] = []string{tc.header}
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			var body struct {
				Data     string   `json:"data"`
				Metadata Metadata `json:"metadata"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			got := w.Header().Get("X-Request-ID")
			if tc.reused && got != tc.header {
				t.Fatalf("request id = %q, want %q", got, tc.header)
			}
			if !tc.reused && (got == tc.header || !validRequestID(got)) {
				t.Fatalf("request id = %q, want a fresh id", got)
			}
			if body.Data != got || body.Metadata.RequestID != got {
				t.Fatalf("context id %q / metadata %q, header %q", body.Data, body.Metadata.RequestID, got)
			}
		})
	}
}

func TestAbortRetryAfter(t *testing.T) {
	tests := []struct {
		wait time.Duration
		want string
	}{
		{50 * time.Second, "50"},
		{1500 * time.Millisecond, "2"},
		{0, "1"},
	}
	for _, tc := range tests {
		r := gin.New()
		r.GET("/", func(c *gin.Context) { AbortRetryAfter(c, ErrRateLimitExceeded, tc.wait) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d, want 429", w.Code)
		}
		if got := w.Header().Get("Retry-After"); got != tc.want {
			t.Fatalf("wait %v: Retry-After = %q, want %q", tc.wait, got, tc.want)
		}
		var body Response
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Error == nil || body.Error.Code != ErrRateLimitExceeded {
			t.Fatalf("error = %+v", body.Error)
		}
	}
}
