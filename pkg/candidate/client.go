// Package candidate is a Go client for the candidate-facing attempt API. It is
// used by kiosk and proctoring shells that embed the exam outside a browser.
package candidate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/response"
)

// Wire types shared with the server.
type (
	ValidatePinRequest   = model.ValidatePinRequest
	ValidatePinResult    = model.ValidatePinResult
	ResumeAttemptRequest = model.ResumeAttemptRequest
	ResumeResult         = model.ResumeResult
	SaveAnswerRequest    = model.SaveAnswerRequest
	SaveAnswerResult     = model.SaveAnswerResult
	SubmitResult         = model.SubmitResult
	AttemptState         = model.AttemptState
	AttemptPaper         = model.AttemptPaper
	ExamResult           = model.ExamResult
	IntegrityEventInput  = model.IntegrityEventInput
	IntegritySummary     = model.IntegritySummary
)

const (
	defaultTimeout = 15 * time.Second
	beaconTimeout  = 5 * time.Second
	// beaconMaxBytes matches the payload quota browsers apply to sendBeacon.
	beaconMaxBytes = 64 << 10
)

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	StatusCode int
	Code       response.ErrCode
	Message    string
	Fields     map[string]string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("attempt api: %d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("attempt api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// ErrorCode returns the API error code carried by err, or "" if err is not an
// API error.
func ErrorCode(err error) response.ErrCode {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// Closed reports whether err means the attempt no longer accepts writes.
func Closed(err error) bool {
	switch ErrorCode(err) {
	case response.ErrNotEditable, response.ErrAttemptExpired:
		return true
	}
	return false
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// Client talks to the public API. Attempt-scoped calls go through the
// AttemptClient returned by Attempt.
type Client struct {
	baseURL   string
	hc        *http.Client
	userAgent string
}

// NewClient creates a client for baseURL, e.g. "https://exam.example.com".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		hc:        &http.Client{Timeout: defaultTimeout},
		userAgent: "exstem-candidate-go",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	req, err := c.newRequest(ctx, method, path, token, in)
	if err != nil {
		return err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Fields = env.Error.Fields
		}
		return apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

// ValidatePin checks a PIN and, unless StartAttempt is false, starts an
// attempt. Use Attempt with the returned id and token to continue.
func (c *Client) ValidatePin(ctx context.Context, req ValidatePinRequest) (*ValidatePinResult, error) {
	var out ValidatePinResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/pins/validate", "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resume locates the candidate's in-progress attempt and issues a new token.
func (c *Client) Resume(ctx context.Context, req ResumeAttemptRequest) (*ResumeResult, error) {
	var out ResumeResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/attempts/resume", "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Attempt binds the client to one attempt and its token.
func (c *Client) Attempt(attemptID uuid.UUID, token string) *AttemptClient {
	return &AttemptClient{c: c, id: attemptID, token: token}
}

// AttemptClient issues attempt-scoped calls.
type AttemptClient struct {
	c     *Client
	id    uuid.UUID
	token string
}

// ID returns the attempt id.
func (a *AttemptClient) ID() uuid.UUID { return a.id }

func (a *AttemptClient) path(suffix string) string {
	return "/api/v1/attempts/" + a.id.String() + suffix
}

// SaveAnswer autosaves one answer. Repeating the call with the same value is
// harmless; the last write wins.
func (a *AttemptClient) SaveAnswer(ctx context.Context, req SaveAnswerRequest) (*SaveAnswerResult, error) {
	var out SaveAnswerResult
	if err := a.c.do(ctx, http.MethodPost, a.path("/answers"), a.token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProgress moves the resume cursor.
func (a *AttemptClient) UpdateProgress(ctx context.Context, index int) error {
	return a.c.do(ctx, http.MethodPut, a.path("/progress"), a.token, model.ProgressRequest{CurrentQuestionIndex: index}, nil)
}

// Submit finalizes the attempt.
func (a *AttemptClient) Submit(ctx context.Context) (*SubmitResult, error) {
	var out SubmitResult
	if err := a.c.do(ctx, http.MethodPost, a.path("/submit"), a.token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordIntegrity sends a batch of integrity events.
func (a *AttemptClient) RecordIntegrity(ctx context.Context, events []IntegrityEventInput) (*IntegritySummary, error) {
	var out IntegritySummary
	req := model.IntegrityBatchRequest{Events: events}
	if err := a.c.do(ctx, http.MethodPost, a.path("/integrity"), a.token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// State returns status, remaining time, cursor and saved answers.
func (a *AttemptClient) State(ctx context.Context) (*AttemptState, error) {
	var out AttemptState
	if err := a.c.do(ctx, http.MethodGet, a.path("/state"), a.token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Paper returns the questions in this attempt's order.
func (a *AttemptClient) Paper(ctx context.Context) (*AttemptPaper, error) {
	var out AttemptPaper
	if err := a.c.do(ctx, http.MethodGet, a.path("/paper"), a.token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Result returns the scored result of a terminal attempt.
func (a *AttemptClient) Result(ctx context.Context) (*ExamResult, error) {
	var out ExamResult
	if err := a.c.do(ctx, http.MethodGet, a.path("/result"), a.token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Beacon posts integrity events without waiting for the outcome. It reports
// false when the payload could not be queued, so the caller can fall back to a
// regular request.
func (a *AttemptClient) Beacon(events []IntegrityEventInput) bool {
	body, err := json.Marshal(model.IntegrityBatchRequest{Events: events})
	if err != nil || len(body) > beaconMaxBytes {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
	req, err := a.c.newRequest(ctx, http.MethodPost, a.path("/integrity"), a.token, nil)
	if err != nil {
		cancel()
		return false
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", "application/json")

	go func() {
		defer cancel()
		resp, err := a.c.hc.Do(req)
		if err != nil {
			return
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	return true
}

// IntegrityTransport adapts the attempt client to the integrity collector.
func (a *AttemptClient) IntegrityTransport() IntegritySender {
	return integritySender{a}
}

// IntegritySender is the transport shape expected by integrity.Collector.
type IntegritySender interface {
	Send(ctx context.Context, events []IntegrityEventInput) error
	Beacon(events []IntegrityEventInput) bool
}

type integritySender struct{ a *AttemptClient }

func (s integritySender) Send(ctx context.Context, events []IntegrityEventInput) error {
	_, err := s.a.RecordIntegrity(ctx, events)
	return err
}

func (s integritySender) Beacon(events []IntegrityEventInput) bool {
	return s.a.Beacon(events)
}
