package candidate

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/response"
)

func writeEnvelope(w http.ResponseWriter, status int, data any, errBody *response.ErrorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response.Response{Data: data, Error: errBody})
}

func TestValidatePinDecodesData(t *testing.T) {
	attemptID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/pins/validate" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req model.ValidatePinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Pin != "123456" {
			t.Errorf("pin = %q", req.Pin)
		}
		writeEnvelope(w, http.StatusCreated, model.ValidatePinResult{
			ExamID:        req.ExamID,
			RemainingUses: 0,
			AttemptID:     &attemptID,
			AttemptToken:  "tok",
		}, nil)
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL+"/").ValidatePin(t.Context(), ValidatePinRequest{
		ExamID:        uuid.New(),
		Pin:           "123456",
		CandidateName: "Ada",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.AttemptID == nil || *res.AttemptID != attemptID || res.AttemptToken != "tok" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestErrorEnvelopeBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		writeEnvelope(w, http.StatusBadRequest, nil, &response.ErrorBody{
			Code:    response.ErrNotEditable,
			Message: "closed",
		})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Attempt(uuid.New(), "tok").Submit(t.Context())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != response.ErrNotEditable {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if !Closed(err) {
		t.Fatal("Closed should report true for ATTEMPT_NOT_EDITABLE")
	}
}

func TestAttemptPathsCarryID(t *testing.T) {
	id := uuid.New()
	seen := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Method + " " + r.URL.Path
		writeEnvelope(w, http.StatusOK, map[string]any{}, nil)
	}))
	defer srv.Close()

	ac := NewClient(srv.URL).Attempt(id, "tok")
	if err := ac.UpdateProgress(t.Context(), 3); err != nil {
		t.Fatal(err)
	}
	if _, err := ac.State(t.Context()); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"PUT /api/v1/attempts/" + id.String() + "/progress",
		"GET /api/v1/attempts/" + id.String() + "/state",
	}
	for _, w := range want {
		if got := <-seen; got != w {
			t.Fatalf("request = %q, want %q", got, w)
		}
	}
}

func TestBeaconDeliversInBackground(t *testing.T) {
	got := make(chan model.IntegrityBatchRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req model.IntegrityBatchRequest
		json.Unmarshal(body, &req)
		got <- req
		writeEnvelope(w, http.StatusOK, map[string]any{}, nil)
	}))
	defer srv.Close()

	ac := NewClient(srv.URL).Attempt(uuid.New(), "tok")
	ok := ac.Beacon([]IntegrityEventInput{{
		Type:       model.EventPageHide,
		Severity:   model.SeverityWarning,
		OccurredAt: time.Now(),
	}})
	if !ok {
		t.Fatal("beacon refused a small payload")
	}

	select {
	case req := <-got:
		if len(req.Events) != 1 || req.Events[0].Type != model.EventPageHide {
			t.Fatalf("unexpected beacon body %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("beacon never arrived")
	}
}

func TestBeaconRefusesOversizedPayload(t *testing.T) {
	ac := NewClient("http://127.0.0.1:1").Attempt(uuid.New(), "tok")
	events := make([]IntegrityEventInput, 0, 1000)
	meta := json.RawMessage(`{"note":"` + string(make([]byte, 0)) + `xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"}`)
	for range 1000 {
		events = append(events, IntegrityEventInput{Type: "blur", Severity: model.SeverityInfo, OccurredAt: time.Now(), Metadata: meta})
	}
	if ac.Beacon(events) {
		t.Fatal("beacon accepted a payload above the quota")
	}
}
