package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/narvanalabs/deploylogs/internal/auth"
	"github.com/narvanalabs/deploylogs/internal/logs"
	"github.com/narvanalabs/deploylogs/internal/models"
	"github.com/narvanalabs/deploylogs/internal/store"
	"github.com/narvanalabs/deploylogs/internal/store/memory"
)

const testUser = "user-1"

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// asUser places a principal in every request context, standing in for the
// auth middleware.
func asUser(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID != "" {
				r = r.WithContext(auth.WithPrincipal(r.Context(), auth.Principal{ID: userID}))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func logRouter(st store.LogStore, userID string) http.Handler {
	h := NewLogHandler(st, nil, testLogger())
	r := chi.NewRouter()
	r.Use(asUser(userID))
	r.Get("/v1/deployments/{deploymentID}/logs", h.List)
	r.Post("/v1/deployments/{deploymentID}/logs", h.Create)
	return r
}

func seedRow(t *testing.T, st store.LogStore, userID, deploymentID, id, level, message, source string, offset time.Duration) {
	t.Helper()
	row := &store.LogRow{
		ID:           id,
		DeploymentID: deploymentID,
		UserID:       userID,
		LogLevel:     level,
		Message:      message,
		CreatedAt:    t0.Add(offset),
	}
	if source != "" {
		row.Source = &source
	}
	if _, err := st.Insert(context.Background(), row); err != nil {
		t.Fatalf("seeding row: %v", err)
	}
}

func seededStore(t *testing.T) *memory.LogStore {
	st := memory.NewLogStore()
	seedRow(t, st, testUser, "dep-1", "c", "info", "Upload started", "storage", 3*time.Second)
	seedRow(t, st, testUser, "dep-1", "a", "info", "Starting deployment", "system", time.Second)
	seedRow(t, st, testUser, "dep-1", "b", "warn", "Build cache miss", "build", 2*time.Second)
	seedRow(t, st, testUser, "dep-1", "d", "error", "Upload failed", "storage", 4*time.Second)
	seedRow(t, st, "user-2", "dep-1", "x", "info", "someone else's line", "system", time.Second)
	return st
}

func decodeList(t *testing.T, rr *httptest.ResponseRecorder) LogListResponse {
	t.Helper()
	var resp LogListResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp
}

func entryIDs(entries []*models.LogEntry) string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return strings.Join(ids, ",")
}

func TestLogHandler_List(t *testing.T) {
	router := logRouter(seededStore(t), testUser)

	tests := []struct {
		name    string
		query   string
		wantIDs string
	}{
		{"ordered and owned only", "", "a,b,c,d"},
		{"search message", "?q=upload", "c,d"},
		{"search source", "?q=BUILD", "b"},
		{"level", "?level=warn", "b"},
		{"level alias", "?level=warning", "b"},
		{"level all", "?level=ALL", "a,b,c,d"},
		{"search and level", "?q=upload&level=error", "d"},
		{"limit keeps newest", "?limit=2", "c,d"},
		{"no match", "?q=nothing-here", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/deployments/dep-1/logs"+tt.query, nil))

			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
			}
			resp := decodeList(t, rr)
			if got := entryIDs(resp.Logs); got != tt.wantIDs {
				t.Errorf("ids = %q, want %q", got, tt.wantIDs)
			}
			if resp.Count != len(resp.Logs) || resp.DeploymentID != "dep-1" {
				t.Errorf("response = %+v", resp)
			}
			if resp.Logs == nil {
				t.Error("logs should be an empty array, not null")
			}
		})
	}
}

func TestLogHandler_ListRejectsBadParams(t *testing.T) {
	router := logRouter(seededStore(t), testUser)

	for _, q := range []string{"?level=verbose", "?limit=0", "?limit=abc", "?limit=5000"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/deployments/dep-1/logs"+q, nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rr.Code)
		}
	}
}

type failingStore struct {
	listErr   error
	insertErr error
}

func (s failingStore) List(ctx context.Context, userID, deploymentID string) ([]*store.LogRow, error) {
	return nil, s.listErr
}

func (s failingStore) Insert(ctx context.Context, row *store.LogRow) (*store.LogRow, error) {
	return nil, s.insertErr
}

func TestLogHandler_ListStoreFailure(t *testing.T) {
	router := logRouter(failingStore{listErr: errors.New("db down")}, testUser)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/deployments/dep-1/logs", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	var apiErr APIError
	json.NewDecoder(rr.Body).Decode(&apiErr)
	if apiErr.Code != ErrCodeInternalError {
		t.Errorf("code = %q", apiErr.Code)
	}
}

func TestLogHandler_Create(t *testing.T) {
	st := memory.NewLogStore()
	router := logRouter(st, testUser)

	body := `{"level":"warning","message":"Disk almost full","project_id":"proj-1","metadata":{"percent":91}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/deployments/dep-9/logs", strings.NewReader(body)))

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var entry models.LogEntry
	if err := json.NewDecoder(rr.Body).Decode(&entry); err != nil {
		t.Fatalf("decoding entry: %v", err)
	}
	if entry.ID == "" || entry.Timestamp.IsZero() {
		t.Errorf("store should assign id and timestamp: %+v", entry)
	}
	if entry.Level != models.LogLevelWarn || entry.Source != models.DefaultLogSource || entry.ProjectID != "proj-1" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Metadata["percent"] != float64(91) {
		t.Errorf("metadata = %v", entry.Metadata)
	}

	rows, _ := st.List(context.Background(), testUser, "dep-9")
	if len(rows) != 1 || rows[0].UserID != testUser {
		t.Fatalf("stored rows = %+v", rows)
	}
}

func TestLogHandler_CreateRejections(t *testing.T) {
	tests := []struct {
		name       string
		store      store.LogStore
		userID     string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"malformed json", memory.NewLogStore(), testUser, `{`, http.StatusBadRequest, ErrCodeInvalidRequest},
		{"blank message", memory.NewLogStore(), testUser, `{"message":"  "}`, http.StatusBadRequest, ErrCodeInvalidRequest},
		{"unknown level", memory.NewLogStore(), testUser, `{"message":"x","level":"loud"}`, http.StatusBadRequest, ErrCodeInvalidRequest},
		{"no principal", memory.NewLogStore(), "", `{"message":"x"}`, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"insert failure", failingStore{insertErr: errors.New("disk full")}, testUser, `{"message":"x"}`, http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/deployments/dep-1/logs", strings.NewReader(tt.body))
			logRouter(tt.store, tt.userID).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			var apiErr APIError
			if err := json.NewDecoder(rr.Body).Decode(&apiErr); err != nil {
				t.Fatalf("decoding error: %v", err)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.wantCode)
			}
		})
	}
}

func TestWriteLogError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"mapping", &logs.MappingError{Field: "message", Reason: "empty"}, http.StatusBadRequest},
		{"no principal", logs.ErrNoPrincipal, http.StatusUnauthorized},
		{"insert", &logs.InsertError{DeploymentID: "d", Err: errors.New("x")}, http.StatusInternalServerError},
		{"fetch", &logs.FetchError{DeploymentID: "d", Err: errors.New("x")}, http.StatusInternalServerError},
		{"other", errors.New("x"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			WriteLogError(rr, tt.err)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}

	rr := httptest.NewRecorder()
	WriteLogError(rr, &logs.MappingError{Field: "level", Reason: "unknown level x"})
	if !bytes.Contains(rr.Body.Bytes(), []byte(`"field":"level"`)) {
		t.Errorf("mapping details missing: %s", rr.Body.String())
	}
}
