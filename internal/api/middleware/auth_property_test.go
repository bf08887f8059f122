package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/narvanalabs/deploylogs/internal/auth"
	"github.com/narvanalabs/deploylogs/pkg/logger"
)

var testSecret = []byte("middleware-test-secret-0123456789")

func newTestAuth(expiry time.Duration) *auth.Service {
	return auth.NewService(&auth.Config{JWTSecret: testSecret, TokenExpiry: expiry}, slog.Default())
}

// echoPrincipal reports the principal and log context the handler observed.
func echoPrincipal(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	userID, _ := r.Context().Value(logger.UserIDKey).(string)
	json.NewEncoder(w).Encode(map[string]string{
		"id":         p.ID,
		"email":      p.Email,
		"log_user":   userID,
		"via_getter": GetUserID(r.Context()),
	})
}

func genUserID() gopter.Gen {
	return gen.Identifier().SuchThat(func(s string) bool { return s != "" })
}

func genEmail() gopter.Gen {
	return gen.Identifier().Map(func(s string) string { return s + "@example.com" })
}

// **Feature: deployment-logs, Property 15: Authenticated requests carry the principal**
// *For any* user, a request bearing that user's token SHALL reach the handler
// with exactly that principal in its context, and the same request without a
// token SHALL be rejected before the handler runs.
func TestAuthenticatedRequestsCarryPrincipal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	svc := newTestAuth(time.Hour)
	h := NewAuthMiddleware(svc, nil).Authenticate(http.HandlerFunc(echoPrincipal))

	properties.Property("token principal reaches the handler", prop.ForAll(
		func(userID, email string) bool {
			token, err := svc.GenerateToken(userID, email)
			if err != nil {
				return false
			}
			req := httptest.NewRequest(http.MethodGet, "/v1/deployments/d/logs", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != http.StatusOK {
				t.Logf("status %d", rr.Code)
				return false
			}
			var got map[string]string
			if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
				return false
			}
			return got["id"] == userID && got["email"] == email &&
				got["log_user"] == userID && got["via_getter"] == userID
		},
		genUserID(),
		genEmail(),
	))

	properties.Property("missing token is rejected", prop.ForAll(
		func(userID string) bool {
			req := httptest.NewRequest(http.MethodGet, "/v1/deployments/"+userID+"/logs", nil)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			return rr.Code == http.StatusUnauthorized
		},
		genUserID(),
	))

	properties.TestingRun(t)
}

func TestAuthenticateRejections(t *testing.T) {
	svc := newTestAuth(time.Hour)
	expired, err := newTestAuth(-time.Hour).GenerateToken("user-1", "")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	foreign, err := auth.NewService(&auth.Config{JWTSecret: []byte("another-secret"), TokenExpiry: time.Hour}, nil).GenerateToken("user-1", "")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"missing", "", "Missing authentication"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "Missing authentication"},
		{"garbage", "Bearer not-a-jwt", "Invalid token"},
		{"expired", "Bearer " + expired, "Token has expired"},
		{"wrong secret", "Bearer " + foreign, "Invalid token"},
	}

	h := NewAuthMiddleware(svc, nil).Authenticate(http.HandlerFunc(echoPrincipal))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rr.Code)
			}
			var body map[string]string
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decoding body: %v", err)
			}
			if body["code"] != "unauthorized" || body["message"] != tt.message {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestAuthenticateAcceptsQueryToken(t *testing.T) {
	svc := newTestAuth(time.Hour)
	token, err := svc.GenerateToken("user-7", "")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	h := NewAuthMiddleware(svc, nil).Authenticate(http.HandlerFunc(echoPrincipal))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stream?access_token="+token, nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"id":"user-7"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestGettersWithoutPrincipal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if GetUserID(req.Context()) != "" || GetUserEmail(req.Context()) != "" {
		t.Error("getters should be empty without a principal")
	}
}

func TestRecoveryWritesEnvelope(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(Recovery(log))
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["code"] != "internal_error" {
		t.Errorf("code = %q", body["code"])
	}
	if !strings.Contains(buf.String(), "kaboom") {
		t.Errorf("panic not logged: %s", buf.String())
	}
}

func TestRequestLoggerPropagatesRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(RequestLogger(log))
	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ok", nil))

	if seen == "" {
		t.Fatal("request ID not propagated to the handler context")
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if entry["request_id"] != seen {
		t.Errorf("logged request_id = %v, want %s", entry["request_id"], seen)
	}
	if entry["status"] != float64(http.StatusNoContent) {
		t.Errorf("logged status = %v", entry["status"])
	}
}
