package routes_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/token-revocation/internal/core/domain"
	"github.com/arklim/token-revocation/internal/infra/config"
	httproutes "github.com/arklim/token-revocation/internal/transport/http/routes"
)

type fakeRevocations struct {
	outcome domain.CheckOutcome
}

func (f *fakeRevocations) RevokeWithReason(context.Context, string, string, time.Time, domain.RevocationReason) error {
	return nil
}

func (f *fakeRevocations) Check(context.Context, string) domain.CheckOutcome {
	return f.outcome
}

func (f *fakeRevocations) RevokeAllForUserWithReason(context.Context, string, domain.RevocationReason) (int, error) {
	return 2, nil
}

type checker struct{ err error }

func (c checker) HealthCheck(context.Context) error { return c.err }

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, _ := zap.NewDevelopment()
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test"}}

	r := httproutes.Register(httproutes.Dependencies{
		Config: cfg,
		Logger: logger,
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestReadinessFollowsDurableBackend(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test"}}

	healthy := httproutes.Register(httproutes.Dependencies{Config: cfg, Durable: checker{}})
	w := httptest.NewRecorder()
	healthy.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", w.Code)
	}

	down := httproutes.Register(httproutes.Dependencies{Config: cfg, Durable: checker{err: errors.New("connection refused")}})
	w = httptest.NewRecorder()
	down.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestRevocationRoutesRegistered(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test"}}
	r := httproutes.Register(httproutes.Dependencies{
		Config:      cfg,
		Revocations: &fakeRevocations{outcome: domain.CheckOutcomeMiss},
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/users/u-1/revocations", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("bulk revocation: expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/revocations/check", strings.NewReader(`{"token":"abc"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"outcome":"miss"`) {
		t.Fatalf("check: unexpected response %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/logout", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("logout without bearer: expected 401, got %d", w.Code)
	}
}
