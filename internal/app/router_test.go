package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/billiard-pos/billiard-pos/internal/observability"
	"github.com/billiard-pos/billiard-pos/internal/shared"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRouterProbes(t *testing.T) {
	var down bool
	router := NewRouter(RouterParams{
		Config:  &Config{AppEnv: "test"},
		Metrics: observability.NewMetrics(),
		Database: pingerFunc(func(context.Context) error {
			if down {
				return errors.New("db down")
			}
			return nil
		}),
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	require.Equal(t, http.StatusOK, get("/readyz").Code)
	down = true
	require.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)

	rec = get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "pos_http_requests_total")
}

func TestMiddlewareStackSetsActor(t *testing.T) {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Config: &Config{RateLimit: 100}}) {
		r.Use(mw)
	}
	var actor int64
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		actor = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(shared.ActorHeader, "42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, int64(42), actor)
}
