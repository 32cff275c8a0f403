package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/billiard-pos/billiard-pos/internal/audit"
)

type stubService struct {
	filters audit.TimelineFilters
	rows    []audit.TimelineRow
}

func (s *stubService) Timeline(_ context.Context, f audit.TimelineFilters) (audit.Result, error) {
	s.filters = f
	return audit.Result{Rows: s.rows, Paging: audit.PagingInfo{Page: f.Page, PageSize: 20}}, nil
}

func (s *stubService) Export(_ context.Context, f audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.filters = f
	return s.rows, nil
}

func newTestRouter(svc *stubService) http.Handler {
	h := NewHandler(nil, svc)
	h.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/audit", h.MountRoutes)
	return r
}

func TestTimelineFilters(t *testing.T) {
	svc := &stubService{rows: []audit.TimelineRow{{ID: 1, Action: "order.complete", Entity: "order", EntityID: "9"}}}
	router := newTestRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?entity=order&entity_id=9&actor_id=3&page=2", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Equal(t, "order", svc.filters.Entity)
	require.Equal(t, "9", svc.filters.EntityID)
	require.Equal(t, int64(3), svc.filters.ActorID)
	require.Equal(t, 2, svc.filters.Page)
	require.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), svc.filters.From)
	require.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), svc.filters.To)

	var body audit.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	router := newTestRouter(&stubService{})
	for _, q := range []string{
		"from=2026-03-10&to=2026-03-01",
		"from=2025-01-01&to=2026-03-01",
		"to=15-03-2026",
		"page=0",
		"actor_id=abc",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?"+q, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestExportCSV(t *testing.T) {
	svc := &stubService{rows: []audit.TimelineRow{{ID: 1, Action: "po.receive", Entity: "purchase_order", EntityID: "4"}}}
	router := newTestRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export.csv?entity=purchase_order", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	require.True(t, strings.HasPrefix(rec.Body.String(), "id,at,actor_id"))
	require.Contains(t, rec.Body.String(), "po.receive")
}
