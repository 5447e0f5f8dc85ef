package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/internal/testing/memstore"
)

func newTestRouter(t *testing.T) (http.Handler, *memstore.Ledger) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	ledger := memstore.NewLedger(store)
	metrics := observability.NewMetrics()
	svc := inventory.NewService(ledger, memstore.NewIdempotency(store), inventory.ServiceConfig{}, metrics)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	router := NewRouter(RouterParams{
		Logger:           logger,
		Config:           &Config{RateLimitPerMinute: 1000},
		InventoryHandler: inventory.NewHandler(logger, svc, inventory.NewAlertSnapshots(client, svc, 0), rbac.Middleware{Logger: logger}),
		Metrics:          metrics,
	})
	return router, ledger
}

func withActor(req *http.Request, perms ...string) *http.Request {
	req.Header.Set(HeaderTenantID, "1")
	req.Header.Set(HeaderActorID, "9")
	req.Header.Set(HeaderPermissions, strings.Join(perms, ", "))
	return req
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestAPIRequiresActorHeaders(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stock/1/1", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stock/1/1", nil)
	req.Header.Set(HeaderTenantID, "abc")
	req.Header.Set(HeaderActorID, "9")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIEnforcesPermissions(t *testing.T) {
	router, _ := newTestRouter(t)
	body := `{"product_id":1,"location_id":1,"kind":"receipt","quantity":5}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/stock/movements", strings.NewReader(body)), shared.PermStockView)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPostMovementThroughRouter(t *testing.T) {
	router, ledger := newTestRouter(t)
	ledger.Seed(1, 1, 1, 10)

	body := `{"product_id":1,"location_id":1,"kind":"receipt","quantity":5}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/stock/movements", strings.NewReader(body)), shared.PermStockMovementPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req = withActor(httptest.NewRequest(http.MethodGet, "/api/v1/stock/1/1", nil), shared.PermStockView)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var line inventory.StockLine
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&line))
	require.EqualValues(t, 15, line.QuantityOnHand)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `odyssey_stock_movements_total{kind="receipt"} 1`)
}
