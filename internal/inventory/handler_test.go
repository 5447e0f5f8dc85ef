package inventory_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func newTestRouter(t *testing.T, f fixture, perms ...string) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := inventory.NewHandler(logger, f.svc, inventory.NewAlertSnapshots(nil, f.svc, 0), rbac.Middleware{Logger: logger})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithActor(req.Context(), shared.Actor{TenantID: tenant, UserID: 9, Permissions: perms})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	h.MountRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerPostMovementAndReadStock(t *testing.T) {
	f := newFixture(inventory.ServiceConfig{})
	router := newTestRouter(t, f, shared.PermStockView, shared.PermStockMovementPost)

	rec := do(t, router, http.MethodPost, "/stock/movements",
		`{"product_id":10,"location_id":1,"kind":"receipt","quantity":25,"unit_cost":"1500.25","batch_number":"B-7"}`,
		"Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var m inventory.Movement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	require.EqualValues(t, 25, m.QuantityAfter)
	require.Equal(t, "1500.25", m.UnitCost.String())

	rec = do(t, router, http.MethodPost, "/stock/movements",
		`{"product_id":10,"location_id":1,"kind":"receipt","quantity":25}`, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodGet, "/stock/10/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var line inventory.StockLine
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &line))
	require.EqualValues(t, 25, line.QuantityOnHand)

	rec = do(t, router, http.MethodGet, "/stock/10/1/reconcile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"consistent":true`)
}

func TestHandlerReportsOffendingLine(t *testing.T) {
	f := newFixture(inventory.ServiceConfig{})
	router := newTestRouter(t, f, shared.PermStockMovementPost)

	rec := do(t, router, http.MethodPost, "/stock/movements",
		`{"product_id":10,"location_id":3,"kind":"transfer_out","quantity":4}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.EqualValues(t, 10, problem.ProductID)
	require.EqualValues(t, 3, problem.LocationID)
	require.Equal(t, "quantity", problem.Field)

	rec = do(t, router, http.MethodPost, "/stock/movements",
		`{"product_id":10,"location_id":3,"kind":"transfer_out","quantity":-4}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "quantity", problem.Field)
}

func TestHandlerRequiresPermission(t *testing.T) {
	f := newFixture(inventory.ServiceConfig{})
	router := newTestRouter(t, f, shared.PermStockView)

	rec := do(t, router, http.MethodPut, "/stock/10/1/thresholds", `{"min_threshold":3,"max_threshold":9}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodGet, "/alerts?type=low", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/alerts?type=nope", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
