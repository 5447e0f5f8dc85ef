package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{shared.Invalid("quantity", "must be positive"), http.StatusBadRequest},
		{fmt.Errorf("load: %w", shared.ErrNotFound), http.StatusNotFound},
		{shared.ErrInvalidTransition, http.StatusConflict},
		{shared.ErrConcurrencyConflict, http.StatusConflict},
		{shared.ErrIdempotencyConflict, http.StatusConflict},
		{shared.InsufficientStock(2, 7, 1, 5, 10), http.StatusUnprocessableEntity},
		{shared.ErrStaleAdjustment, http.StatusUnprocessableEntity},
		{shared.ErrUnauthenticated, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
		require.Equal(t, tc.status, StatusFor(tc.err))
	}
}

func TestRespondErrorExposesOffendingItem(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, shared.InsufficientStock(2, 7, 1, 5, 10))

	var problem ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&problem))
	require.Equal(t, 2, problem.Item)
	require.Equal(t, "quantity", problem.Field)
	require.EqualValues(t, 7, problem.ProductID)
	require.EqualValues(t, 1, problem.LocationID)
	require.Contains(t, problem.Detail, "available 5, requested 10")
}

func TestInternalErrorsHideDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("pq: password authentication failed"))
	require.NotContains(t, rec.Body.String(), "password")
}

type itemsRequest struct {
	Items []struct {
		ProductID int64 `json:"product_id" validate:"required,gt=0"`
		Quantity  int64 `json:"quantity" validate:"gt=0"`
	} `json:"items" validate:"required,min=1,dive"`
}

func TestDecodeAndValidateReportsItemField(t *testing.T) {
	body := `{"items":[{"product_id":1,"quantity":3},{"product_id":2,"quantity":0}]}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

	var target itemsRequest
	err := DecodeAndValidate(req, NewValidator(), &target)
	require.ErrorIs(t, err, shared.ErrValidation)

	var detail *shared.DetailError
	require.ErrorAs(t, err, &detail)
	require.Equal(t, 2, detail.Item)
	require.Equal(t, "quantity", detail.Field)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"items":[],"extra":1}`))
	var target itemsRequest
	require.ErrorIs(t, DecodeJSON(req, &target), shared.ErrValidation)
}

func TestPathAndQueryParsing(t *testing.T) {
	r := chi.NewRouter()
	var gotID, gotLoc int64
	var gotErr error
	r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
		gotID, gotErr = PathInt64(req, "id")
		if gotErr == nil {
			gotLoc, gotErr = QueryInt64(req, "locationId")
		}
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/12?locationId=3", nil))
	require.NoError(t, gotErr)
	require.EqualValues(t, 12, gotID)
	require.EqualValues(t, 3, gotLoc)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/abc", nil))
	require.ErrorIs(t, gotErr, shared.ErrValidation)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/5?locationId=-1", nil))
	require.ErrorIs(t, gotErr, shared.ErrValidation)
}

func TestQueryTimeEndOfDay(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?to=2026-03-01", nil)
	to, err := QueryTime(req, "to", true)
	require.NoError(t, err)
	require.Equal(t, 23, to.Hour())
	require.Equal(t, 1, to.Day())

	req = httptest.NewRequest(http.MethodGet, "/?to=yesterday", nil)
	_, err = QueryTime(req, "to", false)
	require.ErrorIs(t, err, shared.ErrValidation)
}
