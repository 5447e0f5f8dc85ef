// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

type errorMapping struct {
	kind   error
	status int
	title  string
}

var errorMappings = []errorMapping{
	{shared.ErrValidation, http.StatusBadRequest, "Validation Failed"},
	{shared.ErrNotFound, http.StatusNotFound, "Not Found"},
	{shared.ErrInvalidTransition, http.StatusConflict, "Invalid Transition"},
	{shared.ErrConcurrencyConflict, http.StatusConflict, "Concurrency Conflict"},
	{shared.ErrIdempotencyConflict, http.StatusConflict, "Duplicate Request"},
	{shared.ErrInsufficientStock, http.StatusUnprocessableEntity, "Insufficient Stock"},
	{shared.ErrStaleAdjustment, http.StatusUnprocessableEntity, "Stale Adjustment"},
	{shared.ErrUnauthenticated, http.StatusUnauthorized, "Unauthorized"},
	{ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	{ErrForbidden, http.StatusForbidden, "Forbidden"},
}

// StatusFor returns the HTTP status RespondError would use for err.
func StatusFor(err error) int {
	for _, m := range errorMappings {
		if errors.Is(err, m.kind) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807. Errors
// carrying item details expose them so clients can point at the failing line.
func RespondError(w http.ResponseWriter, err error) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.kind) {
			continue
		}
		problem := ProblemDetail{Title: m.title, Status: m.status, Detail: shared.UserSafeMessage(err)}
		var detail *shared.DetailError
		if errors.As(err, &detail) {
			problem.Field = detail.Field
			problem.Item = detail.Item
			problem.ProductID = detail.ProductID
			problem.LocationID = detail.LocationID
		}
		JSON(w, m.status, problem)
		return
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
