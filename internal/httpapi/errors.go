package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"consultdesk.app/internal/access"
	"consultdesk.app/internal/booking"
	"consultdesk.app/internal/catalog"
	"consultdesk.app/internal/credits"
	"consultdesk.app/internal/ids"
	"consultdesk.app/internal/ledger"
	"consultdesk.app/internal/obs"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

var errEmptyBody = errors.New("request body is required")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

type errMapping struct {
	target error
	code   int
}

var domainErrors = []errMapping{
	{ledger.ErrInsufficientCredits, http.StatusConflict},
	{ledger.ErrInvalidAmount, http.StatusBadRequest},
	{ledger.ErrInvalidServiceType, http.StatusBadRequest},
	{ledger.ErrInvalidUser, http.StatusBadRequest},

	{catalog.ErrNotFound, http.StatusNotFound},

	{booking.ErrAlreadyBooked, http.StatusConflict},
	{booking.ErrAlreadyCancelled, http.StatusConflict},
	{booking.ErrRebookNotAllowed, http.StatusConflict},
	{booking.ErrItemInactive, http.StatusUnprocessableEntity},
	{booking.ErrNotFound, http.StatusNotFound},
	{booking.ErrInvalidInput, http.StatusBadRequest},

	{credits.ErrInvalidState, http.StatusConflict},
	{credits.ErrNotFound, http.StatusNotFound},
	{credits.ErrInvalidRequest, http.StatusBadRequest},

	{access.ErrNotFound, http.StatusNotFound},
	{access.ErrPurchaseNotActive, http.StatusConflict},
	{access.ErrAlreadyInactive, http.StatusConflict},
	{access.ErrActiveLinkExists, http.StatusConflict},
	{access.ErrInvalidLink, http.StatusBadRequest},
}

// handleDomainError maps a service error onto a status code. Unknown errors
// are logged and reported as 500 without their text.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range domainErrors {
		if errors.Is(err, m.target) {
			writeError(w, r, m.code, m.target.Error())
			return
		}
	}
	obs.Error("request failed", err, map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
		"method":     r.Method,
		"route":      obs.RoutePattern(r),
	})
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

// pathID returns the {id} URL parameter when it is a well-formed record id.
func pathID(r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	return id, ids.Valid(id)
}
