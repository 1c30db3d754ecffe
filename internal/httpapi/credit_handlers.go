package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"consultdesk.app/internal/audit"
	"consultdesk.app/internal/auth"
	"consultdesk.app/internal/credits"
	"consultdesk.app/internal/ledger"
	"consultdesk.app/internal/obs"
)

type submitCreditRequest struct {
	ServiceType string `json:"service_type"`
	Amount      int64  `json:"amount"`
}

type decisionRequest struct {
	Notes string `json:"notes"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func callerID(r *http.Request) string {
	uid, _ := auth.UserIDFromContext(r.Context())
	return uid
}

func (a *API) listOwnBalances(w http.ResponseWriter, r *http.Request) {
	a.writeBalances(w, r, callerID(r))
}

func (a *API) listUserBalances(w http.ResponseWriter, r *http.Request) {
	a.writeBalances(w, r, chi.URLParam(r, "userID"))
}

func (a *API) writeBalances(w http.ResponseWriter, r *http.Request, userID string) {
	items, err := a.svc.Ledger.ListBalances(r.Context(), userID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.Balance{}
	}
	writeJSON(w, http.StatusOK, listResponse[ledger.Balance]{Items: items})
}

func (a *API) getOwnBalance(w http.ResponseWriter, r *http.Request) {
	st, err := ledger.ParseServiceType(chi.URLParam(r, "serviceType"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	bal, err := a.svc.Ledger.GetBalance(r.Context(), callerID(r), st)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (a *API) submitCreditRequest(w http.ResponseWriter, r *http.Request) {
	var req submitCreditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	st, err := ledger.ParseServiceType(req.ServiceType)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	cr, err := a.svc.Credits.Submit(r.Context(), callerID(r), st, req.Amount)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.Record(r.Context(), audit.CreditRequestSubmitted, map[string]any{
		"credit_request_id": cr.ID,
		"service_type":      cr.ServiceType,
		"amount":            cr.RequestedAmount,
	})
	writeJSON(w, http.StatusCreated, cr)
}

// listCreditRequests returns the caller's own requests. Admins see the
// whole queue, optionally narrowed with ?status=.
func (a *API) listCreditRequests(w http.ResponseWriter, r *http.Request) {
	var status credits.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		s, err := credits.ParseStatus(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "unknown status filter")
			return
		}
		status = s
	}

	var (
		items []credits.Request
		err   error
	)
	if auth.IsAdmin(r.Context()) {
		items, err = a.svc.Credits.ListByStatus(r.Context(), status)
	} else {
		items, err = a.svc.Credits.ListForUser(r.Context(), callerID(r))
		if err == nil && status != "" {
			items = filterByStatus(items, status)
		}
	}
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []credits.Request{}
	}
	writeJSON(w, http.StatusOK, listResponse[credits.Request]{Items: items})
}

func filterByStatus(in []credits.Request, status credits.Status) []credits.Request {
	out := in[:0]
	for _, cr := range in {
		if cr.Status == status {
			out = append(out, cr)
		}
	}
	return out
}

func (a *API) getCreditRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		handleDomainError(w, r, credits.ErrNotFound)
		return
	}
	cr, err := a.svc.Credits.Get(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if !auth.CanAccess(r.Context(), cr.UserID) {
		handleDomainError(w, r, credits.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, cr)
}

func (a *API) approveCreditRequest(w http.ResponseWriter, r *http.Request) {
	a.decideCreditRequest(w, r, true)
}

func (a *API) rejectCreditRequest(w http.ResponseWriter, r *http.Request) {
	a.decideCreditRequest(w, r, false)
}

func (a *API) decideCreditRequest(w http.ResponseWriter, r *http.Request, approve bool) {
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, ok := pathID(r)
	if !ok {
		handleDomainError(w, r, credits.ErrNotFound)
		return
	}
	var (
		cr    credits.Request
		err   error
		event string
	)
	if approve {
		cr, err = a.svc.Credits.Approve(r.Context(), id, callerID(r), req.Notes)
		event = audit.CreditRequestApproved
	} else {
		cr, err = a.svc.Credits.Reject(r.Context(), id, callerID(r), req.Notes)
		event = audit.CreditRequestRejected
	}
	if err != nil && cr.Status == credits.StatusApproved {
		writeCreditFailure(w, r, cr, err)
		return
	}
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.Record(r.Context(), event, map[string]any{
		"credit_request_id": cr.ID,
		"owner_id":          cr.UserID,
		"service_type":      cr.ServiceType,
		"amount":            cr.RequestedAmount,
	})
	writeJSON(w, http.StatusOK, cr)
}

// writeCreditFailure reports an approval whose decision committed while the
// ledger credit did not confirm. The request stays approved.
func writeCreditFailure(w http.ResponseWriter, r *http.Request, cr credits.Request, err error) {
	obs.Error("approved credit request not credited", err, map[string]any{
		"credit_request_id": cr.ID,
		"request_id":        RequestIDFromContext(r.Context()),
	})
	audit.Record(r.Context(), audit.CreditRequestApproved, map[string]any{
		"credit_request_id": cr.ID,
		"owner_id":          cr.UserID,
		"service_type":      cr.ServiceType,
		"amount":            cr.RequestedAmount,
		"credit_failed":     true,
	})
	payload := map[string]any{
		"error":          "approved but credit failed",
		"credit_request": cr,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusInternalServerError, payload)
}
