package httpapi

import (
	"net/http"
	"strings"

	"consultdesk.app/internal/audit"
	"consultdesk.app/internal/auth"
	"consultdesk.app/internal/booking"
	"consultdesk.app/internal/ledger"
	"consultdesk.app/internal/obs"
)

type createBookingRequest struct {
	ItemID      string `json:"item_id"`
	ServiceType string `json:"service_type,omitempty"`
}

type createPurchaseRequest struct {
	ItemID string `json:"item_id"`
}

func (a *API) createBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var st ledger.ServiceType
	if strings.TrimSpace(req.ServiceType) != "" {
		parsed, err := ledger.ParseServiceType(req.ServiceType)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		st = parsed
	}
	b, err := a.svc.Engine.CreateBooking(r.Context(), callerID(r), req.ItemID, st)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.Record(r.Context(), audit.BookingCreated, map[string]any{
		"booking_id":   b.ID,
		"item_id":      b.ItemID,
		"service_type": b.ServiceType,
		"credits_used": b.CreditsUsed,
	})
	writeJSON(w, http.StatusCreated, b)
}

func (a *API) listBookings(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.Engine.ListBookings(r.Context(), callerID(r))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []booking.Booking{}
	}
	writeJSON(w, http.StatusOK, listResponse[booking.Booking]{Items: items})
}

func (a *API) getBooking(w http.ResponseWriter, r *http.Request) {
	b, ok := a.ownedBooking(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) cancelBooking(w http.ResponseWriter, r *http.Request) {
	cur, ok := a.ownedBooking(w, r)
	if !ok {
		return
	}
	b, err := a.svc.Engine.CancelBooking(r.Context(), cur.ID)
	if err != nil && b.Status != booking.StatusCancelled {
		handleDomainError(w, r, err)
		return
	}
	audit.Record(r.Context(), audit.BookingCancelled, map[string]any{
		"booking_id":       b.ID,
		"owner_id":         b.UserID,
		"credits_refunded": refunded(b.CreditsUsed, err),
	})
	if err != nil {
		writeRefundFailure(w, r, "booking", b, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) ownedBooking(w http.ResponseWriter, r *http.Request) (booking.Booking, bool) {
	id, ok := pathID(r)
	if !ok {
		handleDomainError(w, r, booking.ErrNotFound)
		return booking.Booking{}, false
	}
	b, err := a.svc.Engine.GetBooking(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return booking.Booking{}, false
	}
	if !auth.CanAccess(r.Context(), b.UserID) {
		handleDomainError(w, r, booking.ErrNotFound)
		return booking.Booking{}, false
	}
	return b, true
}

func (a *API) createPurchase(w http.ResponseWriter, r *http.Request) {
	var req createPurchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.svc.Engine.CreatePurchase(r.Context(), callerID(r), req.ItemID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.Record(r.Context(), audit.PurchaseCreated, map[string]any{
		"purchase_id":  p.ID,
		"item_id":      p.ItemID,
		"amount_paid":  p.AmountPaid,
		"credits_used": p.CreditsUsed,
	})
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) listPurchases(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.Engine.ListPurchases(r.Context(), callerID(r))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []booking.Purchase{}
	}
	writeJSON(w, http.StatusOK, listResponse[booking.Purchase]{Items: items})
}

func (a *API) getPurchase(w http.ResponseWriter, r *http.Request) {
	p, ok := a.ownedPurchase(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) cancelPurchase(w http.ResponseWriter, r *http.Request) {
	cur, ok := a.ownedPurchase(w, r)
	if !ok {
		return
	}
	p, err := a.svc.Engine.CancelPurchase(r.Context(), cur.ID)
	if err != nil && p.Status != booking.StatusCancelled {
		handleDomainError(w, r, err)
		return
	}
	audit.Record(r.Context(), audit.PurchaseCancelled, map[string]any{
		"purchase_id":      p.ID,
		"owner_id":         p.UserID,
		"credits_refunded": refunded(p.CreditsUsed, err),
	})
	if err != nil {
		writeRefundFailure(w, r, "purchase", p, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) ownedPurchase(w http.ResponseWriter, r *http.Request) (booking.Purchase, bool) {
	id, ok := pathID(r)
	if !ok {
		handleDomainError(w, r, booking.ErrNotFound)
		return booking.Purchase{}, false
	}
	p, err := a.svc.Engine.GetPurchase(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return booking.Purchase{}, false
	}
	if !auth.CanAccess(r.Context(), p.UserID) {
		handleDomainError(w, r, booking.ErrNotFound)
		return booking.Purchase{}, false
	}
	return p, true
}

func refunded(credits int64, err error) int64 {
	if err != nil {
		return 0
	}
	return credits
}

// writeRefundFailure reports a cancellation that committed while its refund
// did not. The record is returned so the client sees the cancelled state.
func writeRefundFailure(w http.ResponseWriter, r *http.Request, kind string, record any, err error) {
	obs.Error("cancellation refund failed", err, map[string]any{
		"kind":       kind,
		"request_id": RequestIDFromContext(r.Context()),
	})
	payload := map[string]any{
		"error": "cancelled but refund failed",
		kind:    record,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusInternalServerError, payload)
}
