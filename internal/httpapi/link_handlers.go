package httpapi

import (
	"net/http"
	"time"

	"consultdesk.app/internal/access"
	"consultdesk.app/internal/audit"
)

type issueLinkRequest struct {
	SessionURL string    `json:"session_url"`
	ExpiresAt  time.Time `json:"expires_at"`
	Notes      string    `json:"notes,omitempty"`
}

func (a *API) issueLink(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		handleDomainError(w, r, access.ErrNotFound)
		return
	}
	var req issueLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	link, err := a.svc.Links.IssueLink(r.Context(), id, req.SessionURL, req.ExpiresAt, req.Notes)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.Record(r.Context(), audit.LinkIssued, map[string]any{
		"link_id":     link.ID,
		"purchase_id": link.PurchaseID,
		"owner_id":    link.UserID,
		"expires_at":  link.ExpiresAt,
	})
	writeJSON(w, http.StatusCreated, link)
}

func (a *API) getActiveLink(w http.ResponseWriter, r *http.Request) {
	p, ok := a.ownedPurchase(w, r)
	if !ok {
		return
	}
	link, err := a.svc.Links.GetActiveLink(r.Context(), p.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (a *API) listLinks(w http.ResponseWriter, r *http.Request) {
	p, ok := a.ownedPurchase(w, r)
	if !ok {
		return
	}
	links, err := a.svc.Links.ListLinks(r.Context(), p.ID)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if links == nil {
		links = []access.Link{}
	}
	writeJSON(w, http.StatusOK, listResponse[access.Link]{Items: links})
}

func (a *API) deactivateLink(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		handleDomainError(w, r, access.ErrNotFound)
		return
	}
	link, err := a.svc.Links.DeactivateLink(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	audit.Record(r.Context(), audit.LinkDeactivated, map[string]any{
		"link_id":     link.ID,
		"purchase_id": link.PurchaseID,
	})
	writeJSON(w, http.StatusOK, link)
}
