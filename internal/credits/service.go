package credits

import (
	"context"
	"fmt"
	"strings"
	"time"

	"consultdesk.app/internal/events"
	"consultdesk.app/internal/ids"
	"consultdesk.app/internal/ledger"
	"consultdesk.app/internal/obs"
)

// Service drives the pending -> approved|rejected state machine.
type Service struct {
	repo   Repository
	ledger ledger.Ledger
	pub    events.Publisher
	now    func() time.Time
}

func NewService(repo Repository, l ledger.Ledger, pub events.Publisher) *Service {
	return &Service{
		repo:   repo,
		ledger: l,
		pub:    pub,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Submit records a new pending request.
func (s *Service) Submit(ctx context.Context, userID string, st ledger.ServiceType, amount int64) (Request, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || amount <= 0 {
		return Request{}, ErrInvalidRequest
	}
	if !st.Valid() {
		return Request{}, ledger.ErrInvalidServiceType
	}
	now := s.now()
	return s.repo.Create(ctx, Request{
		ID:              ids.NewAt(now),
		UserID:          userID,
		ServiceType:     st,
		RequestedAmount: amount,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

// Approve moves a pending request to approved and then credits the ledger.
// Only the caller whose conditional transition succeeds issues the credit, so
// racing approvals credit once. The decision is final: if the credit fails
// the approved request is returned together with the error and the ledger is
// left for an operator to reconcile.
func (s *Service) Approve(ctx context.Context, id, adminID, notes string) (Request, error) {
	if strings.TrimSpace(adminID) == "" {
		return Request{}, ErrInvalidRequest
	}
	req, err := s.repo.Transition(ctx, id, StatusPending, StatusApproved, adminID, notes)
	if err != nil {
		return Request{}, err
	}
	if _, err := s.ledger.Credit(ctx, req.UserID, req.ServiceType, req.RequestedAmount); err != nil {
		obs.CreditDecision("approved_credit_failed")
		obs.Error("credit for approved request failed", err, map[string]any{
			"credit_request_id": req.ID,
			"user_id":           req.UserID,
			"service_type":      req.ServiceType,
			"amount":            req.RequestedAmount,
		})
		return req, fmt.Errorf("credit ledger: %w", err)
	}
	obs.CreditDecision(string(StatusApproved))
	events.Emit(ctx, s.pub, events.New(events.CreditRequestApproved, req.UserID, req.ID, map[string]any{
		"service_type": req.ServiceType,
		"amount":       req.RequestedAmount,
		"admin_id":     req.AdminID,
	}))
	return req, nil
}

// Reject moves a pending request to rejected. The ledger is not touched.
func (s *Service) Reject(ctx context.Context, id, adminID, notes string) (Request, error) {
	if strings.TrimSpace(adminID) == "" {
		return Request{}, ErrInvalidRequest
	}
	req, err := s.repo.Transition(ctx, id, StatusPending, StatusRejected, adminID, notes)
	if err != nil {
		return Request{}, err
	}
	obs.CreditDecision(string(StatusRejected))
	events.Emit(ctx, s.pub, events.New(events.CreditRequestRejected, req.UserID, req.ID, map[string]any{
		"admin_id": req.AdminID,
	}))
	return req, nil
}

func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.repo.Get(ctx, strings.TrimSpace(id))
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]Request, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidRequest
	}
	return s.repo.ListByUser(ctx, userID)
}

func (s *Service) ListByStatus(ctx context.Context, status Status) ([]Request, error) {
	return s.repo.ListByStatus(ctx, status)
}
