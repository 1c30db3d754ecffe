package ledger

import (
	"errors"
	"strings"
	"time"
)

// ServiceType scopes a credit balance. Credits bought for one kind of
// service cannot be spent on another.
type ServiceType string

const (
	ServiceConsultation ServiceType = "consultation"
	ServiceCoaching     ServiceType = "coaching"
	ServiceProgram      ServiceType = "program"
	ServiceTool         ServiceType = "tool"
)

var knownServiceTypes = map[ServiceType]struct{}{
	ServiceConsultation: {},
	ServiceCoaching:     {},
	ServiceProgram:      {},
	ServiceTool:         {},
}

// ParseServiceType normalises raw and checks it against the known service types.
func ParseServiceType(raw string) (ServiceType, error) {
	st := ServiceType(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownServiceTypes[st]; !ok {
		return "", ErrInvalidServiceType
	}
	return st, nil
}

// Valid reports whether st is a known service type.
func (st ServiceType) Valid() bool {
	_, ok := knownServiceTypes[st]
	return ok
}

// Balance is the amount of credits a user holds for one service type.
// Amounts are whole credits and never negative.
type Balance struct {
	UserID      string      `json:"user_id"`
	ServiceType ServiceType `json:"service_type"`
	Amount      int64       `json:"amount"`
	UpdatedAt   time.Time   `json:"updated_at,omitempty"`
}

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("invalid amount (must be > 0)")
	ErrInvalidServiceType  = errors.New("invalid service type")
	ErrInvalidUser         = errors.New("user id is required")
)

// Validate checks the arguments of a Debit or Credit call. Store
// implementations call it before touching the database.
func Validate(userID string, st ServiceType, amount int64) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUser
	}
	if !st.Valid() {
		return ErrInvalidServiceType
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
