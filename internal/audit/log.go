// Package audit records admin and money-moving actions as JSON log lines.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"consultdesk.app/internal/auth"
	"consultdesk.app/internal/obs"
)

// Event names written by the HTTP layer.
const (
	CreditRequestSubmitted = "credit_request.submitted"
	CreditRequestApproved  = "credit_request.approved"
	CreditRequestRejected  = "credit_request.rejected"
	BookingCreated         = "booking.created"
	BookingCancelled       = "booking.cancelled"
	PurchaseCreated        = "purchase.created"
	PurchaseCancelled      = "purchase.cancelled"
	LinkIssued             = "access_link.issued"
	LinkDeactivated        = "access_link.deactivated"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and caller context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry["user_id"] = userID
		if roles := auth.RolesFromContext(ctx); len(roles) > 0 {
			entry["roles"] = roles
		}
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// Record logs event and reports a failure through the error log instead of
// returning it. Handlers use it after the state change has committed.
func Record(ctx context.Context, event string, fields map[string]any) {
	if err := LogEvent(ctx, event, fields); err != nil {
		obs.Error("audit log failed", err, map[string]any{"event": event})
	}
}
