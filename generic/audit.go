/*
audit.go - Append-only audit trail

PURPOSE:
  Records who did what when. Registration payments, registration reviews and
  every fund-request transition append one entry. Like the ledger of
  payments, the audit log has no update or delete.

SEE ALSO:
  - store/sqlite/sqlite.go: audit_log table
  - store/memory/memory.go: in-memory implementation
*/
package generic

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuditEntry records who did what when.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	Actor     Actor
	Action    AuditAction
	Subject   string         // registration or fund request ID
	Payload   map[string]any // action-specific data
}

type AuditAction string

const (
	AuditRegistrationSubmitted AuditAction = "registration_submitted"
	AuditPaymentApplied        AuditAction = "payment_applied"
	AuditRegistrationReviewed  AuditAction = "registration_reviewed"
	AuditRequestSubmitted      AuditAction = "fund_request_submitted"
	AuditRequestApproved       AuditAction = "fund_request_approved"
	AuditRequestRejected       AuditAction = "fund_request_rejected"
	AuditRequestPaid           AuditAction = "fund_request_paid"
	AuditRequestReceived       AuditAction = "fund_request_received"
	AuditFailureCleared        AuditAction = "delivery_failure_cleared"
)

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	Subject string
	ActorID string
	Actions []AuditAction
	From    *time.Time
	To      *time.Time
}

// Matches reports whether e passes the filter. Stores without a query
// language use it directly.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if f.ActorID != "" && e.Actor.ID != f.ActorID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}

// NewAuditEntry stamps an entry with a fresh ID and the given time.
func NewAuditEntry(at time.Time, actor Actor, action AuditAction, subject string, payload map[string]any) AuditEntry {
	return AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: at,
		Actor:     actor,
		Action:    action,
		Subject:   subject,
		Payload:   payload,
	}
}

// NopAuditLog discards entries.
type NopAuditLog struct{}

func (NopAuditLog) AppendAudit(context.Context, AuditEntry) error { return nil }
func (NopAuditLog) QueryAudit(context.Context, AuditFilter) ([]AuditEntry, error) {
	return nil, nil
}
