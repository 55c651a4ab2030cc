/*
Package disbursement drives fund requests through approval and payment.

PURPOSE:
  Coordinators, LAC conveners and treasurer proxies ask for money on behalf
  of the event (venue costs, worker payments). A request moves through a
  one-way pipeline with an audit field for every step:

    pending --approve--> approved --pay--> paid --confirm--> received
       \
        --reject--> rejected

  Two request types share the machine:
    payment_request      terminates at paid
    worker_disbursement  the worker confirms receipt: paid -> received

  rejected and received are terminal; paid is terminal for payment_request.
  Nothing ever returns to pending, and a transition from the wrong state
  fails loudly with KindInvalidTransition instead of doing nothing.

KEY CONCEPTS:
  FundRequest:   The request and its workflow audit fields
  PaymentMethod: Structured field (cash, upi, bank_transfer, cheque)
  Policy:        Which roles may perform each transition
  Workflow:      Pure transition functions (workflow.go)
  Service:       Load -> transition -> versioned update (service.go)

SEE ALSO:
  - generic/errors.go: error kinds
  - store/sqlite/sqlite.go: fund_requests table
*/
package disbursement

import (
	"context"
	"strings"
	"time"

	"github.com/rayalaseema/regengine/generic"
)

// =============================================================================
// STATUS / TYPE / PAYMENT METHOD
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusPaid     Status = "paid"
	StatusReceived Status = "received"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusPaid, StatusReceived:
		return true
	}
	return false
}

type Type string

const (
	TypePaymentRequest     Type = "payment_request"
	TypeWorkerDisbursement Type = "worker_disbursement"
)

func (t Type) Valid() bool {
	return t == TypePaymentRequest || t == TypeWorkerDisbursement
}

// PaymentMethod says how money was (or should be) paid out.
type PaymentMethod string

const (
	PaymentMethodUnspecified  PaymentMethod = "unspecified"
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodUPI          PaymentMethod = "upi"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCheque       PaymentMethod = "cheque"
)

// ParsePaymentMethod normalizes s. Blank is unspecified.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case "":
		return PaymentMethodUnspecified, true
	case PaymentMethodUnspecified, PaymentMethodCash, PaymentMethodUPI, PaymentMethodBankTransfer, PaymentMethodCheque:
		return m, true
	}
	return PaymentMethodUnspecified, false
}

// =============================================================================
// FUND REQUEST
// =============================================================================

type FundRequest struct {
	ID            string
	Type          Type
	RequestedBy   string
	RequesterRole generic.Role
	Region        string
	Beneficiary   string // worker who confirms receipt; optional

	Title              string
	Description        string
	RequestedAmount    generic.Money
	SupportingEvidence []string
	PaymentMethod      PaymentMethod

	Status Status

	ApprovedBy string
	ApprovedAt *time.Time

	RejectedBy      string
	RejectedAt      *time.Time
	RejectionReason string

	PaidBy          string
	PaidAt          *time.Time
	PaidAmount      *generic.Money
	PaymentNote     string
	PaymentEvidence []string

	ReceivedBy string
	ReceivedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// IsTerminal reports whether no further transition is possible.
func (r FundRequest) IsTerminal() bool {
	switch r.Status {
	case StatusRejected, StatusReceived:
		return true
	case StatusPaid:
		return r.Type != TypeWorkerDisbursement
	}
	return false
}

// Clone returns a copy that shares no slices or pointers with r.
func (r FundRequest) Clone() FundRequest {
	out := r
	out.SupportingEvidence = cloneStrings(r.SupportingEvidence)
	out.PaymentEvidence = cloneStrings(r.PaymentEvidence)
	out.ApprovedAt = cloneTime(r.ApprovedAt)
	out.RejectedAt = cloneTime(r.RejectedAt)
	out.PaidAt = cloneTime(r.PaidAt)
	out.ReceivedAt = cloneTime(r.ReceivedAt)
	if r.PaidAmount != nil {
		m := *r.PaidAmount
		out.PaidAmount = &m
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// =============================================================================
// STORE
// =============================================================================

// Filter selects fund requests. Zero fields match everything.
type Filter struct {
	Region      string
	Status      Status
	Type        Type
	RequestedBy string
}

func (f Filter) Matches(r FundRequest) bool {
	if f.Region != "" && !strings.EqualFold(r.Region, f.Region) {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.RequestedBy != "" && r.RequestedBy != f.RequestedBy {
		return false
	}
	return true
}

// Store persists fund requests.
//
// UpdateFundRequest is optimistic: it succeeds only when the stored Version
// equals r.Version, stores r with Version+1, and otherwise returns
// generic.ErrConcurrentModification.
type Store interface {
	CreateFundRequest(ctx context.Context, r FundRequest) error
	GetFundRequest(ctx context.Context, id string) (FundRequest, error)
	UpdateFundRequest(ctx context.Context, r FundRequest) error
	// ListFundRequests returns matches, newest first.
	ListFundRequests(ctx context.Context, filter Filter) ([]FundRequest, error)
}
