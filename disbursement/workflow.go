package disbursement

import (
	"strings"
	"time"

	"github.com/rayalaseema/regengine/generic"
)

// =============================================================================
// POLICY
// =============================================================================

// Policy lists the roles allowed to perform each transition. An empty list
// allows every role.
type Policy struct {
	SubmitRoles  []generic.Role
	ApproveRoles []generic.Role
	PayRoles     []generic.Role
	ConfirmRoles []generic.Role
}

// DefaultPolicy: requesters submit, the treasurer approves, the treasurer or
// a proxy pays, and anyone (normally the worker) confirms receipt. Admins may
// do everything.
func DefaultPolicy() Policy {
	return Policy{
		SubmitRoles: []generic.Role{
			generic.RoleCoordinator, generic.RoleLACConvener, generic.RoleTreasurerProxy,
			generic.RoleTreasurer, generic.RoleAdmin,
		},
		ApproveRoles: []generic.Role{generic.RoleTreasurer, generic.RoleAdmin},
		PayRoles:     []generic.Role{generic.RoleTreasurer, generic.RoleTreasurerProxy, generic.RoleAdmin},
	}
}

// =============================================================================
// WORKFLOW - pure transitions
// =============================================================================

// Workflow applies transitions to fund requests. Every method returns a new
// value and leaves its input untouched.
//
// Guards run in a fixed order: current state, actor role, then fields. A
// request in the wrong state (terminal ones included) therefore reports
// InvalidTransition whoever asks and whatever the input.
type Workflow struct {
	Policy Policy
}

func NewWorkflow(p Policy) Workflow { return Workflow{Policy: p} }

// SubmitInput is the content of a new fund request.
type SubmitInput struct {
	Type          Type
	Region        string
	Title         string
	Description   string
	Amount        generic.Money
	Evidence      []string
	PaymentMethod PaymentMethod
	Beneficiary   string
}

// Submit creates a pending request.
func (w Workflow) Submit(id string, requester generic.Actor, in SubmitInput, now time.Time) (FundRequest, error) {
	const op = "submit"
	if strings.TrimSpace(requester.ID) == "" {
		return FundRequest{}, generic.MissingField(op, "requested_by")
	}
	if !requester.HasRole(w.Policy.SubmitRoles) {
		return FundRequest{}, generic.Forbidden(op, requester)
	}

	switch {
	case !in.Amount.IsPositive():
		return FundRequest{}, generic.InvalidAmount(op, "amount", "requested amount must be greater than zero")
	case strings.TrimSpace(in.Title) == "":
		return FundRequest{}, generic.MissingField(op, "title")
	case strings.TrimSpace(in.Description) == "":
		return FundRequest{}, generic.MissingField(op, "description")
	case strings.TrimSpace(in.Region) == "":
		return FundRequest{}, generic.MissingField(op, "region")
	}

	typ := in.Type
	if typ == "" {
		typ = TypePaymentRequest
	}
	if !typ.Valid() {
		return FundRequest{}, generic.InvalidValue(op, "type", "type must be payment_request or worker_disbursement")
	}
	method := in.PaymentMethod
	if method == "" {
		method = PaymentMethodUnspecified
	}
	if _, ok := ParsePaymentMethod(string(method)); !ok {
		return FundRequest{}, invalidPaymentMethod(op)
	}

	return FundRequest{
		ID:                 id,
		Type:               typ,
		RequestedBy:        requester.ID,
		RequesterRole:      requester.Role,
		Region:             strings.TrimSpace(in.Region),
		Beneficiary:        strings.TrimSpace(in.Beneficiary),
		Title:              strings.TrimSpace(in.Title),
		Description:        strings.TrimSpace(in.Description),
		RequestedAmount:    in.Amount,
		SupportingEvidence: nonEmpty(in.Evidence),
		PaymentMethod:      method,
		Status:             StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
		Version:            1,
	}, nil
}

// Approve moves pending -> approved.
func (w Workflow) Approve(req FundRequest, approver generic.Actor, now time.Time) (FundRequest, error) {
	const op = "approve"
	if req.Status != StatusPending {
		return FundRequest{}, generic.InvalidTransition(op, req.Status, StatusApproved)
	}
	if !approver.HasRole(w.Policy.ApproveRoles) {
		return FundRequest{}, generic.Forbidden(op, approver)
	}

	out := req.Clone()
	out.Status = StatusApproved
	out.ApprovedBy = approver.ID
	out.ApprovedAt = &now
	out.UpdatedAt = now
	return out, nil
}

// Reject moves pending -> rejected. reason is mandatory.
func (w Workflow) Reject(req FundRequest, approver generic.Actor, reason string, now time.Time) (FundRequest, error) {
	const op = "reject"
	if req.Status != StatusPending {
		return FundRequest{}, generic.InvalidTransition(op, req.Status, StatusRejected)
	}
	if !approver.HasRole(w.Policy.ApproveRoles) {
		return FundRequest{}, generic.Forbidden(op, approver)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return FundRequest{}, generic.MissingField(op, "reason")
	}

	out := req.Clone()
	out.Status = StatusRejected
	out.RejectedBy = approver.ID
	out.RejectedAt = &now
	out.RejectionReason = reason
	out.UpdatedAt = now
	return out, nil
}

// PaymentInput describes a payout.
type PaymentInput struct {
	Amount   generic.Money
	Note     string
	Evidence []string
	Method   PaymentMethod // overrides the requested method when set
}

// RecordPayment moves approved -> paid. PaidAmount is set exactly once, here.
func (w Workflow) RecordPayment(req FundRequest, payer generic.Actor, in PaymentInput, now time.Time) (FundRequest, error) {
	const op = "record payment"
	if req.Status != StatusApproved {
		return FundRequest{}, generic.InvalidTransition(op, req.Status, StatusPaid)
	}
	if !payer.HasRole(w.Policy.PayRoles) {
		return FundRequest{}, generic.Forbidden(op, payer)
	}
	if !in.Amount.IsPositive() {
		return FundRequest{}, generic.InvalidAmount(op, "paid_amount", "paid amount must be greater than zero")
	}
	evidence := nonEmpty(in.Evidence)
	if len(evidence) == 0 {
		return FundRequest{}, generic.MissingEvidence(op)
	}
	method := req.PaymentMethod
	if in.Method != "" {
		m, ok := ParsePaymentMethod(string(in.Method))
		if !ok {
			return FundRequest{}, invalidPaymentMethod(op)
		}
		method = m
	}

	out := req.Clone()
	amount := in.Amount
	out.Status = StatusPaid
	out.PaidBy = payer.ID
	out.PaidAt = &now
	out.PaidAmount = &amount
	out.PaymentNote = strings.TrimSpace(in.Note)
	out.PaymentEvidence = evidence
	out.PaymentMethod = method
	out.UpdatedAt = now
	return out, nil
}

// ConfirmReceipt moves paid -> received for worker disbursements. When a
// beneficiary is named only they (or an admin) may confirm.
func (w Workflow) ConfirmReceipt(req FundRequest, actor generic.Actor, now time.Time) (FundRequest, error) {
	const op = "confirm receipt"
	if req.Type != TypeWorkerDisbursement || req.Status != StatusPaid {
		return FundRequest{}, generic.InvalidTransition(op, req.Status, StatusReceived)
	}
	if !actor.HasRole(w.Policy.ConfirmRoles) {
		return FundRequest{}, generic.Forbidden(op, actor)
	}
	if req.Beneficiary != "" && actor.ID != req.Beneficiary && actor.Role != generic.RoleAdmin {
		return FundRequest{}, generic.Forbidden(op, actor)
	}

	out := req.Clone()
	out.Status = StatusReceived
	out.ReceivedBy = actor.ID
	out.ReceivedAt = &now
	out.UpdatedAt = now
	return out, nil
}

func invalidPaymentMethod(op string) *generic.Error {
	return generic.InvalidValue(op, "payment_method", "payment_method must be one of cash, upi, bank_transfer, cheque, unspecified")
}

func nonEmpty(refs []string) []string {
	var out []string
	for _, r := range refs {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
