/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model from the external API contract: money is rendered as a
  decimal string, times as RFC3339, and derived fields (balance, total due,
  minimum satisfied) are computed by the services, never accepted from
  clients.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Registrations:
    RegistrationDTO, PaymentDTO, SubmitRegistrationRequest,
    SubmitRegistrationResponse, ApplyPaymentRequest, ReviewRequest

  Reports:
    ReportDTO, RollUpDTO, QuoteDTO

  Fund requests:
    FundRequestDTO, SubmitFundRequestRequest, RejectFundRequestRequest,
    RecordPaymentRequest

  Notifications:
    FailedDeliveryDTO, ResendRequest, ResendReportDTO

  Audit / scenarios:
    AuditEntryDTO, ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request structs carry go-playground/validator tags for shape checks
  (required, email, oneof). Business rules (minimum payment, workflow
  state, evidence) stay in the domain packages and come back as
  generic.Error kinds.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rayalaseema/regengine/disbursement"
	"github.com/rayalaseema/regengine/generic"
	"github.com/rayalaseema/regengine/notification"
	"github.com/rayalaseema/regengine/pricing"
	"github.com/rayalaseema/regengine/registration"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// REGISTRATIONS
// =============================================================================

// FamilySize accepts the family-size answer as a JSON number or as free
// text. Anything unparseable counts as 0.
type FamilySize int

func (f *FamilySize) UnmarshalJSON(data []byte) error {
	raw := string(bytes.Trim(bytes.TrimSpace(data), `"`))
	*f = FamilySize(registration.ParseFamilyMembers(raw))
	return nil
}

// SubmitRegistrationRequest is the registration form.
type SubmitRegistrationRequest struct {
	UniqueID           string          `json:"unique_id" validate:"omitempty,max=32"`
	Name               string          `json:"name" validate:"required,max=200"`
	Email              string          `json:"email" validate:"omitempty,email"`
	Phone              string          `json:"phone" validate:"omitempty,max=32"`
	Region             string          `json:"region" validate:"required"`
	District           string          `json:"district"`
	Place              string          `json:"place"`
	GroupType          string          `json:"group_type" validate:"required"`
	Gender             string          `json:"gender"`
	MaritalStatus      string          `json:"marital_status"`
	SpouseAttending    string          `json:"spouse_attending"`
	TotalFamilyMembers FamilySize      `json:"total_family_members"`
	TransactionID      string          `json:"transaction_id" validate:"max=64"`
	AmountPaid         decimal.Decimal `json:"amount_paid"`
}

func (req SubmitRegistrationRequest) toRegistration() registration.Registration {
	return registration.Registration{
		UniqueID:           req.UniqueID,
		Name:               req.Name,
		Email:              req.Email,
		Phone:              req.Phone,
		Region:             req.Region,
		District:           req.District,
		Place:              req.Place,
		GroupType:          req.GroupType,
		Gender:             req.Gender,
		MaritalStatus:      req.MaritalStatus,
		SpouseAttending:    req.SpouseAttending,
		TotalFamilyMembers: int(req.TotalFamilyMembers),
		TransactionID:      req.TransactionID,
		AmountPaid:         generic.NewMoneyFromDecimal(req.AmountPaid),
	}
}

// ApplyPaymentRequest records a top-up payment. Date is YYYY-MM-DD and
// defaults to today.
type ApplyPaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id" validate:"max=64"`
	Date          string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// ReviewRequest flags a registration.
type ReviewRequest struct {
	Status string `json:"status" validate:"required,oneof=pending approved rejected"`
	Note   string `json:"note"`
}

type PaymentDTO struct {
	Amount        string `json:"amount"`
	TransactionID string `json:"transaction_id,omitempty"`
	Date          string `json:"date"`
}

// RegistrationDTO represents a registration with its derived money fields.
type RegistrationDTO struct {
	ID                 string       `json:"id"`
	UniqueID           string       `json:"unique_id"`
	Name               string       `json:"name"`
	Email              string       `json:"email,omitempty"`
	Phone              string       `json:"phone,omitempty"`
	Region             string       `json:"region"`
	District           string       `json:"district,omitempty"`
	Place              string       `json:"place,omitempty"`
	GroupType          string       `json:"group_type"`
	Category           string       `json:"category"`
	Gender             string       `json:"gender,omitempty"`
	MaritalStatus      string       `json:"marital_status,omitempty"`
	SpouseAttending    string       `json:"spouse_attending,omitempty"`
	TotalFamilyMembers int          `json:"total_family_members"`
	TransactionID      string       `json:"transaction_id,omitempty"`
	Transactions       []PaymentDTO `json:"transactions"`
	AmountPaid         string       `json:"amount_paid"`
	TotalAmountDue     string       `json:"total_amount_due"`
	Balance            string       `json:"balance"`
	MinimumSatisfied   bool         `json:"minimum_satisfied"`
	PricingOutcome     string       `json:"pricing_outcome"`
	Status             string       `json:"status"`
	ReviewedBy         string       `json:"reviewed_by,omitempty"`
	ReviewedAt         string       `json:"reviewed_at,omitempty"`
	ReviewNote         string       `json:"review_note,omitempty"`
	CreatedAt          string       `json:"created_at"`
	UpdatedAt          string       `json:"updated_at"`
	Version            int64        `json:"version"`
}

type SubmitRegistrationResponse struct {
	Registration RegistrationDTO `json:"registration"`
	Duplicate    bool            `json:"duplicate"`
}

func toRegistrationDTO(v registration.View) RegistrationDTO {
	txs := make([]PaymentDTO, len(v.Transactions))
	for i, p := range v.Transactions {
		txs[i] = PaymentDTO{
			Amount:        p.Amount.String(),
			TransactionID: p.TransactionID,
			Date:          p.Date.Format(time.RFC3339),
		}
	}
	return RegistrationDTO{
		ID:                 v.ID,
		UniqueID:           v.UniqueID,
		Name:               v.Name,
		Email:              v.Email,
		Phone:              v.Phone,
		Region:             v.Region,
		District:           v.District,
		Place:              v.Place,
		GroupType:          v.GroupType,
		Category:           string(v.Category()),
		Gender:             v.Gender,
		MaritalStatus:      v.MaritalStatus,
		SpouseAttending:    v.SpouseAttending,
		TotalFamilyMembers: v.TotalFamilyMembers,
		TransactionID:      v.TransactionID,
		Transactions:       txs,
		AmountPaid:         v.Balance.Paid.String(),
		TotalAmountDue:     v.Balance.TotalDue.String(),
		Balance:            v.Balance.Balance.String(),
		MinimumSatisfied:   v.MinimumSatisfied,
		PricingOutcome:     string(v.Balance.Quote.Outcome),
		Status:             string(v.Status),
		ReviewedBy:         v.ReviewedBy,
		ReviewedAt:         formatTimePtr(v.ReviewedAt),
		ReviewNote:         v.ReviewNote,
		CreatedAt:          v.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          v.UpdatedAt.Format(time.RFC3339),
		Version:            v.Version,
	}
}

// =============================================================================
// REPORTS
// =============================================================================

// RollUpDTO is the JSON form of one aggregation bucket.
type RollUpDTO struct {
	Count                int                       `json:"count"`
	TotalPeople          int                       `json:"total_people"`
	GenderCounts         map[string]int            `json:"gender_counts"`
	CategoryCounts       map[string]int            `json:"category_counts"`
	CategoryGenderCounts map[string]map[string]int `json:"category_gender_counts"`
	TotalDue             string                    `json:"total_due"`
	TotalPaid            string                    `json:"total_paid"`
	TotalBalance         string                    `json:"total_balance"`
	Confirmed            int                       `json:"confirmed"`
	Unpriced             int                       `json:"unpriced"`
}

type ReportDTO struct {
	GroupBy string               `json:"group_by"`
	Keys    []string             `json:"keys"`
	Groups  map[string]RollUpDTO `json:"groups"`
	Totals  RollUpDTO            `json:"totals"`
}

func toRollUpDTO(ru registration.RollUp) RollUpDTO {
	out := RollUpDTO{
		Count:                ru.Count,
		TotalPeople:          ru.TotalPeople,
		GenderCounts:         make(map[string]int, len(ru.GenderCounts)),
		CategoryCounts:       make(map[string]int, len(ru.CategoryCounts)),
		CategoryGenderCounts: make(map[string]map[string]int, len(ru.CategoryGenderCounts)),
		TotalDue:             ru.TotalDue.String(),
		TotalPaid:            ru.TotalPaid.String(),
		TotalBalance:         ru.TotalBalance.String(),
		Confirmed:            ru.Confirmed,
		Unpriced:             ru.Unpriced,
	}
	for g, n := range ru.GenderCounts {
		out.GenderCounts[string(g)] = n
	}
	for c, n := range ru.CategoryCounts {
		out.CategoryCounts[string(c)] = n
	}
	for c, byGender := range ru.CategoryGenderCounts {
		inner := make(map[string]int, len(byGender))
		for g, n := range byGender {
			inner[string(g)] = n
		}
		out.CategoryGenderCounts[string(c)] = inner
	}
	return out
}

func toReportDTO(r registration.Report) ReportDTO {
	out := ReportDTO{
		GroupBy: string(r.GroupBy),
		Keys:    make([]string, 0, len(r.Groups)),
		Groups:  make(map[string]RollUpDTO, len(r.Groups)),
		Totals:  toRollUpDTO(r.Totals),
	}
	for k, ru := range r.Groups {
		out.Keys = append(out.Keys, k)
		out.Groups[k] = toRollUpDTO(ru)
	}
	sort.Strings(out.Keys)
	return out
}

// QuoteDTO is a price-list lookup.
type QuoteDTO struct {
	Amount        string `json:"amount"`
	Region        string `json:"region"`
	Category      string `json:"category"`
	Tier          string `json:"tier,omitempty"`
	MaritalStatus string `json:"marital_status,omitempty"`
	Outcome       string `json:"outcome"`
	Priced        bool   `json:"priced"`
}

func toQuoteDTO(q pricing.Quote) QuoteDTO {
	return QuoteDTO{
		Amount:        q.Amount.String(),
		Region:        string(q.Region),
		Category:      string(q.Category),
		Tier:          string(q.Tier),
		MaritalStatus: q.MaritalStatus,
		Outcome:       string(q.Outcome),
		Priced:        q.Priced(),
	}
}

// =============================================================================
// FUND REQUESTS
// =============================================================================

// SubmitFundRequestRequest asks for money. Type defaults to payment_request.
type SubmitFundRequestRequest struct {
	Type          string          `json:"type" validate:"omitempty,oneof=payment_request worker_disbursement"`
	Region        string          `json:"region"`
	Title         string          `json:"title" validate:"max=200"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Evidence      []string        `json:"evidence"`
	PaymentMethod string          `json:"payment_method" validate:"payment_method"`
	Beneficiary   string          `json:"beneficiary"`
}

func (req SubmitFundRequestRequest) toInput() disbursement.SubmitInput {
	method, _ := disbursement.ParsePaymentMethod(req.PaymentMethod)
	return disbursement.SubmitInput{
		Type:          disbursement.Type(req.Type),
		Region:        req.Region,
		Title:         req.Title,
		Description:   req.Description,
		Amount:        generic.NewMoneyFromDecimal(req.Amount),
		Evidence:      req.Evidence,
		PaymentMethod: method,
		Beneficiary:   req.Beneficiary,
	}
}

type RejectFundRequestRequest struct {
	Reason string `json:"reason"`
}

// RecordPaymentRequest records a payout against an approved request.
type RecordPaymentRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Note     string          `json:"note"`
	Evidence []string        `json:"evidence"`
	Method   string          `json:"method" validate:"payment_method"`
}

func (req RecordPaymentRequest) toInput() disbursement.PaymentInput {
	in := disbursement.PaymentInput{
		Amount:   generic.NewMoneyFromDecimal(req.Amount),
		Note:     req.Note,
		Evidence: req.Evidence,
	}
	if req.Method != "" {
		in.Method, _ = disbursement.ParsePaymentMethod(req.Method)
	}
	return in
}

// FundRequestDTO represents a fund request with its workflow audit fields.
type FundRequestDTO struct {
	ID                 string   `json:"id"`
	Type               string   `json:"type"`
	RequestedBy        string   `json:"requested_by"`
	RequesterRole      string   `json:"requester_role"`
	Region             string   `json:"region"`
	Beneficiary        string   `json:"beneficiary,omitempty"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	RequestedAmount    string   `json:"requested_amount"`
	SupportingEvidence []string `json:"supporting_evidence"`
	PaymentMethod      string   `json:"payment_method"`
	Status             string   `json:"status"`
	Terminal           bool     `json:"terminal"`
	ApprovedBy         string   `json:"approved_by,omitempty"`
	ApprovedAt         string   `json:"approved_at,omitempty"`
	RejectedBy         string   `json:"rejected_by,omitempty"`
	RejectedAt         string   `json:"rejected_at,omitempty"`
	RejectionReason    string   `json:"rejection_reason,omitempty"`
	PaidBy             string   `json:"paid_by,omitempty"`
	PaidAt             string   `json:"paid_at,omitempty"`
	PaidAmount         string   `json:"paid_amount,omitempty"`
	PaymentNote        string   `json:"payment_note,omitempty"`
	PaymentEvidence    []string `json:"payment_evidence,omitempty"`
	ReceivedBy         string   `json:"received_by,omitempty"`
	ReceivedAt         string   `json:"received_at,omitempty"`
	CreatedAt          string   `json:"created_at"`
	UpdatedAt          string   `json:"updated_at"`
	Version            int64    `json:"version"`
}

func toFundRequestDTO(r disbursement.FundRequest) FundRequestDTO {
	dto := FundRequestDTO{
		ID:                 r.ID,
		Type:               string(r.Type),
		RequestedBy:        r.RequestedBy,
		RequesterRole:      string(r.RequesterRole),
		Region:             r.Region,
		Beneficiary:        r.Beneficiary,
		Title:              r.Title,
		Description:        r.Description,
		RequestedAmount:    r.RequestedAmount.String(),
		SupportingEvidence: r.SupportingEvidence,
		PaymentMethod:      string(r.PaymentMethod),
		Status:             string(r.Status),
		Terminal:           r.IsTerminal(),
		ApprovedBy:         r.ApprovedBy,
		ApprovedAt:         formatTimePtr(r.ApprovedAt),
		RejectedBy:         r.RejectedBy,
		RejectedAt:         formatTimePtr(r.RejectedAt),
		RejectionReason:    r.RejectionReason,
		PaidBy:             r.PaidBy,
		PaidAt:             formatTimePtr(r.PaidAt),
		PaymentNote:        r.PaymentNote,
		PaymentEvidence:    r.PaymentEvidence,
		ReceivedBy:         r.ReceivedBy,
		ReceivedAt:         formatTimePtr(r.ReceivedAt),
		CreatedAt:          r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          r.UpdatedAt.Format(time.RFC3339),
		Version:            r.Version,
	}
	if dto.SupportingEvidence == nil {
		dto.SupportingEvidence = []string{}
	}
	if r.PaidAmount != nil {
		dto.PaidAmount = r.PaidAmount.String()
	}
	return dto
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type FailedDeliveryDTO struct {
	ID             string            `json:"id"`
	RecipientEmail string            `json:"recipient_email"`
	Region         string            `json:"region"`
	Template       string            `json:"template"`
	Subject        string            `json:"subject"`
	Snapshot       map[string]string `json:"snapshot"`
	Error          string            `json:"error"`
	Attempts       int               `json:"attempts"`
	CreatedAt      string            `json:"created_at"`
	LastAttemptAt  string            `json:"last_attempt_at"`
}

func toFailedDeliveryDTO(f notification.FailedDelivery) FailedDeliveryDTO {
	return FailedDeliveryDTO{
		ID:             f.ID,
		RecipientEmail: f.RecipientEmail,
		Region:         f.Region,
		Template:       string(f.Template),
		Subject:        f.Message().Subject(),
		Snapshot:       f.Snapshot,
		Error:          f.Error,
		Attempts:       f.Attempts,
		CreatedAt:      f.CreatedAt.Format(time.RFC3339),
		LastAttemptAt:  f.LastAttemptAt.Format(time.RFC3339),
	}
}

// ResendRequest picks the failures to retry: explicit IDs, or every
// failure of a region.
type ResendRequest struct {
	IDs    []string `json:"ids" validate:"required_without=Region,dive,required"`
	Region string   `json:"region" validate:"required_without=IDs"`
}

type ResendOutcomeDTO struct {
	ID             string `json:"id"`
	RecipientEmail string `json:"recipient_email,omitempty"`
	Error          string `json:"error,omitempty"`
}

type ResendReportDTO struct {
	Sent   []ResendOutcomeDTO `json:"sent"`
	Failed []ResendOutcomeDTO `json:"failed"`
}

func toResendReportDTO(r notification.ResendReport) ResendReportDTO {
	conv := func(in []notification.ResendOutcome) []ResendOutcomeDTO {
		out := make([]ResendOutcomeDTO, len(in))
		for i, o := range in {
			out[i] = ResendOutcomeDTO{ID: o.ID, RecipientEmail: o.RecipientEmail, Error: o.Error}
		}
		return out
	}
	return ResendReportDTO{Sent: conv(r.Sent), Failed: conv(r.Failed)}
}

// =============================================================================
// AUDIT / SCENARIOS
// =============================================================================

type AuditEntryDTO struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	ActorID   string          `json:"actor_id"`
	ActorRole string          `json:"actor_role,omitempty"`
	Action    string          `json:"action"`
	Subject   string          `json:"subject"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func toAuditEntryDTO(e generic.AuditEntry) AuditEntryDTO {
	dto := AuditEntryDTO{
		ID:        e.ID,
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		ActorID:   e.Actor.ID,
		ActorRole: string(e.Actor.Role),
		Action:    string(e.Action),
		Subject:   e.Subject,
	}
	if len(e.Payload) > 0 {
		if raw, err := json.Marshal(e.Payload); err == nil {
			dto.Payload = raw
		}
	}
	return dto
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
