/*
handlers.go - HTTP API handlers for the registration and disbursement engine

PURPOSE:
  Exposes the registration ledger, fund-request workflow and notification
  ledger via REST API. Handles HTTP request/response, JSON serialization and
  validation, and delegates every rule to the domain services.

ENDPOINTS:
  Registrations:
    GET    /api/registrations                  List (deduplicated, oldest first)
    POST   /api/registrations                  Submit a registration
    GET    /api/registrations/{id}             Registration with balance
    POST   /api/registrations/{id}/payments    Record a top-up payment
    POST   /api/registrations/{id}/review      Approve / reject / reset to pending

  Reports:
    GET    /api/reports/aggregate?group_by=    Roll-ups by region/district/place/category/gender
    GET    /api/pricing/quote                  Price-list lookup

  Fund requests:
    GET    /api/fund-requests                  List (newest first)
    POST   /api/fund-requests                  Submit
    GET    /api/fund-requests/{id}             Get
    POST   /api/fund-requests/{id}/approve     pending -> approved
    POST   /api/fund-requests/{id}/reject      pending -> rejected
    POST   /api/fund-requests/{id}/pay         approved -> paid
    POST   /api/fund-requests/{id}/confirm     paid -> received

  Notifications:
    GET    /api/notifications/failures         Failed deliveries
    DELETE /api/notifications/failures/{id}    Clear without resending
    POST   /api/notifications/resend           Resend a chosen subset

  Audit:
    GET    /api/audit                          Audit trail

ACTORS:
  The acting user is read from the X-Actor-ID and X-Actor-Role headers and
  passed explicitly into every workflow call. Nothing here authenticates
  them; an unknown role is rejected, a missing one means "registrant".

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed body, failed validation, unknown role or filter value
  - 403: Actor's role may not perform the transition
  - 404: Registration / fund request / failure not found
  - 409: Invalid transition, duplicate transaction, concurrent modification
  - 422: Domain rule rejected the input (amount, missing field, evidence)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/rayalaseema/regengine/disbursement"
	"github.com/rayalaseema/regengine/generic"
	"github.com/rayalaseema/regengine/metrics"
	"github.com/rayalaseema/regengine/notification"
	"github.com/rayalaseema/regengine/pricing"
	"github.com/rayalaseema/regengine/registration"
	"github.com/rayalaseema/regengine/store/sqlite"
)

const (
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"

	anonymousActorID = "anonymous"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Services bundles the domain services the handlers delegate to.
type Services struct {
	Registrations *registration.Service
	Disbursements *disbursement.Service
	Notifications *notification.Ledger
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         *sqlite.Store
	Registrations *registration.Service
	Disbursements *disbursement.Service
	Notifications *notification.Ledger
	Metrics       *metrics.Metrics
	Logger        *zap.Logger

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler over store and the domain services.
func NewHandler(store *sqlite.Store, svc Services) *Handler {
	if svc.Logger == nil {
		svc.Logger = zap.NewNop()
	}
	return &Handler{
		Store:         store,
		Registrations: svc.Registrations,
		Disbursements: svc.Disbursements,
		Notifications: svc.Notifications,
		Metrics:       svc.Metrics,
		Logger:        svc.Logger,
		validate:      newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("payment_method", func(fl validator.FieldLevel) bool {
		_, ok := disbursement.ParsePaymentMethod(fl.Field().String())
		return ok
	})
	return v
}

// =============================================================================
// REGISTRATION HANDLERS
// =============================================================================

// ListRegistrations returns deduplicated registrations.
// GET /api/registrations?region=&district=&status=
func (h *Handler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	filter, err := registrationFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	views, err := h.Registrations.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "Failed to list registrations", err)
		return
	}

	dtos := make([]RegistrationDTO, len(views))
	for i, v := range views {
		dtos[i] = toRegistrationDTO(v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"registrations": dtos})
}

// SubmitRegistration creates a registration, or returns the existing one
// when the transaction ID is already known.
// POST /api/registrations
func (h *Handler) SubmitRegistration(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req SubmitRegistrationRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Registrations.Submit(r.Context(), actor, req.toRegistration())
	if err != nil {
		h.writeDomainError(w, "Failed to submit registration", err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, SubmitRegistrationResponse{
		Registration: toRegistrationDTO(res.View),
		Duplicate:    res.Duplicate,
	})
}

// GetRegistration returns a single registration with its balance.
// GET /api/registrations/{id}
func (h *Handler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	v, err := h.Registrations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get registration", err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationDTO(v))
}

// ApplyPayment records a top-up payment.
// POST /api/registrations/{id}/payments
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req ApplyPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	var date time.Time
	if req.Date != "" {
		date, _ = time.Parse("2006-01-02", req.Date) // format checked by the validator
	}

	v, err := h.Registrations.ApplyPayment(r.Context(), actor, chi.URLParam(r, "id"),
		generic.NewMoneyFromDecimal(req.Amount), req.TransactionID, date)
	if err != nil {
		h.writeDomainError(w, "Failed to apply payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationDTO(v))
}

// ReviewRegistration flags a registration.
// POST /api/registrations/{id}/review
func (h *Handler) ReviewRegistration(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req ReviewRequest
	if !h.decode(w, r, &req) {
		return
	}

	v, err := h.Registrations.Review(r.Context(), actor, chi.URLParam(r, "id"),
		registration.Status(req.Status), req.Note)
	if err != nil {
		h.writeDomainError(w, "Failed to review registration", err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationDTO(v))
}

func registrationFilter(r *http.Request) (registration.Filter, error) {
	q := r.URL.Query()
	f := registration.Filter{District: q.Get("district")}
	if raw := q.Get("region"); raw != "" {
		f.Region = pricing.NormalizeRegion(raw)
		if f.Region == pricing.RegionUnknown {
			return f, fmt.Errorf("unknown region %q", raw)
		}
	}
	if raw := q.Get("status"); raw != "" {
		f.Status = registration.Status(strings.ToLower(raw))
		if !f.Status.Valid() {
			return f, fmt.Errorf("unknown status %q", raw)
		}
	}
	return f, nil
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// AggregateReport groups registrations for statistics and verification.
// GET /api/reports/aggregate?group_by=district&region=east
func (h *Handler) AggregateReport(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("group_by")
	if raw == "" {
		raw = string(registration.GroupByRegion)
	}
	groupBy, ok := registration.ParseGroupBy(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid group_by (use region, district, place, category or gender)", nil)
		return
	}
	filter, err := registrationFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	report, err := h.Registrations.Aggregate(r.Context(), filter, groupBy)
	if err != nil {
		h.writeDomainError(w, "Failed to aggregate registrations", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// QuotePrice evaluates the price list without creating anything.
// GET /api/pricing/quote?region=&group_type=&marital_status=&spouse_attending=
func (h *Handler) QuotePrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	quote := h.Registrations.Ledger().Pricer.Quote(
		q.Get("region"), q.Get("group_type"), q.Get("marital_status"), q.Get("spouse_attending"))
	writeJSON(w, http.StatusOK, toQuoteDTO(quote))
}

// =============================================================================
// FUND REQUEST HANDLERS
// =============================================================================

// ListFundRequests returns fund requests, newest first.
// GET /api/fund-requests?region=&status=&type=&requested_by=
func (h *Handler) ListFundRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := disbursement.Filter{
		Region:      q.Get("region"),
		Status:      disbursement.Status(strings.ToLower(q.Get("status"))),
		Type:        disbursement.Type(strings.ToLower(q.Get("type"))),
		RequestedBy: q.Get("requested_by"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid filter", fmt.Errorf("unknown status %q", filter.Status))
		return
	}
	if filter.Type != "" && !filter.Type.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid filter", fmt.Errorf("unknown type %q", filter.Type))
		return
	}

	reqs, err := h.Disbursements.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "Failed to list fund requests", err)
		return
	}
	dtos := make([]FundRequestDTO, len(reqs))
	for i, fr := range reqs {
		dtos[i] = toFundRequestDTO(fr)
	}
	writeJSON(w, http.StatusOK, map[string]any{"fund_requests": dtos})
}

// SubmitFundRequest creates a pending fund request.
// POST /api/fund-requests
func (h *Handler) SubmitFundRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req SubmitFundRequestRequest
	if !h.decode(w, r, &req) {
		return
	}

	fr, err := h.Disbursements.Submit(r.Context(), actor, req.toInput())
	if err != nil {
		h.writeDomainError(w, "Failed to submit fund request", err)
		return
	}
	writeJSON(w, http.StatusCreated, toFundRequestDTO(fr))
}

// GetFundRequest returns a single fund request.
// GET /api/fund-requests/{id}
func (h *Handler) GetFundRequest(w http.ResponseWriter, r *http.Request) {
	fr, err := h.Disbursements.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get fund request", err)
		return
	}
	writeJSON(w, http.StatusOK, toFundRequestDTO(fr))
}

// ApproveFundRequest moves a pending request to approved.
// POST /api/fund-requests/{id}/approve
func (h *Handler) ApproveFundRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	fr, err := h.Disbursements.Approve(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeDomainError(w, "Failed to approve fund request", err)
		return
	}
	writeJSON(w, http.StatusOK, toFundRequestDTO(fr))
}

// RejectFundRequest moves a pending request to rejected. A reason is
// required.
// POST /api/fund-requests/{id}/reject
func (h *Handler) RejectFundRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req RejectFundRequestRequest
	if !h.decode(w, r, &req) {
		return
	}
	fr, err := h.Disbursements.Reject(r.Context(), chi.URLParam(r, "id"), actor, req.Reason)
	if err != nil {
		h.writeDomainError(w, "Failed to reject fund request", err)
		return
	}
	writeJSON(w, http.StatusOK, toFundRequestDTO(fr))
}

// PayFundRequest records the payout of an approved request.
// POST /api/fund-requests/{id}/pay
func (h *Handler) PayFundRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req RecordPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	fr, err := h.Disbursements.RecordPayment(r.Context(), chi.URLParam(r, "id"), actor, req.toInput())
	if err != nil {
		h.writeDomainError(w, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toFundRequestDTO(fr))
}

// ConfirmFundRequest records that a worker received a disbursement.
// POST /api/fund-requests/{id}/confirm
func (h *Handler) ConfirmFundRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	fr, err := h.Disbursements.ConfirmReceipt(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeDomainError(w, "Failed to confirm receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, toFundRequestDTO(fr))
}

// =============================================================================
// NOTIFICATION HANDLERS
// =============================================================================

// ListFailures returns failed deliveries, newest first.
// GET /api/notifications/failures?region=
func (h *Handler) ListFailures(w http.ResponseWriter, r *http.Request) {
	failures, err := h.Notifications.ListFailures(r.Context(), notification.Filter{Region: r.URL.Query().Get("region")})
	if err != nil {
		h.writeDomainError(w, "Failed to list delivery failures", err)
		return
	}
	dtos := make([]FailedDeliveryDTO, len(failures))
	for i, f := range failures {
		dtos[i] = toFailedDeliveryDTO(f)
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": dtos})
}

// ClearFailure deletes a failure without resending it.
// DELETE /api/notifications/failures/{id}
func (h *Handler) ClearFailure(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.Notifications.ClearFailure(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, "Failed to clear delivery failure", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// ResendFailures retries exactly the chosen failures. Candidates are named
// by ID, or by region to pick every failure of that region.
// POST /api/notifications/resend
func (h *Handler) ResendFailures(w http.ResponseWriter, r *http.Request) {
	var req ResendRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	var candidates []notification.FailedDelivery
	if len(req.IDs) > 0 {
		candidates = make([]notification.FailedDelivery, len(req.IDs))
		for i, id := range req.IDs {
			candidates[i] = notification.FailedDelivery{ID: id}
		}
	} else {
		var err error
		candidates, err = h.Notifications.ListFailures(ctx, notification.Filter{Region: req.Region})
		if err != nil {
			h.writeDomainError(w, "Failed to list delivery failures", err)
			return
		}
	}

	report, err := h.Notifications.Resend(ctx, candidates)
	if err != nil {
		h.writeDomainError(w, "Failed to resend notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, toResendReportDTO(report))
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListAudit returns audit entries in the order they were written.
// GET /api/audit?subject=&actor_id=&action=
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := generic.AuditFilter{
		Subject: q.Get("subject"),
		ActorID: q.Get("actor_id"),
	}
	for _, a := range q["action"] {
		filter.Actions = append(filter.Actions, generic.AuditAction(a))
	}

	entries, err := h.Store.QueryAudit(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "Failed to query audit log", err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": dtos})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a generic.Error kind to its HTTP status.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusForKind(generic.KindOf(err))
	resp := ErrorResponse{Error: message, Details: err.Error()}

	var ge *generic.Error
	if errors.As(err, &ge) {
		resp.Kind = string(ge.Kind)
		resp.Field = ge.Field
	}
	if status == http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err))
	}
	writeJSON(w, status, resp)
}

func statusForKind(kind generic.Kind) int {
	switch kind {
	case generic.KindInvalidAmount, generic.KindMissingField, generic.KindInvalidValue, generic.KindMissingEvidence:
		return http.StatusUnprocessableEntity
	case generic.KindNotFound:
		return http.StatusNotFound
	case generic.KindInvalidTransition, generic.KindDuplicateTransaction, generic.KindConflict:
		return http.StatusConflict
	case generic.KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "Validation failed",
				Kind:    "validation",
				Field:   verrs[0].Field(),
				Details: validationDetails(verrs),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func validationDetails(verrs validator.ValidationErrors) string {
	parts := make([]string, len(verrs))
	for i, fe := range verrs {
		if fe.Param() != "" {
			parts[i] = fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param())
		} else {
			parts[i] = fmt.Sprintf("%s: %s", fe.Field(), fe.Tag())
		}
	}
	return strings.Join(parts, "; ")
}

// actor reads the acting user from the request headers.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (generic.Actor, bool) {
	a, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid actor", err)
		return generic.Actor{}, false
	}
	return a, true
}

func actorFromRequest(r *http.Request) (generic.Actor, error) {
	id := strings.TrimSpace(r.Header.Get(headerActorID))
	if id == "" {
		id = anonymousActorID
	}
	raw := strings.TrimSpace(r.Header.Get(headerActorRole))
	if raw == "" {
		return generic.Actor{ID: id, Role: generic.RoleRegistrant}, nil
	}
	role, ok := generic.ParseRole(raw)
	if !ok {
		return generic.Actor{}, fmt.Errorf("unknown role %q", raw)
	}
	return generic.Actor{ID: id, Role: role}, nil
}
