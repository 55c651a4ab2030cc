package disbursement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rayalaseema/regengine/generic"
	"github.com/rayalaseema/regengine/metrics"
	"github.com/rayalaseema/regengine/notification"
)

// DefaultMaxAttempts bounds optimistic-concurrency retries.
const DefaultMaxAttempts = 3

// Service runs workflow transitions against a Store. Each transition loads
// the request, applies the pure transition and writes it back with a version
// check. Of two concurrent approvals exactly one commits; the other reloads,
// sees approved, and fails with KindInvalidTransition.
type Service struct {
	store       Store
	workflow    Workflow
	audit       generic.AuditLog
	notifier    notification.Notifier
	notifyTo    []string
	clock       generic.Clock
	logger      *zap.Logger
	metrics     *metrics.Metrics
	maxAttempts int
}

type Option func(*Service)

func WithPolicy(p Policy) Option {
	return func(s *Service) { s.workflow = NewWorkflow(p) }
}

func WithAuditLog(a generic.AuditLog) Option {
	return func(s *Service) { s.audit = a }
}

// WithNotifier sends a status update to recipients after every committed
// transition.
func WithNotifier(n notification.Notifier, recipients ...string) Option {
	return func(s *Service) {
		s.notifier = n
		s.notifyTo = recipients
	}
}

func WithClock(c generic.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		workflow:    NewWorkflow(DefaultPolicy()),
		audit:       generic.NopAuditLog{},
		notifier:    notification.NopNotifier{},
		clock:       generic.SystemClock{},
		logger:      zap.NewNop(),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func (s *Service) Submit(ctx context.Context, requester generic.Actor, in SubmitInput) (FundRequest, error) {
	req, err := s.workflow.Submit(uuid.NewString(), requester, in, s.clock.Now())
	if err != nil {
		return FundRequest{}, err
	}
	if err := s.store.CreateFundRequest(ctx, req); err != nil {
		return FundRequest{}, fmt.Errorf("submit fund request: %w", err)
	}
	s.committed(ctx, requester, generic.AuditRequestSubmitted, req, map[string]any{
		"type":           string(req.Type),
		"amount":         req.RequestedAmount.String(),
		"region":         req.Region,
		"payment_method": string(req.PaymentMethod),
	})
	return req, nil
}

func (s *Service) Approve(ctx context.Context, id string, approver generic.Actor) (FundRequest, error) {
	req, err := s.transition(ctx, "approve", id, func(r FundRequest, now time.Time) (FundRequest, error) {
		return s.workflow.Approve(r, approver, now)
	})
	if err != nil {
		return FundRequest{}, err
	}
	s.committed(ctx, approver, generic.AuditRequestApproved, req, nil)
	return req, nil
}

func (s *Service) Reject(ctx context.Context, id string, approver generic.Actor, reason string) (FundRequest, error) {
	req, err := s.transition(ctx, "reject", id, func(r FundRequest, now time.Time) (FundRequest, error) {
		return s.workflow.Reject(r, approver, reason, now)
	})
	if err != nil {
		return FundRequest{}, err
	}
	s.committed(ctx, approver, generic.AuditRequestRejected, req, map[string]any{"reason": req.RejectionReason})
	return req, nil
}

func (s *Service) RecordPayment(ctx context.Context, id string, payer generic.Actor, in PaymentInput) (FundRequest, error) {
	req, err := s.transition(ctx, "record payment", id, func(r FundRequest, now time.Time) (FundRequest, error) {
		return s.workflow.RecordPayment(r, payer, in, now)
	})
	if err != nil {
		return FundRequest{}, err
	}
	s.committed(ctx, payer, generic.AuditRequestPaid, req, map[string]any{
		"paid_amount":    req.PaidAmount.String(),
		"payment_method": string(req.PaymentMethod),
		"evidence":       req.PaymentEvidence,
	})
	return req, nil
}

func (s *Service) ConfirmReceipt(ctx context.Context, id string, actor generic.Actor) (FundRequest, error) {
	req, err := s.transition(ctx, "confirm receipt", id, func(r FundRequest, now time.Time) (FundRequest, error) {
		return s.workflow.ConfirmReceipt(r, actor, now)
	})
	if err != nil {
		return FundRequest{}, err
	}
	s.committed(ctx, actor, generic.AuditRequestReceived, req, nil)
	return req, nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) Get(ctx context.Context, id string) (FundRequest, error) {
	return s.store.GetFundRequest(ctx, id)
}

func (s *Service) List(ctx context.Context, filter Filter) ([]FundRequest, error) {
	return s.store.ListFundRequests(ctx, filter)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) transition(ctx context.Context, op, id string, apply func(FundRequest, time.Time) (FundRequest, error)) (FundRequest, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		req, err := s.store.GetFundRequest(ctx, id)
		if err != nil {
			return FundRequest{}, err
		}
		next, err := apply(req, s.clock.Now())
		if err != nil {
			return FundRequest{}, err
		}
		err = s.store.UpdateFundRequest(ctx, next)
		if err == nil {
			next.Version++
			return next, nil
		}
		if !generic.IsRetryable(err) {
			return FundRequest{}, fmt.Errorf("%s: %w", op, err)
		}
		s.logger.Debug("concurrent modification, retrying",
			zap.String("op", op),
			zap.String("fund_request_id", id),
			zap.Int("attempt", attempt),
		)
	}
	return FundRequest{}, &generic.Error{Kind: generic.KindConflict, Op: op, Message: "too many concurrent modifications", Err: generic.ErrConcurrentModification}
}

// committed runs the post-commit side effects: audit, metrics, log, notify.
// None of them can fail the transition.
func (s *Service) committed(ctx context.Context, actor generic.Actor, action generic.AuditAction, req FundRequest, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["status"] = string(req.Status)
	entry := generic.NewAuditEntry(s.clock.Now(), actor, action, req.ID, payload)
	if err := s.audit.AppendAudit(ctx, entry); err != nil {
		s.logger.Error("failed to append audit entry", zap.String("fund_request_id", req.ID), zap.Error(err))
	}

	s.metrics.Transition(string(req.Status))
	s.logger.Info("fund request transition",
		zap.String("fund_request_id", req.ID),
		zap.String("status", string(req.Status)),
		zap.String("actor", actor.String()),
	)

	for _, to := range s.notifyTo {
		s.notifier.Notify(ctx, notification.Message{
			To:       to,
			Region:   req.Region,
			Template: notification.TemplateFundRequestUpdate,
			Data: map[string]string{
				"requestId":   req.ID,
				"title":       req.Title,
				"status":      string(req.Status),
				"amount":      req.RequestedAmount.String(),
				"requestedBy": req.RequestedBy,
				"actor":       actor.ID,
			},
		})
	}
}
