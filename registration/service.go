/*
service.go - Store-backed registration operations

PURPOSE:
  Wraps the pure ledger, dedupe and aggregation functions with persistence,
  audit, metrics and notification. Every mutating call:

    1. loads the registration fresh from the store
    2. applies the change with the pure functions
    3. writes it back with an optimistic version check
    4. on ErrConcurrentModification, reloads and retries (bounded)
    5. after commit: audit, metrics, then a best-effort notification

  Notification failures never undo a committed change; they land in the
  notification ledger.

ACTORS:
  The caller passes the acting generic.Actor into every mutation. It is
  recorded in audit entries and review fields, never authenticated here.

SEE ALSO:
  - ledger.go, dedupe.go, aggregate.go: the pure rules
  - notification/ledger.go: where failed confirmations end up
*/
package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rayalaseema/regengine/cache"
	"github.com/rayalaseema/regengine/generic"
	"github.com/rayalaseema/regengine/metrics"
	"github.com/rayalaseema/regengine/notification"
)

// DefaultMaxAttempts bounds optimistic-concurrency retries.
const DefaultMaxAttempts = 3

const reportKeyPrefix = "reports:"

// ReportCache caches aggregate reports. cache.ReportCache implements it.
type ReportCache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// Service orchestrates registration submissions, payments and reviews.
type Service struct {
	store       Store
	ledger      *Ledger
	aggregator  *Aggregator
	audit       generic.AuditLog
	notifier    notification.Notifier
	reports     ReportCache
	clock       generic.Clock
	logger      *zap.Logger
	metrics     *metrics.Metrics
	maxAttempts int
}

type Option func(*Service)

func WithAuditLog(a generic.AuditLog) Option {
	return func(s *Service) { s.audit = a }
}

func WithNotifier(n notification.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithReportCache(c ReportCache) Option {
	return func(s *Service) { s.reports = c }
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

// NewService constructs a Service. A nil ledger uses the default price list.
func NewService(store Store, ledger *Ledger, opts ...Option) *Service {
	if ledger == nil {
		ledger = NewLedger(nil)
	}
	s := &Service{
		store:       store,
		ledger:      ledger,
		aggregator:  NewAggregator(ledger),
		audit:       generic.NopAuditLog{},
		notifier:    notification.NopNotifier{},
		reports:     cache.Disabled(),
		clock:       generic.SystemClock{},
		logger:      zap.NewNop(),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ledger exposes the ledger used for balances.
func (s *Service) Ledger() *Ledger { return s.ledger }

// =============================================================================
// VIEWS
// =============================================================================

// View is a registration with its derived money fields.
type View struct {
	Registration
	Balance          Balance
	MinimumSatisfied bool
}

func (s *Service) view(r Registration) View {
	return View{
		Registration:     r,
		Balance:          s.ledger.BalanceOf(r),
		MinimumSatisfied: s.ledger.IsMinimumSatisfied(r),
	}
}

// =============================================================================
// SUBMIT
// =============================================================================

// SubmitResult reports whether the submission created a registration or
// resolved to an existing one with the same transaction ID.
type SubmitResult struct {
	View
	Duplicate bool
}

// Submit creates a registration. reg.AmountPaid, when positive, is recorded
// as the first payment under reg.TransactionID. A submission whose
// transaction ID is already known returns the existing registration.
func (s *Service) Submit(ctx context.Context, actor generic.Actor, reg Registration) (SubmitResult, error) {
	const op = "submit registration"

	reg.Name = strings.TrimSpace(reg.Name)
	reg.Region = strings.TrimSpace(reg.Region)
	reg.GroupType = strings.TrimSpace(reg.GroupType)
	reg.TransactionID = strings.TrimSpace(reg.TransactionID)
	switch {
	case reg.Name == "":
		return SubmitResult{}, generic.MissingField(op, "name")
	case reg.Region == "":
		return SubmitResult{}, generic.MissingField(op, "region")
	case reg.GroupType == "":
		return SubmitResult{}, generic.MissingField(op, "group_type")
	case reg.AmountPaid.IsNegative():
		return SubmitResult{}, generic.InvalidAmount(op, "amount_paid", "amount paid cannot be negative")
	}

	if existing, ok, err := s.existingFor(ctx, reg.TransactionID); err != nil {
		return SubmitResult{}, err
	} else if ok {
		return s.duplicateResult(existing), nil
	}

	now := s.clock.Now()
	initial := reg.AmountPaid

	reg.ID = uuid.NewString()
	if strings.TrimSpace(reg.UniqueID) == "" {
		reg.UniqueID = NewUniqueID(reg.Region)
	}
	reg.AmountPaid = generic.ZeroMoney()
	reg.Transactions = nil
	reg.Status = StatusPending
	reg.ReviewedBy, reg.ReviewedAt, reg.ReviewNote = "", nil, ""
	reg.CreatedAt = now
	reg.UpdatedAt = now
	reg.Version = 1

	if initial.IsPositive() {
		paid, err := s.ledger.ApplyPayment(reg, initial, reg.TransactionID, now)
		if err != nil {
			return SubmitResult{}, err
		}
		reg = paid
	}

	if err := s.store.CreateRegistration(ctx, reg); err != nil {
		if errors.Is(err, generic.ErrDuplicateTransaction) {
			// Lost a race with an identical submission.
			if existing, ok, ferr := s.existingFor(ctx, reg.TransactionID); ferr == nil && ok {
				return s.duplicateResult(existing), nil
			}
		}
		return SubmitResult{}, fmt.Errorf("%s: %w", op, err)
	}

	s.appendAudit(ctx, actor, generic.AuditRegistrationSubmitted, reg.ID, map[string]any{
		"unique_id":      reg.UniqueID,
		"region":         reg.Region,
		"group_type":     reg.GroupType,
		"transaction_id": reg.TransactionID,
		"amount_paid":    reg.AmountPaid.String(),
	})
	s.metrics.RegistrationSubmitted(string(reg.NormalizedRegion()), false)
	if initial.IsPositive() {
		s.metrics.PaymentApplied(string(reg.NormalizedRegion()))
	}
	s.InvalidateReports(ctx)
	s.logger.Info("registration submitted",
		zap.String("registration_id", reg.ID),
		zap.String("unique_id", reg.UniqueID),
		zap.String("actor", actor.String()),
	)

	v := s.view(reg)
	s.notify(ctx, notification.TemplateRegistrationConfirmation, v)
	return SubmitResult{View: v}, nil
}

func (s *Service) existingFor(ctx context.Context, txID string) (Registration, bool, error) {
	if txID == "" {
		return Registration{}, false, nil
	}
	return s.store.FindByTransaction(ctx, txID)
}

func (s *Service) duplicateResult(existing Registration) SubmitResult {
	s.metrics.RegistrationSubmitted(string(existing.NormalizedRegion()), true)
	s.logger.Info("duplicate registration submission",
		zap.String("registration_id", existing.ID),
		zap.String("transaction_id", existing.TransactionID),
	)
	return SubmitResult{View: s.view(existing), Duplicate: true}
}

// =============================================================================
// PAYMENTS
// =============================================================================

// ApplyPayment records a top-up payment. Re-sending a transaction ID already
// on this registration is a no-op; one owned by another registration fails
// with KindDuplicateTransaction.
func (s *Service) ApplyPayment(ctx context.Context, actor generic.Actor, id string, amount generic.Money, txID string, date time.Time) (View, error) {
	const op = "apply payment"

	if !amount.IsPositive() {
		return View{}, generic.InvalidAmount(op, "amount", "payment amount must be greater than zero")
	}
	txID = strings.TrimSpace(txID)
	if txID != "" {
		owner, ok, err := s.store.FindByTransaction(ctx, txID)
		if err != nil {
			return View{}, err
		}
		if ok && owner.ID != id {
			s.metrics.DuplicateTransaction()
			return View{}, generic.DuplicateTransaction(op, txID, owner.UniqueID)
		}
	}
	if date.IsZero() {
		date = s.clock.Now()
	}

	var updated Registration
	applied := false
	err := s.retry(ctx, op, id, func(reg Registration) (Registration, bool, error) {
		next, err := s.ledger.ApplyPayment(reg, amount, txID, date)
		if err != nil {
			return Registration{}, false, err
		}
		if len(next.Transactions) == len(reg.Transactions) {
			updated = reg
			return reg, false, nil
		}
		next.UpdatedAt = s.clock.Now()
		applied = true
		return next, true, nil
	}, &updated)
	if err != nil {
		return View{}, err
	}
	if !applied {
		return s.view(updated), nil
	}

	s.appendAudit(ctx, actor, generic.AuditPaymentApplied, updated.ID, map[string]any{
		"amount":         amount.String(),
		"transaction_id": txID,
		"amount_paid":    updated.AmountPaid.String(),
	})
	s.metrics.PaymentApplied(string(updated.NormalizedRegion()))
	s.InvalidateReports(ctx)

	v := s.view(updated)
	s.logger.Info("payment applied",
		zap.String("registration_id", updated.ID),
		zap.String("amount", amount.String()),
		zap.String("balance", v.Balance.Balance.String()),
		zap.String("actor", actor.String()),
	)
	s.notify(ctx, notification.TemplatePaymentReceipt, v, "amount", amount.String())
	return v, nil
}

// =============================================================================
// REVIEW
// =============================================================================

// Review flags a registration pending, approved or rejected. Approval
// requires the minimum payment; rejection requires a note.
func (s *Service) Review(ctx context.Context, actor generic.Actor, id string, status Status, note string) (View, error) {
	const op = "review registration"

	if !status.Valid() {
		return View{}, &generic.Error{Kind: generic.KindInvalidTransition, Op: op, Message: fmt.Sprintf("unknown status %q", status)}
	}
	note = strings.TrimSpace(note)
	if status == StatusRejected && note == "" {
		return View{}, generic.MissingField(op, "note")
	}

	var updated Registration
	changed := false
	err := s.retry(ctx, op, id, func(reg Registration) (Registration, bool, error) {
		if reg.Status == status {
			updated = reg
			return reg, false, nil
		}
		if status == StatusApproved && !s.ledger.IsMinimumSatisfied(reg) {
			return Registration{}, false, &generic.Error{
				Kind:    generic.KindInvalidTransition,
				Op:      op,
				Message: "minimum payment not met",
			}
		}
		now := s.clock.Now()
		next := reg.Clone()
		next.Status = status
		next.ReviewedBy = actor.ID
		next.ReviewedAt = &now
		next.ReviewNote = note
		next.UpdatedAt = now
		changed = true
		return next, true, nil
	}, &updated)
	if err != nil {
		return View{}, err
	}
	if !changed {
		return s.view(updated), nil
	}

	s.appendAudit(ctx, actor, generic.AuditRegistrationReviewed, updated.ID, map[string]any{
		"status": string(status),
		"note":   note,
	})
	s.InvalidateReports(ctx)

	v := s.view(updated)
	s.notify(ctx, notification.TemplateRegistrationReviewed, v, "status", string(status))
	return v, nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) Get(ctx context.Context, id string) (View, error) {
	reg, err := s.store.GetRegistration(ctx, id)
	if err != nil {
		return View{}, err
	}
	return s.view(reg), nil
}

// List returns the deduplicated registrations matching filter, oldest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]View, error) {
	regs, err := s.records(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(regs))
	for _, r := range regs {
		out = append(out, s.view(r))
	}
	return out, nil
}

func (s *Service) records(ctx context.Context, filter Filter) ([]Registration, error) {
	regs, err := s.store.ListRegistrations(ctx, filter)
	if err != nil {
		return nil, err
	}
	kept, dropped := DedupeWithReport(SortForDedupe(regs))
	if len(dropped) > 0 {
		s.logger.Warn("duplicate transaction IDs collapsed", zap.Int("dropped", len(dropped)))
	}
	return kept, nil
}

// Report is an aggregate over the registrations matching a filter.
type Report struct {
	GroupBy GroupBy
	Groups  map[string]RollUp
	Totals  RollUp
}

// Aggregate groups the deduplicated registrations matching filter. Reports
// may be served from the report cache.
func (s *Service) Aggregate(ctx context.Context, filter Filter, groupBy GroupBy) (Report, error) {
	key := fmt.Sprintf("%s%s:%s:%s:%s", reportKeyPrefix, groupBy, filter.Region, strings.ToLower(filter.District), filter.Status)

	var cached Report
	if err := s.reports.Get(ctx, key, &cached); err == nil {
		s.metrics.ReportCacheLookup(true)
		return cached, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("report cache read failed", zap.String("key", key), zap.Error(err))
	}
	s.metrics.ReportCacheLookup(false)

	regs, err := s.records(ctx, filter)
	if err != nil {
		return Report{}, err
	}
	report := Report{
		GroupBy: groupBy,
		Groups:  s.aggregator.Aggregate(regs, groupBy),
		Totals:  s.aggregator.Totals(regs),
	}
	if err := s.reports.Set(ctx, key, report); err != nil {
		s.logger.Warn("report cache write failed", zap.String("key", key), zap.Error(err))
	}
	return report, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// retry runs load -> mutate -> versioned update until it commits, mutate
// declines to write, or attempts run out. result receives the stored value.
func (s *Service) retry(ctx context.Context, op, id string, mutate func(Registration) (Registration, bool, error), result *Registration) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		reg, err := s.store.GetRegistration(ctx, id)
		if err != nil {
			return err
		}
		next, write, err := mutate(reg)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}
		err = s.store.UpdateRegistration(ctx, next)
		if err == nil {
			next.Version++
			*result = next
			return nil
		}
		if !generic.IsRetryable(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
		s.logger.Debug("concurrent modification, retrying",
			zap.String("op", op),
			zap.String("registration_id", id),
			zap.Int("attempt", attempt),
		)
	}
	return &generic.Error{Kind: generic.KindConflict, Op: op, Message: "too many concurrent modifications", Err: generic.ErrConcurrentModification}
}

func (s *Service) appendAudit(ctx context.Context, actor generic.Actor, action generic.AuditAction, subject string, payload map[string]any) {
	entry := generic.NewAuditEntry(s.clock.Now(), actor, action, subject, payload)
	if err := s.audit.AppendAudit(ctx, entry); err != nil {
		s.logger.Error("failed to append audit entry",
			zap.String("action", string(action)),
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

// InvalidateReports drops every cached aggregate report.
func (s *Service) InvalidateReports(ctx context.Context) {
	if err := s.reports.DeleteByPattern(ctx, reportKeyPrefix+"*"); err != nil {
		s.logger.Warn("report cache invalidation failed", zap.Error(err))
	}
}

// notify sends a best-effort message to the registrant. kv adds extra
// snapshot fields in key, value order.
func (s *Service) notify(ctx context.Context, tmpl notification.Template, v View, kv ...string) {
	if strings.TrimSpace(v.Email) == "" {
		return
	}
	data := map[string]string{
		"name":       v.Name,
		"uniqueId":   v.UniqueID,
		"district":   v.District,
		"place":      v.Place,
		"groupType":  v.GroupType,
		"phone":      v.Phone,
		"totalDue":   v.Balance.TotalDue.String(),
		"amountPaid": v.Balance.Paid.String(),
		"balance":    v.Balance.Balance.String(),
	}
	for i := 0; i+1 < len(kv); i += 2 {
		data[kv[i]] = kv[i+1]
	}
	s.notifier.Notify(ctx, notification.Message{
		To:       v.Email,
		Region:   string(v.NormalizedRegion()),
		Template: tmpl,
		Data:     data,
	})
}
