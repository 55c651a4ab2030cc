package notification

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rayalaseema/regengine/generic"
	"github.com/rayalaseema/regengine/metrics"
)

// DefaultResendConcurrency bounds parallel sends during Resend.
const DefaultResendConcurrency = 4

// =============================================================================
// LEDGER
// =============================================================================

// Ledger records failed deliveries and resends an explicit subset of them.
type Ledger struct {
	store       Store
	sender      Sender
	audit       generic.AuditLog
	clock       generic.Clock
	logger      *zap.Logger
	metrics     *metrics.Metrics
	concurrency int
}

type Option func(*Ledger)

func WithAuditLog(a generic.AuditLog) Option {
	return func(l *Ledger) { l.audit = a }
}

func WithClock(c generic.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithConcurrency sets how many resends run at once. Values < 1 are ignored.
func WithConcurrency(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

func NewLedger(store Store, sender Sender, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		sender:      sender,
		audit:       generic.NopAuditLog{},
		clock:       generic.SystemClock{},
		logger:      zap.NewNop(),
		concurrency: DefaultResendConcurrency,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// =============================================================================
// RECORD / LIST / CLEAR
// =============================================================================

// RecordFailure stores a failed attempt to deliver msg.
func (l *Ledger) RecordFailure(ctx context.Context, msg Message, cause string) (FailedDelivery, error) {
	if strings.TrimSpace(msg.To) == "" {
		return FailedDelivery{}, generic.MissingField("record failure", "recipient")
	}
	if cause == "" {
		cause = "unknown error"
	}
	now := l.clock.Now()
	f := FailedDelivery{
		ID:             uuid.NewString(),
		RecipientEmail: msg.To,
		Region:         msg.Region,
		Template:       msg.Template,
		Snapshot:       copySnapshot(msg.Data),
		Error:          cause,
		Attempts:       1,
		CreatedAt:      now,
		LastAttemptAt:  now,
	}
	if err := l.store.CreateFailure(ctx, f); err != nil {
		return FailedDelivery{}, err
	}
	l.metrics.DeliveryFailed(f.Region)
	l.logger.Warn("notification delivery failed",
		zap.String("failure_id", f.ID),
		zap.String("recipient", f.RecipientEmail),
		zap.String("region", f.Region),
		zap.String("template", string(f.Template)),
		zap.String("error", cause),
	)
	return f, nil
}

// ListFailures returns recorded failures, newest first.
func (l *Ledger) ListFailures(ctx context.Context, filter Filter) ([]FailedDelivery, error) {
	return l.store.ListFailures(ctx, filter)
}

// ClearFailure deletes a failure without resending it.
func (l *Ledger) ClearFailure(ctx context.Context, actor generic.Actor, id string) error {
	f, err := l.store.GetFailure(ctx, id)
	if err != nil {
		return err
	}
	if err := l.store.DeleteFailure(ctx, id); err != nil {
		return err
	}
	entry := generic.NewAuditEntry(l.clock.Now(), actor, generic.AuditFailureCleared, id, map[string]any{
		"recipient": f.RecipientEmail,
		"region":    f.Region,
		"error":     f.Error,
	})
	if err := l.audit.AppendAudit(ctx, entry); err != nil {
		l.logger.Error("failed to append audit entry", zap.String("failure_id", id), zap.Error(err))
	}
	return nil
}

// =============================================================================
// DELIVERY
// =============================================================================

// Deliver sends msg and records a failure if the send does not succeed.
// The returned error is the send error; recording problems are logged.
func (l *Ledger) Deliver(ctx context.Context, msg Message) error {
	sendErr := l.sender.Send(ctx, msg)
	if sendErr == nil {
		return nil
	}
	if _, err := l.RecordFailure(ctx, msg, sendErr.Error()); err != nil {
		l.logger.Error("failed to record delivery failure",
			zap.String("recipient", msg.To),
			zap.Error(err),
		)
	}
	return sendErr
}

// Notify implements Notifier synchronously.
func (l *Ledger) Notify(ctx context.Context, msg Message) {
	_ = l.Deliver(ctx, msg)
}

// =============================================================================
// RESEND
// =============================================================================

// ResendOutcome is the result for one candidate.
type ResendOutcome struct {
	ID             string
	RecipientEmail string
	Error          string
}

// ResendReport lists which candidates were sent and which still fail.
type ResendReport struct {
	Sent   []ResendOutcome
	Failed []ResendOutcome
}

// Resend retries exactly the given candidates. Records not in the candidate
// set are never touched. Candidates are re-read from the store so a record
// cleared in the meantime is reported failed instead of being sent.
func (l *Ledger) Resend(ctx context.Context, candidates []FailedDelivery) (ResendReport, error) {
	ids := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if c.ID == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		ids = append(ids, c.ID)
	}

	results := make([]ResendOutcome, len(ids))
	sent := make([]bool, len(ids))

	var g errgroup.Group
	g.SetLimit(l.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i], sent[i] = l.resendOne(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	report := ResendReport{Sent: []ResendOutcome{}, Failed: []ResendOutcome{}}
	for i := range ids {
		l.metrics.Resend(sent[i])
		if sent[i] {
			report.Sent = append(report.Sent, results[i])
		} else {
			report.Failed = append(report.Failed, results[i])
		}
	}

	l.logger.Info("resend finished",
		zap.Int("candidates", len(ids)),
		zap.Int("sent", len(report.Sent)),
		zap.Int("failed", len(report.Failed)),
	)
	return report, ctx.Err()
}

func (l *Ledger) resendOne(ctx context.Context, id string) (ResendOutcome, bool) {
	out := ResendOutcome{ID: id}
	if err := ctx.Err(); err != nil {
		out.Error = err.Error()
		return out, false
	}

	f, err := l.store.GetFailure(ctx, id)
	if err != nil {
		out.Error = err.Error()
		return out, false
	}
	out.RecipientEmail = f.RecipientEmail

	sendErr := l.sender.Send(ctx, f.Message())
	if sendErr == nil {
		if err := l.store.DeleteFailure(ctx, id); err != nil && !errors.Is(err, generic.ErrNotFound) {
			// Delivered; a stale record is the lesser problem.
			l.logger.Error("failed to remove resent failure", zap.String("failure_id", id), zap.Error(err))
		}
		return out, true
	}

	f.Error = sendErr.Error()
	f.Attempts++
	f.LastAttemptAt = l.clock.Now()
	if err := l.store.UpdateFailure(ctx, f); err != nil {
		l.logger.Error("failed to update failure after resend", zap.String("failure_id", id), zap.Error(err))
	}
	out.Error = sendErr.Error()
	return out, false
}

func copySnapshot(in map[string]string) map[string]string {
	if in == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
