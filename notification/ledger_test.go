package notification_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rayalaseema/regengine/generic"
	"github.com/rayalaseema/regengine/notification"
	"github.com/rayalaseema/regengine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var t0 = time.Date(2025, 1, 20, 8, 0, 0, 0, time.UTC)

// scriptedSender fails for every recipient in failFor and records the rest.
type scriptedSender struct {
	mu      sync.Mutex
	failFor map[string]bool
	sent    []notification.Message
}

func (s *scriptedSender) Send(_ context.Context, msg notification.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[msg.To] {
		return errors.New("smtp: mailbox unavailable")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *scriptedSender) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, m := range s.sent {
		out[i] = m.To
	}
	return out
}

func message(to, region string) notification.Message {
	return notification.Message{
		To:       to,
		Region:   region,
		Template: notification.TemplateRegistrationConfirmation,
		Data:     map[string]string{"name": "Attendee", "uniqueId": "ER-ABC123", "balance": "500"},
	}
}

func newLedger(t *testing.T, sender notification.Sender) (*notification.Ledger, *memory.Store, *generic.FixedClock) {
	t.Helper()
	store := memory.New()
	clock := generic.NewFixedClock(t0)
	l := notification.NewLedger(store, sender,
		notification.WithAuditLog(store),
		notification.WithClock(clock),
		notification.WithLogger(zap.NewNop()),
	)
	return l, store, clock
}

// =============================================================================
// RECORD / LIST / CLEAR
// =============================================================================

func TestRecordFailure_CapturesSnapshot(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLedger(t, &scriptedSender{})

	msg := message("a@example.org", "east")
	f, err := l.RecordFailure(ctx, msg, "timeout")
	require.NoError(t, err)

	msg.Data["balance"] = "0" // later edits do not leak into the record

	got, err := l.ListFailures(ctx, notification.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, f.ID, got[0].ID)
	assert.Equal(t, "a@example.org", got[0].RecipientEmail)
	assert.Equal(t, "500", got[0].Snapshot["balance"])
	assert.Equal(t, "timeout", got[0].Error)
	assert.Equal(t, 1, got[0].Attempts)
}

func TestRecordFailure_RequiresRecipient(t *testing.T) {
	l, _, _ := newLedger(t, &scriptedSender{})
	_, err := l.RecordFailure(context.Background(), message(" ", "east"), "timeout")
	assert.Equal(t, generic.KindMissingField, generic.KindOf(err))
}

func TestListFailures_ByRegionNewestFirst(t *testing.T) {
	ctx := context.Background()
	l, _, clock := newLedger(t, &scriptedSender{})

	_, _ = l.RecordFailure(ctx, message("a@example.org", "east"), "x")
	clock.Advance(time.Minute)
	_, _ = l.RecordFailure(ctx, message("b@example.org", "west"), "x")
	clock.Advance(time.Minute)
	_, _ = l.RecordFailure(ctx, message("c@example.org", "east"), "x")

	east, err := l.ListFailures(ctx, notification.Filter{Region: "east"})
	require.NoError(t, err)
	require.Len(t, east, 2)
	assert.Equal(t, "c@example.org", east[0].RecipientEmail)
	assert.Equal(t, "a@example.org", east[1].RecipientEmail)
}

func TestClearFailure_RemovesAndAudits(t *testing.T) {
	ctx := context.Background()
	l, store, _ := newLedger(t, &scriptedSender{})
	f, _ := l.RecordFailure(ctx, message("a@example.org", "east"), "x")

	operator := generic.Actor{ID: "admin-1", Role: generic.RoleAdmin}
	require.NoError(t, l.ClearFailure(ctx, operator, f.ID))

	left, _ := l.ListFailures(ctx, notification.Filter{})
	assert.Empty(t, left)

	entries, err := store.QueryAudit(ctx, generic.AuditFilter{Subject: f.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, generic.AuditFailureCleared, entries[0].Action)

	assert.True(t, generic.IsNotFound(l.ClearFailure(ctx, operator, f.ID)))
}

// =============================================================================
// DELIVER
// =============================================================================

func TestDeliver_RecordsOnlyFailures(t *testing.T) {
	ctx := context.Background()
	sender := &scriptedSender{failFor: map[string]bool{"bad@example.org": true}}
	l, _, _ := newLedger(t, sender)

	assert.NoError(t, l.Deliver(ctx, message("good@example.org", "east")))
	assert.Error(t, l.Deliver(ctx, message("bad@example.org", "east")))

	failures, _ := l.ListFailures(ctx, notification.Filter{})
	require.Len(t, failures, 1)
	assert.Equal(t, "bad@example.org", failures[0].RecipientEmail)
	assert.Contains(t, failures[0].Error, "mailbox unavailable")
	assert.Equal(t, []string{"good@example.org"}, sender.recipients())
}

// =============================================================================
// RESEND
// =============================================================================

func TestResend_OnlyTouchesCandidates(t *testing.T) {
	ctx := context.Background()
	sender := &scriptedSender{}
	l, _, clock := newLedger(t, sender)

	var recorded []notification.FailedDelivery
	for i := 0; i < 5; i++ {
		f, err := l.RecordFailure(ctx, message(fmt.Sprintf("user%d@example.org", i), "east"), "timeout")
		require.NoError(t, err)
		recorded = append(recorded, f)
		clock.Advance(time.Second)
	}

	report, err := l.Resend(ctx, recorded[1:3])
	require.NoError(t, err)
	assert.Len(t, report.Sent, 2)
	assert.Empty(t, report.Failed)
	assert.ElementsMatch(t, []string{"user1@example.org", "user2@example.org"}, sender.recipients())

	left, err := l.ListFailures(ctx, notification.Filter{})
	require.NoError(t, err)
	require.Len(t, left, 3)
	untouched := map[string]notification.FailedDelivery{}
	for _, f := range left {
		untouched[f.ID] = f
	}
	for _, i := range []int{0, 3, 4} {
		f, ok := untouched[recorded[i].ID]
		require.True(t, ok, "failure %d must survive", i)
		assert.Equal(t, 1, f.Attempts)
		assert.True(t, f.LastAttemptAt.Equal(recorded[i].LastAttemptAt))
	}
}

func TestResend_FailureKeepsRecordAndCountsAttempt(t *testing.T) {
	ctx := context.Background()
	sender := &scriptedSender{failFor: map[string]bool{"bad@example.org": true}}
	l, _, clock := newLedger(t, sender)

	bad, _ := l.RecordFailure(ctx, message("bad@example.org", "west"), "timeout")
	good, _ := l.RecordFailure(ctx, message("good@example.org", "west"), "timeout")
	clock.Advance(time.Hour)

	report, err := l.Resend(ctx, []notification.FailedDelivery{bad, good, bad})
	require.NoError(t, err)
	require.Len(t, report.Sent, 1)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, good.ID, report.Sent[0].ID)
	assert.Equal(t, bad.ID, report.Failed[0].ID)
	assert.Contains(t, report.Failed[0].Error, "mailbox unavailable")

	left, _ := l.ListFailures(ctx, notification.Filter{})
	require.Len(t, left, 1)
	assert.Equal(t, 2, left[0].Attempts)
	assert.True(t, left[0].LastAttemptAt.Equal(t0.Add(time.Hour)))
	assert.Equal(t, "500", left[0].Snapshot["balance"])
}

func TestResend_ClearedCandidateIsReportedFailed(t *testing.T) {
	ctx := context.Background()
	sender := &scriptedSender{}
	l, _, _ := newLedger(t, sender)

	f, _ := l.RecordFailure(ctx, message("a@example.org", "east"), "timeout")
	require.NoError(t, l.ClearFailure(ctx, generic.SystemActor, f.ID))

	report, err := l.Resend(ctx, []notification.FailedDelivery{f})
	require.NoError(t, err)
	assert.Empty(t, report.Sent)
	require.Len(t, report.Failed, 1)
	assert.Empty(t, sender.recipients())
}

func TestResend_EmptyCandidates(t *testing.T) {
	l, _, _ := newLedger(t, &scriptedSender{})

	report, err := l.Resend(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, report.Sent)
	assert.Empty(t, report.Sent)
	assert.Empty(t, report.Failed)
}
