package disbursement_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayalaseema/regengine/disbursement"
	"github.com/rayalaseema/regengine/generic"
	"github.com/rayalaseema/regengine/notification"
	"github.com/rayalaseema/regengine/store/memory"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (n *recordingNotifier) Notify(_ context.Context, msg notification.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func newService(t *testing.T, opts ...disbursement.Option) (*disbursement.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	base := []disbursement.Option{
		disbursement.WithAuditLog(store),
		disbursement.WithClock(generic.NewFixedClock(now)),
	}
	return disbursement.NewService(store, append(base, opts...)...), store
}

func TestService_FullWorkerDisbursementLifecycle(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	svc, store := newService(t, disbursement.WithNotifier(notifier, "treasurer@example.org"))

	req, err := svc.Submit(ctx, coordinator, submitInput(disbursement.TypeWorkerDisbursement))
	require.NoError(t, err)

	_, err = svc.Approve(ctx, req.ID, treasurer)
	require.NoError(t, err)
	_, err = svc.RecordPayment(ctx, req.ID, treasurer, payment())
	require.NoError(t, err)
	done, err := svc.ConfirmReceipt(ctx, req.ID, worker)
	require.NoError(t, err)

	assert.Equal(t, disbursement.StatusReceived, done.Status)
	assert.Equal(t, int64(4), done.Version)

	stored, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, done.Status, stored.Status)
	assert.Equal(t, done.Version, stored.Version)

	entries, err := store.QueryAudit(ctx, generic.AuditFilter{Subject: req.ID})
	require.NoError(t, err)
	actions := make([]generic.AuditAction, len(entries))
	for i, e := range entries {
		actions[i] = e.Action
	}
	assert.Equal(t, []generic.AuditAction{
		generic.AuditRequestSubmitted,
		generic.AuditRequestApproved,
		generic.AuditRequestPaid,
		generic.AuditRequestReceived,
	}, actions)
	assert.Equal(t, "received", entries[3].Payload["status"])

	require.Len(t, notifier.messages, 4)
	assert.Equal(t, "treasurer@example.org", notifier.messages[0].To)
	assert.Equal(t, notification.TemplateFundRequestUpdate, notifier.messages[3].Template)
	assert.Equal(t, "received", notifier.messages[3].Data["status"])
}

func TestService_FailedTransitionWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	req, err := svc.Submit(ctx, coordinator, submitInput(""))
	require.NoError(t, err)

	_, err = svc.Reject(ctx, req.ID, treasurer, "")
	assert.Equal(t, generic.KindMissingField, generic.KindOf(err))

	stored, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, disbursement.StatusPending, stored.Status)
	assert.Equal(t, int64(1), stored.Version)

	entries, _ := store.QueryAudit(ctx, generic.AuditFilter{Subject: req.ID})
	assert.Len(t, entries, 1)
}

func TestService_UnknownRequestIsNotFound(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Approve(context.Background(), "nope", treasurer)
	assert.True(t, generic.IsNotFound(err))
}

func TestService_ConcurrentApprovalsExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	req, err := svc.Submit(ctx, coordinator, submitInput(""))
	require.NoError(t, err)

	const n = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		invalid int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Approve(ctx, req.ID, treasurer)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, generic.ErrInvalidTransition):
				invalid++
			case errors.Is(err, generic.ErrConcurrentModification):
				// ran out of retries; still not a second approval
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	entries, _ := store.QueryAudit(ctx, generic.AuditFilter{
		Subject: req.ID,
		Actions: []generic.AuditAction{generic.AuditRequestApproved},
	})
	assert.Len(t, entries, 1)
}

func TestService_ListFilters(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Submit(ctx, coordinator, submitInput(disbursement.TypePaymentRequest))
	require.NoError(t, err)
	w, err := svc.Submit(ctx, coordinator, submitInput(disbursement.TypeWorkerDisbursement))
	require.NoError(t, err)
	_, err = svc.Approve(ctx, w.ID, admin)
	require.NoError(t, err)

	approvedOnly, err := svc.List(ctx, disbursement.Filter{Status: disbursement.StatusApproved})
	require.NoError(t, err)
	require.Len(t, approvedOnly, 1)
	assert.Equal(t, w.ID, approvedOnly[0].ID)

	all, err := svc.List(ctx, disbursement.Filter{RequestedBy: "coord-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
