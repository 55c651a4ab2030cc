package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayalaseema/regengine/disbursement"
	"github.com/rayalaseema/regengine/generic"
	"github.com/rayalaseema/regengine/notification"
	"github.com/rayalaseema/regengine/registration"
	"github.com/rayalaseema/regengine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var t0 = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

func reg(id, txID string, created time.Time) registration.Registration {
	r := registration.Registration{
		ID:         id,
		UniqueID:   "ER-" + id,
		Name:       "Attendee " + id,
		Email:      id + "@example.org",
		Region:     "East Rayalaseema",
		District:   "Kurnool",
		GroupType:  "Students",
		Gender:     "Female",
		Status:     registration.StatusPending,
		CreatedAt:  created,
		UpdatedAt:  created,
		AmountPaid: generic.ZeroMoney(),
		Version:    1,
	}
	if txID != "" {
		r.TransactionID = txID
		r.AmountPaid = generic.NewMoneyFromInt(300)
		r.Transactions = []registration.Payment{{Amount: generic.NewMoneyFromInt(300), TransactionID: txID, Date: created}}
	}
	return r
}

// =============================================================================
// REGISTRATIONS
// =============================================================================

func TestRegistration_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	in := reg("r1", "TX1", t0)
	in.TotalFamilyMembers = 4
	in.SpouseAttending = "Yes"
	require.NoError(t, store.CreateRegistration(ctx, in))

	got, err := store.GetRegistration(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "ER-r1", got.UniqueID)
	assert.Equal(t, 4, got.TotalFamilyMembers)
	assert.Equal(t, "Yes", got.SpouseAttending)
	assert.True(t, got.CreatedAt.Equal(t0))
	assert.Equal(t, "300", got.AmountPaid.String())
	require.Len(t, got.Transactions, 1)
	assert.Equal(t, "TX1", got.Transactions[0].TransactionID)
	assert.Equal(t, int64(1), got.Version)
}

func TestRegistration_GetUnknownIsNotFound(t *testing.T) {
	_, err := newStore(t).GetRegistration(context.Background(), "nope")
	assert.True(t, generic.IsNotFound(err))
}

func TestRegistration_TransactionIDBelongsToOneRegistration(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.CreateRegistration(ctx, reg("r1", "TX1", t0)))

	err := store.CreateRegistration(ctx, reg("r2", "TX1", t0.Add(time.Minute)))
	assert.Equal(t, generic.KindDuplicateTransaction, generic.KindOf(err))

	// The failed insert left nothing behind.
	_, err = store.GetRegistration(ctx, "r2")
	assert.True(t, generic.IsNotFound(err))

	owner, ok, err := store.FindByTransaction(ctx, " TX1 ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r1", owner.ID)

	_, ok, err = store.FindByTransaction(ctx, "TX-unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistration_UpdateAppendsPaymentsAndBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.CreateRegistration(ctx, reg("r1", "TX1", t0)))

	r, err := store.GetRegistration(ctx, "r1")
	require.NoError(t, err)
	r.Transactions = append(r.Transactions, registration.Payment{
		Amount: generic.NewMoneyFromInt(200), TransactionID: "TX2", Date: t0.Add(time.Hour),
	})
	r.AmountPaid = generic.NewMoneyFromInt(500)
	require.NoError(t, store.UpdateRegistration(ctx, r))

	got, err := store.GetRegistration(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "500", got.AmountPaid.String())
	require.Len(t, got.Transactions, 2)
	assert.Equal(t, "TX2", got.Transactions[1].TransactionID)

	owner, ok, err := store.FindByTransaction(ctx, "TX2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r1", owner.ID)
}

func TestRegistration_StaleUpdateIsConcurrentModification(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.CreateRegistration(ctx, reg("r1", "", t0)))

	first, _ := store.GetRegistration(ctx, "r1")
	second, _ := store.GetRegistration(ctx, "r1")

	first.Status = registration.StatusApproved
	require.NoError(t, store.UpdateRegistration(ctx, first))

	second.Status = registration.StatusRejected
	err := store.UpdateRegistration(ctx, second)
	assert.True(t, errors.Is(err, generic.ErrConcurrentModification))

	got, _ := store.GetRegistration(ctx, "r1")
	assert.Equal(t, registration.StatusApproved, got.Status)
}

func TestRegistration_UpdateRejectsForeignTransaction(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.CreateRegistration(ctx, reg("r1", "TX1", t0)))
	require.NoError(t, store.CreateRegistration(ctx, reg("r2", "TX2", t0)))

	r2, _ := store.GetRegistration(ctx, "r2")
	r2.Transactions = append(r2.Transactions, registration.Payment{Amount: generic.NewMoneyFromInt(1), TransactionID: "TX1", Date: t0})
	err := store.UpdateRegistration(ctx, r2)
	assert.Equal(t, generic.KindDuplicateTransaction, generic.KindOf(err))

	got, _ := store.GetRegistration(ctx, "r2")
	assert.Len(t, got.Transactions, 1)
	assert.Equal(t, int64(1), got.Version)
}

func TestRegistration_ListOrderedAndFiltered(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	late := reg("a", "", t0.Add(2*time.Hour))
	early := reg("b", "", t0)
	west := reg("c", "", t0.Add(time.Hour))
	west.Region = "West Rayalaseema"
	for _, r := range []registration.Registration{late, early, west} {
		require.NoError(t, store.CreateRegistration(ctx, r))
	}

	all, err := store.ListRegistrations(ctx, registration.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	east, err := store.ListRegistrations(ctx, registration.Filter{Region: "east"})
	require.NoError(t, err)
	assert.Len(t, east, 2)
}

// =============================================================================
// FUND REQUESTS
// =============================================================================

func fundRequest(id string, created time.Time) disbursement.FundRequest {
	return disbursement.FundRequest{
		ID:                 id,
		Type:               disbursement.TypeWorkerDisbursement,
		RequestedBy:        "coord-1",
		RequesterRole:      generic.RoleCoordinator,
		Region:             "East Rayalaseema",
		Beneficiary:        "worker-7",
		Title:              "Stage crew",
		Description:        "Two days of setup",
		RequestedAmount:    generic.NewMoneyFromInt(4000),
		SupportingEvidence: []string{"quote.pdf"},
		PaymentMethod:      disbursement.PaymentMethodUPI,
		Status:             disbursement.StatusPending,
		CreatedAt:          created,
		UpdatedAt:          created,
		Version:            1,
	}
}

func TestFundRequest_RoundTripWithPayment(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.CreateFundRequest(ctx, fundRequest("f1", t0)))

	req, err := store.GetFundRequest(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, []string{"quote.pdf"}, req.SupportingEvidence)
	assert.Nil(t, req.PaidAmount)

	paidAt := t0.Add(48 * time.Hour)
	paid := generic.NewMoneyFromInt(3800)
	req.Status = disbursement.StatusPaid
	req.PaidBy = "treasurer-1"
	req.PaidAt = &paidAt
	req.PaidAmount = &paid
	req.PaymentEvidence = []string{"utr-123"}
	require.NoError(t, store.UpdateFundRequest(ctx, req))

	got, err := store.GetFundRequest(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, disbursement.StatusPaid, got.Status)
	require.NotNil(t, got.PaidAmount)
	assert.Equal(t, "3800", got.PaidAmount.String())
	require.NotNil(t, got.PaidAt)
	assert.True(t, got.PaidAt.Equal(paidAt))
	assert.Equal(t, []string{"utr-123"}, got.PaymentEvidence)
	assert.Equal(t, int64(2), got.Version)
}

func TestFundRequest_ConcurrentApprovalsOnlyOneCommits(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.CreateFundRequest(ctx, fundRequest("f1", t0)))

	stale, err := store.GetFundRequest(ctx, "f1")
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := stale.Clone()
			next.Status = disbursement.StatusApproved
			err := store.UpdateFundRequest(ctx, next)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				committed++
			case errors.Is(err, generic.ErrConcurrentModification):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, committed)
	assert.Equal(t, 7, conflicts)
}

func TestFundRequest_ListNewestFirstWithFilter(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.CreateFundRequest(ctx, fundRequest("old", t0)))
	require.NoError(t, store.CreateFundRequest(ctx, fundRequest("new", t0.Add(time.Hour))))
	other := fundRequest("west", t0.Add(2*time.Hour))
	other.Region = "West Rayalaseema"
	require.NoError(t, store.CreateFundRequest(ctx, other))

	east, err := store.ListFundRequests(ctx, disbursement.Filter{Region: "east rayalaseema"})
	require.NoError(t, err)
	require.Len(t, east, 2)
	assert.Equal(t, "new", east[0].ID)
	assert.Equal(t, "old", east[1].ID)
}

// =============================================================================
// FAILED DELIVERIES
// =============================================================================

func TestFailures_CRUD(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	f := notification.FailedDelivery{
		ID:             "d1",
		RecipientEmail: "a@example.org",
		Region:         "east",
		Template:       notification.TemplatePaymentReceipt,
		Snapshot:       map[string]string{"name": "A", "balance": "200"},
		Error:          "smtp timeout",
		Attempts:       1,
		CreatedAt:      t0,
		LastAttemptAt:  t0,
	}
	require.NoError(t, store.CreateFailure(ctx, f))

	f.Attempts = 2
	f.Error = "mailbox full"
	f.LastAttemptAt = t0.Add(time.Hour)
	require.NoError(t, store.UpdateFailure(ctx, f))

	got, err := store.GetFailure(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "mailbox full", got.Error)
	assert.Equal(t, "200", got.Snapshot["balance"])

	list, err := store.ListFailures(ctx, notification.Filter{Region: "west"})
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, store.DeleteFailure(ctx, "d1"))
	assert.True(t, generic.IsNotFound(store.DeleteFailure(ctx, "d1")))
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func TestAudit_AppendAndQueryBySubject(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	actor := generic.Actor{ID: "treasurer-1", Role: generic.RoleTreasurer}

	require.NoError(t, store.AppendAudit(ctx, generic.NewAuditEntry(t0, actor, generic.AuditRequestApproved, "f1", map[string]any{"status": "approved"})))
	require.NoError(t, store.AppendAudit(ctx, generic.NewAuditEntry(t0, actor, generic.AuditRequestPaid, "f2", nil)))
	require.NoError(t, store.AppendAudit(ctx, generic.NewAuditEntry(t0.Add(time.Minute), actor, generic.AuditRequestPaid, "f1", nil)))

	entries, err := store.QueryAudit(ctx, generic.AuditFilter{Subject: "f1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, generic.AuditRequestApproved, entries[0].Action)
	assert.Equal(t, "approved", entries[0].Payload["status"])
	assert.Equal(t, generic.RoleTreasurer, entries[0].Actor.Role)
	assert.Equal(t, generic.AuditRequestPaid, entries[1].Action)
}

func TestReset_ClearsEverything(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.CreateRegistration(ctx, reg("r1", "TX1", t0)))
	require.NoError(t, store.CreateFundRequest(ctx, fundRequest("f1", t0)))

	require.NoError(t, store.Reset(ctx))

	regs, err := store.ListRegistrations(ctx, registration.Filter{})
	require.NoError(t, err)
	assert.Empty(t, regs)
	_, ok, err := store.FindByTransaction(ctx, "TX1")
	require.NoError(t, err)
	assert.False(t, ok)
}
