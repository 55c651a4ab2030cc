package registration_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayalaseema/regengine/generic"
	"github.com/rayalaseema/regengine/pricing"
	"github.com/rayalaseema/regengine/registration"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	d1 = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	d2 = time.Date(2025, 1, 12, 9, 0, 0, 0, time.UTC)
)

func inr(v int64) generic.Money { return generic.NewMoneyFromInt(v) }

func eastFamily(spouse string) registration.Registration {
	return registration.Registration{
		ID:              "r1",
		Name:            "Family Attendee",
		Region:          "East Rayalaseema",
		GroupType:       "Family",
		MaritalStatus:   "Married - Attending with Family",
		SpouseAttending: spouse,
		AmountPaid:      generic.ZeroMoney(),
	}
}

// =============================================================================
// APPLY PAYMENT
// =============================================================================

func TestApplyPayment_Accumulates(t *testing.T) {
	l := registration.NewLedger(nil)
	r := eastFamily("Yes")

	r, err := l.ApplyPayment(r, inr(100), "TX1", d1)
	require.NoError(t, err)
	r, err = l.ApplyPayment(r, inr(50), "TX2", d2)
	require.NoError(t, err)

	assert.Equal(t, "150", r.AmountPaid.String())
	require.Len(t, r.Transactions, 2)
	assert.Equal(t, "TX1", r.Transactions[0].TransactionID)
	assert.Equal(t, "TX2", r.Transactions[1].TransactionID)
	assert.True(t, r.Transactions[1].Date.Equal(d2))
}

func TestApplyPayment_DoesNotModifyInput(t *testing.T) {
	l := registration.NewLedger(nil)
	r := eastFamily("Yes")

	_, err := l.ApplyPayment(r, inr(100), "TX1", d1)
	require.NoError(t, err)

	assert.Empty(t, r.Transactions)
	assert.True(t, r.AmountPaid.IsZero())
}

func TestApplyPayment_NonPositiveIsInvalidAmount(t *testing.T) {
	l := registration.NewLedger(nil)

	for _, amount := range []generic.Money{inr(0), inr(-10)} {
		_, err := l.ApplyPayment(eastFamily("No"), amount, "TX1", d1)
		assert.Equal(t, generic.KindInvalidAmount, generic.KindOf(err), amount.String())
	}
}

func TestApplyPayment_RepeatedTransactionIDIsNotCountedTwice(t *testing.T) {
	l := registration.NewLedger(nil)
	r, err := l.ApplyPayment(eastFamily("No"), inr(100), "TX1", d1)
	require.NoError(t, err)

	again, err := l.ApplyPayment(r, inr(100), " TX1 ", d2)
	require.NoError(t, err)
	assert.Equal(t, "100", again.AmountPaid.String())
	assert.Len(t, again.Transactions, 1)
}

func TestApplyPayment_EmptyTransactionIDsAlwaysApply(t *testing.T) {
	l := registration.NewLedger(nil)
	r, _ := l.ApplyPayment(eastFamily("No"), inr(100), "", d1)
	r, _ = l.ApplyPayment(r, inr(100), "", d2)

	assert.Equal(t, "200", r.AmountPaid.String())
	assert.Len(t, r.Transactions, 2)
}

// =============================================================================
// BALANCE
// =============================================================================

func TestBalanceOf_NeverNegative(t *testing.T) {
	l := registration.NewLedger(nil)
	r := eastFamily("No") // 2000 due

	for i, amount := range []int64{700, 700, 700, 5000} {
		var err error
		r, err = l.ApplyPayment(r, inr(amount), "", d1.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)

		b := l.BalanceOf(r)
		assert.False(t, b.Balance.IsNegative(), "balance after payment %d", i)
	}

	b := l.BalanceOf(r)
	assert.Equal(t, "2000", b.TotalDue.String())
	assert.Equal(t, "7100", b.Paid.String())
	assert.True(t, b.Balance.IsZero())
}

func TestBalanceOf_UsesSpouseTier(t *testing.T) {
	l := registration.NewLedger(nil)

	withSpouse := l.BalanceOf(eastFamily("yes, attending"))
	without := l.BalanceOf(eastFamily("No"))

	assert.Equal(t, "2500", withSpouse.TotalDue.String())
	assert.Equal(t, pricing.TierFamilyWithSpouse, withSpouse.Quote.Tier)
	assert.Equal(t, "2000", without.TotalDue.String())
}

func TestBalanceOf_UnknownRegionIsZeroAndFlagged(t *testing.T) {
	l := registration.NewLedger(nil)
	r := eastFamily("No")
	r.Region = "Atlantis"

	b := l.BalanceOf(r)
	assert.True(t, b.TotalDue.IsZero())
	assert.False(t, b.Quote.Priced())
	assert.Equal(t, pricing.OutcomeUnknownRegion, b.Quote.Outcome)
}

// =============================================================================
// MINIMUM PAYMENT
// =============================================================================

func TestIsMinimumSatisfied_HalfOfTotal(t *testing.T) {
	l := registration.NewLedger(nil)
	r := eastFamily("No") // 2000 due, minimum 1000

	r, _ = l.ApplyPayment(r, inr(999), "TX1", d1)
	assert.False(t, l.IsMinimumSatisfied(r))

	r, _ = l.ApplyPayment(r, inr(1), "TX2", d2)
	assert.True(t, l.IsMinimumSatisfied(r))
}

func TestIsMinimumSatisfied_NothingDue(t *testing.T) {
	l := registration.NewLedger(nil)
	r := eastFamily("No")
	r.GroupType = "Something else"

	assert.True(t, l.IsMinimumSatisfied(r))
}

func TestIsMinimumSatisfied_CustomRatio(t *testing.T) {
	l := registration.NewLedger(nil)
	l.MinimumRatio = decimal.NewFromInt(1)
	r, _ := l.ApplyPayment(eastFamily("No"), inr(1500), "TX1", d1)

	assert.False(t, l.IsMinimumSatisfied(r))
}

func TestIsMinimumSatisfied_ZeroRatioUsesDefault(t *testing.T) {
	// GIVEN: A ledger built as a literal, without a ratio
	l := &registration.Ledger{Pricer: pricing.DefaultTable()}

	// WHEN: A quarter of the 2000 due is paid
	r, _ := l.ApplyPayment(eastFamily("No"), inr(500), "TX1", d1)

	// THEN: The default 50% minimum still applies
	assert.False(t, l.IsMinimumSatisfied(r))
	r, _ = l.ApplyPayment(r, inr(500), "TX2", d2)
	assert.True(t, l.IsMinimumSatisfied(r))
}
