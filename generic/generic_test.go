package generic_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayalaseema/regengine/generic"
)

// =============================================================================
// ERRORS
// =============================================================================

func TestError_IsMatchesKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("approve fund request: %w", generic.InvalidTransition("approve", "approved", "approved"))

	assert.True(t, errors.Is(err, generic.ErrInvalidTransition))
	assert.False(t, errors.Is(err, generic.ErrNotFound))
	assert.Equal(t, generic.KindInvalidTransition, generic.KindOf(err))
	assert.Equal(t, "approve fund request: approve: cannot move from approved to approved", err.Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, generic.Kind(""), generic.KindOf(nil))
	assert.Equal(t, generic.KindInternal, generic.KindOf(errors.New("disk full")))
	assert.Equal(t, generic.KindMissingField, generic.KindOf(generic.MissingField("submit", "title")))
}

func TestError_FieldAndMessage(t *testing.T) {
	err := generic.MissingEvidence("record payment")
	assert.Equal(t, "evidence", err.Field)
	assert.Equal(t, "record payment: at least one evidence reference is required", err.Error())

	dup := generic.DuplicateTransaction("apply payment", "UPI-1", "ER-00AA11")
	assert.Equal(t, "transaction_id", dup.Field)
	assert.Contains(t, dup.Error(), "ER-00AA11")

	bare := &generic.Error{Kind: generic.KindConflict}
	assert.Equal(t, "conflict", bare.Error())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, generic.IsRetryable(fmt.Errorf("update: %w", generic.ErrConcurrentModification)))
	assert.False(t, generic.IsRetryable(generic.ErrInvalidTransition))
}

func TestIsClientError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{generic.InvalidAmount("pay", "amount", "must be positive"), true},
		{generic.InvalidValue("submit", "type", "unknown type"), true},
		{generic.Forbidden("approve", generic.Actor{ID: "c1", Role: generic.RoleCoordinator}), true},
		{generic.ErrDuplicateTransaction, true},
		{generic.NotFound("get", "registration", "r1"), false},
		{generic.ErrConcurrentModification, false},
		{errors.New("boom"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, generic.IsClientError(tt.err), tt.err.Error())
	}
}

// =============================================================================
// MONEY
// =============================================================================

func TestParseMoney(t *testing.T) {
	m, err := generic.ParseMoney(" 1250.50 ")
	require.NoError(t, err)
	assert.Equal(t, "1250.5", m.String())
	assert.Equal(t, generic.CurrencyINR, m.Currency)

	for _, raw := range []string{"", "  ", "12,50", "abc"} {
		_, err := generic.ParseMoney(raw)
		assert.True(t, errors.Is(err, generic.ErrInvalidAmount), "input %q", raw)
	}

	assert.True(t, generic.MustParseMoney("oops").IsZero())
}

func TestMoney_Arithmetic(t *testing.T) {
	due := generic.NewMoneyFromInt(2500)
	paid := generic.NewMoney(1000.25)

	assert.Equal(t, "1499.75", due.Sub(paid).String())
	assert.Equal(t, "1250", due.Mul(decimal.NewFromFloat(0.5)).String())
	assert.True(t, paid.Sub(due).IsNegative())
	assert.True(t, paid.Sub(due).ClampZero().IsZero())
	assert.True(t, due.GreaterThan(paid))
	assert.True(t, paid.LessThan(due))
	assert.True(t, due.Equal(generic.MustParseMoney("2500.00")))
	assert.InDelta(t, 1000.25, paid.Float64(), 0.0001)

	// Zero-value money picks up the default currency on arithmetic
	var zero generic.Money
	assert.Equal(t, generic.DefaultCurrency, zero.Add(paid).Currency)
}

// =============================================================================
// ACTORS
// =============================================================================

func TestParseRole(t *testing.T) {
	r, ok := generic.ParseRole("  Treasurer ")
	assert.True(t, ok)
	assert.Equal(t, generic.RoleTreasurer, r)

	r, ok = generic.ParseRole("Treasurer-Proxy")
	assert.True(t, ok)
	assert.Equal(t, generic.RoleTreasurerProxy, r)

	_, ok = generic.ParseRole("overlord")
	assert.False(t, ok)
}

func TestActor_HasRole(t *testing.T) {
	a := generic.Actor{ID: "t1", Role: generic.RoleTreasurer}

	assert.True(t, a.HasRole(nil), "empty list allows every role")
	assert.True(t, a.HasRole([]generic.Role{generic.RoleAdmin, generic.RoleTreasurer}))
	assert.False(t, a.HasRole([]generic.Role{generic.RoleAdmin}))
	assert.Equal(t, "t1(treasurer)", a.String())
	assert.Equal(t, "t1", generic.Actor{ID: "t1"}.String())
	assert.True(t, generic.Actor{}.IsZero())
}

// =============================================================================
// CLOCK / AUDIT
// =============================================================================

func TestFixedClock(t *testing.T) {
	start := generic.Date(2025, time.January, 12)
	c := generic.NewFixedClock(start)

	assert.Equal(t, start, c.Now())
	c.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), c.Now())
}

func TestAuditFilter_Matches(t *testing.T) {
	at := generic.Date(2025, time.March, 1)
	e := generic.NewAuditEntry(at, generic.SystemActor, generic.AuditPaymentApplied, "reg-1", nil)
	require.NotEmpty(t, e.ID)

	assert.True(t, generic.AuditFilter{}.Matches(e))
	assert.True(t, generic.AuditFilter{Subject: "reg-1", ActorID: "system"}.Matches(e))
	assert.False(t, generic.AuditFilter{Subject: "reg-2"}.Matches(e))
	assert.True(t, generic.AuditFilter{Actions: []generic.AuditAction{generic.AuditRegistrationReviewed, generic.AuditPaymentApplied}}.Matches(e))
	assert.False(t, generic.AuditFilter{Actions: []generic.AuditAction{generic.AuditRequestPaid}}.Matches(e))

	before := at.Add(-time.Hour)
	after := at.Add(time.Hour)
	assert.True(t, generic.AuditFilter{From: &before, To: &after}.Matches(e))
	assert.False(t, generic.AuditFilter{From: &after}.Matches(e))
}
