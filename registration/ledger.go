/*
ledger.go - Per-registrant running balance

PURPOSE:
  Accumulates payments onto a registration and derives what is still owed.
  Nothing derived is stored: total due comes from the price list on every
  read, so a price-list change is reflected immediately.

RULES:
  - A payment must be positive (KindInvalidAmount otherwise).
  - Payments accumulate: amountPaid += amount. They model top-ups and
    partial payments, never replacement.
  - A transaction ID already on the registration is not applied again.
  - Balance is floored at zero. Overpayment is accepted but never reported
    as negative debt.
  - "Confirmed" means amountPaid >= MinimumRatio x totalDue. The ledger
    exposes the check but never blocks a payment below it. A zero
    MinimumRatio means DefaultMinimumRatio.

SEE ALSO:
  - service.go: store-backed ApplyPayment with concurrency retries
  - aggregate.go: sums BalanceOf across records
*/
package registration

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rayalaseema/regengine/generic"
	"github.com/rayalaseema/regengine/pricing"
)

// DefaultMinimumRatio is the share of the total that confirms a registration.
var DefaultMinimumRatio = decimal.NewFromFloat(0.5)

// Balance is the derived money view of a registration.
type Balance struct {
	TotalDue generic.Money
	Paid     generic.Money
	Balance  generic.Money
	Quote    pricing.Quote
}

// Ledger applies payments and derives balances.
type Ledger struct {
	Pricer       pricing.Pricer
	MinimumRatio decimal.Decimal
}

// NewLedger returns a ledger over p with the default 50% minimum.
// A nil pricer uses pricing.DefaultTable.
func NewLedger(p pricing.Pricer) *Ledger {
	if p == nil {
		p = pricing.DefaultTable()
	}
	return &Ledger{Pricer: p, MinimumRatio: DefaultMinimumRatio}
}

func (l *Ledger) pricer() pricing.Pricer {
	if l == nil || l.Pricer == nil {
		return pricing.DefaultTable()
	}
	return l.Pricer
}

// ApplyPayment returns reg with the payment appended. reg is not modified.
func (l *Ledger) ApplyPayment(reg Registration, amount generic.Money, transactionID string, date time.Time) (Registration, error) {
	if !amount.IsPositive() {
		return Registration{}, generic.InvalidAmount("apply payment", "amount", "payment amount must be greater than zero")
	}

	out := reg.Clone()
	transactionID = strings.TrimSpace(transactionID)
	if transactionID != "" {
		for _, p := range reg.Transactions {
			if p.TransactionID == transactionID {
				return out, nil
			}
		}
	}

	paid := out.AmountPaid
	if paid.Currency == "" {
		paid = generic.ZeroMoney()
	}
	out.Transactions = append(out.Transactions, Payment{
		Amount:        amount,
		TransactionID: transactionID,
		Date:          date,
	})
	out.AmountPaid = paid.Add(amount)
	return out, nil
}

// BalanceOf derives totals for reg. Pure.
func (l *Ledger) BalanceOf(reg Registration) Balance {
	q := l.pricer().Quote(reg.Region, reg.GroupType, reg.MaritalStatus, reg.SpouseAttending)
	paid := reg.AmountPaid
	if paid.Currency == "" {
		paid = generic.ZeroMoney()
	}
	return Balance{
		TotalDue: q.Amount,
		Paid:     paid,
		Balance:  q.Amount.Sub(paid).ClampZero(),
		Quote:    q,
	}
}

// IsMinimumSatisfied reports whether enough has been paid to confirm reg.
// A registration with nothing due is satisfied.
func (l *Ledger) IsMinimumSatisfied(reg Registration) bool {
	b := l.BalanceOf(reg)
	if b.TotalDue.IsZero() {
		return true
	}
	ratio := DefaultMinimumRatio
	if l != nil && !l.MinimumRatio.IsZero() {
		ratio = l.MinimumRatio
	}
	return b.Paid.GreaterThanOrEqual(b.TotalDue.Mul(ratio))
}
