/*
Package generic provides the domain-agnostic primitives shared by the
registration, disbursement and notification packages.

PURPOSE:
  Money handling, actor identity, typed errors and the audit trail are the
  same no matter whether we are reconciling a registrant's payments or moving
  a fund request through approval. They live here so every domain package
  agrees on precision, error kinds and audit shape.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount with a currency (e.g., 2500 INR)
  - Actor: Who is performing an action (opaque ID + role)
  - Role: The closed set of roles the workflows know about

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Explicit actors: Every mutating call receives an Actor value. Nothing is
     read from ambient session state.
  3. Auditability: Every state change is recorded with its actor (audit.go)

USAGE:
  fee := generic.NewMoneyFromInt(2500)
  paid := generic.NewMoneyFromInt(1000)
  owed := fee.Sub(paid).ClampZero()

SEE ALSO:
  - errors.go: Error kinds returned by every domain contract
  - audit.go: Append-only audit log
*/
package generic

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount with currency
// =============================================================================

type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

type Currency string

const (
	CurrencyINR Currency = "INR"

	DefaultCurrency = CurrencyINR
)

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value), Currency: DefaultCurrency}
}

func NewMoneyFromInt(value int64) Money {
	return Money{Value: decimal.NewFromInt(value), Currency: DefaultCurrency}
}

func NewMoneyFromDecimal(value decimal.Decimal) Money {
	return Money{Value: value, Currency: DefaultCurrency}
}

func ZeroMoney() Money { return Money{Value: decimal.Zero, Currency: DefaultCurrency} }

// ParseMoney parses a decimal string such as "1250.50".
// Blank or malformed input is an InvalidAmount error.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, &Error{Kind: KindInvalidAmount, Op: "parse money", Message: "amount is required"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, &Error{Kind: KindInvalidAmount, Op: "parse money", Message: fmt.Sprintf("malformed amount %q", s), Err: err}
	}
	return NewMoneyFromDecimal(d), nil
}

// MustParseMoney is ParseMoney for literals. Malformed input yields zero.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		return ZeroMoney()
	}
	return m
}

func (m Money) currency() Currency {
	if m.Currency == "" {
		return DefaultCurrency
	}
	return m.Currency
}

func (m Money) Add(o Money) Money { return Money{Value: m.Value.Add(o.Value), Currency: m.currency()} }
func (m Money) Sub(o Money) Money { return Money{Value: m.Value.Sub(o.Value), Currency: m.currency()} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s), Currency: m.currency()} }
func (m Money) IsNegative() bool { return m.Value.IsNegative() }
func (m Money) IsZero() bool { return m.Value.IsZero() }
func (m Money) IsPositive() bool { return m.Value.IsPositive() }
func (m Money) GreaterThan(o Money) bool { return m.Value.GreaterThan(o.Value) }
func (m Money) GreaterThanOrEqual(o Money) bool { return m.Value.GreaterThanOrEqual(o.Value) }
func (m Money) LessThan(o Money) bool { return m.Value.LessThan(o.Value) }
func (m Money) Equal(o Money) bool { return m.Value.Equal(o.Value) }

// ClampZero floors the amount at zero. Balances are never reported as
// negative debt.
func (m Money) ClampZero() Money {
	if m.Value.IsNegative() {
		return Money{Value: decimal.Zero, Currency: m.currency()}
	}
	return m
}

// String renders the bare decimal ("2500", "1250.5").
func (m Money) String() string { return m.Value.String() }

// Float64 is for presentation layers (JSON DTOs, metrics) only.
func (m Money) Float64() float64 { return m.Value.InexactFloat64() }

// =============================================================================
// ACTORS
// =============================================================================

// Role is the role an actor holds when invoking a workflow operation.
// Roles are supplied by an external identity collaborator and only recorded
// and checked against workflow policy here, never authenticated.
type Role string

const (
	RoleCoordinator    Role = "coordinator"
	RoleLACConvener    Role = "lac_convener"
	RoleTreasurerProxy Role = "treasurer-proxy"
	RoleTreasurer      Role = "treasurer"
	RoleAdmin          Role = "admin"
	RoleWorker         Role = "worker"
	RoleRegistrant     Role = "registrant"
	RoleSystem         Role = "system"
)

var knownRoles = map[Role]bool{
	RoleCoordinator:    true,
	RoleLACConvener:    true,
	RoleTreasurerProxy: true,
	RoleTreasurer:      true,
	RoleAdmin:          true,
	RoleWorker:         true,
	RoleRegistrant:     true,
	RoleSystem:         true,
}

// ParseRole normalizes a role string. Unknown roles are returned as-is with
// ok=false so callers can decide whether to reject them.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, knownRoles[r]
}

// Actor identifies who performed an action.
type Actor struct {
	ID   string
	Role Role
}

// SystemActor is used for automated actions (scenario seeding, scheduled jobs).
var SystemActor = Actor{ID: "system", Role: RoleSystem}

func (a Actor) IsZero() bool { return a.ID == "" }

// HasRole reports whether the actor holds one of roles. An empty list allows
// every role.
func (a Actor) HasRole(roles []Role) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

func (a Actor) String() string {
	if a.Role == "" {
		return a.ID
	}
	return fmt.Sprintf("%s(%s)", a.ID, a.Role)
}
