/*
Package registration reconciles attendee registrations with their payments.

PURPOSE:
  One authoritative place for everything the registration screens used to
  compute on their own: who owes what, who has paid enough to be confirmed,
  which submissions are the same registration sent twice, and the roll-ups
  used for statistics and event-day verification.

KEY CONCEPTS:
  Registration: One attendee (or family) registration with its payments
  Payment:      One accepted payment {amount, transactionId, date}
  Ledger:       Applies payments and derives balances from the price list
  Dedupe:       Collapses submissions sharing a transaction ID
  Aggregator:   Count and money roll-ups by region/district/place/category/gender
  Service:      Store-backed submit, pay and review with audit and notification

DERIVED, NEVER STORED:
  totalAmountDue = pricing(region, groupType, maritalStatus, spouseAttending)
  balance        = max(0, totalAmountDue - amountPaid)

TRANSACTION IDS:
  A non-empty transaction ID belongs to at most one registration. A second
  submission carrying a known ID is the same registration and is never
  counted twice.

SEE ALSO:
  - pricing/rules.go: the price list
  - store/sqlite/sqlite.go: registrations and payments tables
*/
package registration

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rayalaseema/regengine/generic"
	"github.com/rayalaseema/regengine/pricing"
)

// =============================================================================
// STATUS
// =============================================================================

// Status is a review flag. Registrations are never deleted.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Payment is one accepted payment. Payments are append-only.
type Payment struct {
	Amount        generic.Money
	TransactionID string
	Date          time.Time
}

type Registration struct {
	ID       string // storage-owned
	UniqueID string // human-facing code, unique per region

	Name  string
	Email string
	Phone string

	Region             string
	District           string
	Place              string
	GroupType          string
	Gender             string
	MaritalStatus      string
	SpouseAttending    string // raw form answer, see SpouseIsAttending
	TotalFamilyMembers int

	TransactionID string // business key of the original submission
	AmountPaid    generic.Money
	Transactions  []Payment

	Status     Status
	ReviewedBy string
	ReviewedAt *time.Time
	ReviewNote string

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// SpouseIsAttending interprets the raw answer the way pricing does.
func (r Registration) SpouseIsAttending() bool {
	return pricing.SpouseAttending(r.SpouseAttending)
}

// NormalizedRegion is the pricing region of the raw region label.
func (r Registration) NormalizedRegion() pricing.Region {
	return pricing.NormalizeRegion(r.Region)
}

// Category is the canonical category of the raw group type.
func (r Registration) Category() pricing.Category {
	return pricing.ClassifyCategory(r.GroupType)
}

// HasTransaction reports whether txID is already recorded on r.
func (r Registration) HasTransaction(txID string) bool {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return false
	}
	if strings.TrimSpace(r.TransactionID) == txID {
		return true
	}
	for _, p := range r.Transactions {
		if p.TransactionID == txID {
			return true
		}
	}
	return false
}

// TransactionIDs returns every non-empty transaction ID on r.
func (r Registration) TransactionIDs() []string {
	var ids []string
	seen := map[string]bool{}
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	add(r.TransactionID)
	for _, p := range r.Transactions {
		add(p.TransactionID)
	}
	return ids
}

// Clone returns a copy that shares no slices with r.
func (r Registration) Clone() Registration {
	out := r
	if r.Transactions != nil {
		out.Transactions = make([]Payment, len(r.Transactions))
		copy(out.Transactions, r.Transactions)
	}
	if r.ReviewedAt != nil {
		t := *r.ReviewedAt
		out.ReviewedAt = &t
	}
	return out
}

// ParseFamilyMembers parses the free-text family size. Missing or
// unparseable input counts as 0.
func ParseFamilyMembers(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// NewUniqueID builds a human-facing code such as "ER-3F9A1C".
func NewUniqueID(region string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return pricing.NormalizeRegion(region).Code() + "-" + strings.ToUpper(id[:6])
}

// =============================================================================
// STORE
// =============================================================================

// Filter selects registrations. Zero fields match everything.
type Filter struct {
	Region   pricing.Region
	District string
	Status   Status
}

func (f Filter) Matches(r Registration) bool {
	if f.Region != "" && r.NormalizedRegion() != f.Region {
		return false
	}
	if f.District != "" && !strings.EqualFold(strings.TrimSpace(r.District), strings.TrimSpace(f.District)) {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// Store persists registrations.
//
// UpdateRegistration is optimistic: it succeeds only when the stored Version
// equals r.Version, stores r with Version+1, and otherwise returns
// generic.ErrConcurrentModification. Both writes reject a transaction ID
// already owned by a different registration with KindDuplicateTransaction.
type Store interface {
	CreateRegistration(ctx context.Context, r Registration) error
	GetRegistration(ctx context.Context, id string) (Registration, error)
	// FindByTransaction returns the registration owning txID, if any.
	FindByTransaction(ctx context.Context, txID string) (Registration, bool, error)
	UpdateRegistration(ctx context.Context, r Registration) error
	// ListRegistrations returns matches ordered by CreatedAt, then ID.
	ListRegistrations(ctx context.Context, filter Filter) ([]Registration, error)
}
