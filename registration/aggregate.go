/*
aggregate.go - Statistics and attendance roll-ups

PURPOSE:
  Groups registrations by region, district, place, category or gender and
  produces counts and money sums for statistics pages, event-day
  verification and attendance reports.

TWO POPULATIONS:
  Count is the number of registrations. TotalPeople is the number of people
  attending: a Family registration counts TotalFamilyMembers people, every
  other category counts 1. Both are always reported and never conflated.

NORMALIZATION:
  - Category reuses pricing.ClassifyCategory; no match -> "Unknown".
  - Gender is case-insensitive; "female" is checked before "male" because
    "female" contains "male".
  - Blank grouping values go to the "Unknown" bucket. No record is dropped.

Aggregation is total: messy input produces Unknown buckets, never errors.
*/
package registration

import (
	"strings"

	"github.com/rayalaseema/regengine/generic"
	"github.com/rayalaseema/regengine/pricing"
)

// UnknownKey is the bucket for blank or unrecognized values.
const UnknownKey = "Unknown"

// =============================================================================
// GROUPING
// =============================================================================

type GroupBy string

const (
	GroupByRegion   GroupBy = "region"
	GroupByDistrict GroupBy = "district"
	GroupByPlace    GroupBy = "place"
	GroupByCategory GroupBy = "category"
	GroupByGender   GroupBy = "gender"
)

// ParseGroupBy accepts a grouping name, case-insensitively.
func ParseGroupBy(s string) (GroupBy, bool) {
	g := GroupBy(strings.ToLower(strings.TrimSpace(s)))
	switch g {
	case GroupByRegion, GroupByDistrict, GroupByPlace, GroupByCategory, GroupByGender:
		return g, true
	}
	return "", false
}

type Gender string

const (
	GenderFemale  Gender = "Female"
	GenderMale    Gender = "Male"
	GenderUnknown Gender = UnknownKey
)

// NormalizeGender maps a raw gender answer. Order matters.
func NormalizeGender(raw string) Gender {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(s, "female"):
		return GenderFemale
	case strings.Contains(s, "male"):
		return GenderMale
	}
	return GenderUnknown
}

// PeopleCount is the number of attending people a registration represents.
func PeopleCount(r Registration) int {
	if r.Category() == pricing.CategoryFamily {
		if r.TotalFamilyMembers < 0 {
			return 0
		}
		return r.TotalFamilyMembers
	}
	return 1
}

// GroupKey returns the bucket r falls into for g.
func GroupKey(r Registration, g GroupBy) string {
	switch g {
	case GroupByRegion:
		region := r.NormalizedRegion()
		if region == pricing.RegionUnknown {
			return UnknownKey
		}
		return region.Label()
	case GroupByDistrict:
		return orUnknown(r.District)
	case GroupByPlace:
		return orUnknown(r.Place)
	case GroupByCategory:
		return string(r.Category())
	case GroupByGender:
		return string(NormalizeGender(r.Gender))
	}
	return UnknownKey
}

func orUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return UnknownKey
	}
	return s
}

// =============================================================================
// ROLL-UP
// =============================================================================

// RollUp is the summary of one bucket.
type RollUp struct {
	Count                int
	TotalPeople          int
	GenderCounts         map[Gender]int
	CategoryCounts       map[pricing.Category]int
	CategoryGenderCounts map[pricing.Category]map[Gender]int
	TotalDue             generic.Money
	TotalPaid            generic.Money
	TotalBalance         generic.Money
	Confirmed            int // minimum payment satisfied
	Unpriced             int // no price-list rule matched
}

func newRollUp() RollUp {
	return RollUp{
		GenderCounts:         map[Gender]int{},
		CategoryCounts:       map[pricing.Category]int{},
		CategoryGenderCounts: map[pricing.Category]map[Gender]int{},
		TotalDue:             generic.ZeroMoney(),
		TotalPaid:            generic.ZeroMoney(),
		TotalBalance:         generic.ZeroMoney(),
	}
}

// Aggregator produces ledger-enriched roll-ups.
type Aggregator struct {
	ledger *Ledger
}

// NewAggregator uses l for balances. A nil ledger uses the default price list.
func NewAggregator(l *Ledger) *Aggregator {
	if l == nil {
		l = NewLedger(nil)
	}
	return &Aggregator{ledger: l}
}

// Aggregate groups records by g. Every record lands in exactly one bucket.
func (a *Aggregator) Aggregate(records []Registration, g GroupBy) map[string]RollUp {
	out := make(map[string]RollUp)
	for _, r := range records {
		key := GroupKey(r, g)
		ru, ok := out[key]
		if !ok {
			ru = newRollUp()
		}
		a.add(&ru, r)
		out[key] = ru
	}
	return out
}

// Totals is the roll-up of all records together.
func (a *Aggregator) Totals(records []Registration) RollUp {
	ru := newRollUp()
	for _, r := range records {
		a.add(&ru, r)
	}
	return ru
}

func (a *Aggregator) add(ru *RollUp, r Registration) {
	category := r.Category()
	gender := NormalizeGender(r.Gender)

	ru.Count++
	ru.TotalPeople += PeopleCount(r)
	ru.GenderCounts[gender]++
	ru.CategoryCounts[category]++
	if ru.CategoryGenderCounts[category] == nil {
		ru.CategoryGenderCounts[category] = map[Gender]int{}
	}
	ru.CategoryGenderCounts[category][gender]++

	b := a.ledger.BalanceOf(r)
	ru.TotalDue = ru.TotalDue.Add(b.TotalDue)
	ru.TotalPaid = ru.TotalPaid.Add(b.Paid)
	ru.TotalBalance = ru.TotalBalance.Add(b.Balance)
	if !b.Quote.Priced() {
		ru.Unpriced++
	}
	if a.ledger.IsMinimumSatisfied(r) {
		ru.Confirmed++
	}
}
