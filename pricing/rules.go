/*
Package pricing decides how much a registrant owes.

PURPOSE:
  One authoritative implementation of the registration price list. The
  amount due depends on the registrant's region and group type, and for
  families in regions that price it, on whether the spouse attends.

LOOKUP:
  1. Region is normalized ("East Rayalaseema" -> East).
  2. GroupType is classified into one of six categories by case-insensitive
     substring rules, evaluated in a fixed order (first match wins):

        "family"                      -> Family
        "employed" but not "unemployed" -> SingleGraduateEmployed
        "unemployed"                  -> SingleGraduateUnemployed
        "student"                     -> Students
        "children" or "15+"           -> GraduateChildren15Plus
        "volunteer"                   -> Volunteers

  3. The category maps to a price tier. Unemployed graduates and students
     share a tier.
  4. Family in a region that defines a family_with_spouse price uses it when
     spouseAttending contains "yes".

NO RULE:
  An unknown region or unclassified group type prices at 0. That is a normal
  outcome, not an error, and Quote.Outcome says which rule was missing so
  reports can flag it.

SEE ALSO:
  - table.go: default price list
  - factory/pricing.go: loading a price list from JSON
  - registration/aggregate.go: reuses ClassifyCategory for reports
*/
package pricing

import (
	"strings"

	"github.com/rayalaseema/regengine/generic"
)

// =============================================================================
// REGIONS
// =============================================================================

type Region string

const (
	RegionEast    Region = "east"
	RegionWest    Region = "west"
	RegionUnknown Region = "unknown"
)

// NormalizeRegion maps a raw region label to a Region.
func NormalizeRegion(raw string) Region {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(s, "east"):
		return RegionEast
	case strings.Contains(s, "west"):
		return RegionWest
	}
	return RegionUnknown
}

// Code is the short prefix used in human-facing registration codes.
func (r Region) Code() string {
	switch r {
	case RegionEast:
		return "ER"
	case RegionWest:
		return "WR"
	}
	return "XX"
}

// Label is the display name.
func (r Region) Label() string {
	switch r {
	case RegionEast:
		return "East Rayalaseema"
	case RegionWest:
		return "West Rayalaseema"
	}
	return "Unknown"
}

// =============================================================================
// CATEGORIES
// =============================================================================

type Category string

const (
	CategoryFamily                   Category = "Family"
	CategorySingleGraduateEmployed   Category = "SingleGraduateEmployed"
	CategorySingleGraduateUnemployed Category = "SingleGraduateUnemployed"
	CategoryGraduateChildren15Plus   Category = "GraduateChildren15Plus"
	CategoryStudents                 Category = "Students"
	CategoryVolunteers               Category = "Volunteers"
	CategoryUnknown                  Category = "Unknown"
)

// Categories lists the canonical categories in report order.
var Categories = []Category{
	CategoryFamily,
	CategorySingleGraduateEmployed,
	CategorySingleGraduateUnemployed,
	CategoryGraduateChildren15Plus,
	CategoryStudents,
	CategoryVolunteers,
}

// ClassifyCategory maps a raw group type to a canonical category.
// Rule order matters: "unemployed" contains "employed".
func ClassifyCategory(groupType string) Category {
	s := strings.ToLower(strings.TrimSpace(groupType))
	switch {
	case s == "":
		return CategoryUnknown
	case strings.Contains(s, "family"):
		return CategoryFamily
	case strings.Contains(s, "employed") && !strings.Contains(s, "unemployed"):
		return CategorySingleGraduateEmployed
	case strings.Contains(s, "unemployed"):
		return CategorySingleGraduateUnemployed
	case strings.Contains(s, "student"):
		return CategoryStudents
	case strings.Contains(s, "children") || strings.Contains(s, "15+"):
		return CategoryGraduateChildren15Plus
	case strings.Contains(s, "volunteer"):
		return CategoryVolunteers
	}
	return CategoryUnknown
}

// =============================================================================
// TIERS
// =============================================================================

// Tier is a row of the price list.
type Tier string

const (
	TierFamily              Tier = "family"
	TierFamilyWithSpouse    Tier = "family_with_spouse"
	TierEmployed            Tier = "employed"
	TierUnemployedOrStudent Tier = "unemployed_or_student"
	TierChildren            Tier = "children"
	TierVolunteer           Tier = "volunteer"
	TierNone                Tier = ""
)

// Tiers lists every tier a price list may define.
var Tiers = []Tier{
	TierFamily,
	TierFamilyWithSpouse,
	TierEmployed,
	TierUnemployedOrStudent,
	TierChildren,
	TierVolunteer,
}

// TierFor returns the base tier for a category.
func TierFor(c Category) Tier {
	switch c {
	case CategoryFamily:
		return TierFamily
	case CategorySingleGraduateEmployed:
		return TierEmployed
	case CategorySingleGraduateUnemployed, CategoryStudents:
		return TierUnemployedOrStudent
	case CategoryGraduateChildren15Plus:
		return TierChildren
	case CategoryVolunteers:
		return TierVolunteer
	}
	return TierNone
}

// SpouseAttending interprets the raw spouse-attending answer.
func SpouseAttending(raw string) bool {
	return strings.Contains(strings.ToLower(raw), "yes")
}

// =============================================================================
// TABLE
// =============================================================================

// Table is the two-level price list: region, then tier.
type Table struct {
	Currency generic.Currency
	Regions  map[Region]map[Tier]generic.Money
}

// Outcome says whether a rule matched.
type Outcome string

const (
	OutcomePriced               Outcome = "priced"
	OutcomeUnknownRegion        Outcome = "unknown_region"
	OutcomeUnclassifiedCategory Outcome = "unclassified_category"
)

// Quote is a priced lookup with the classification that produced it.
type Quote struct {
	Amount        generic.Money
	Region        Region
	Category      Category
	Tier          Tier
	MaritalStatus string
	Outcome       Outcome
}

// Priced reports whether a price-list rule matched.
func (q Quote) Priced() bool { return q.Outcome == OutcomePriced }

// Quote evaluates the price list. It never fails.
func (t Table) Quote(region, groupType, maritalStatus, spouseAttending string) Quote {
	q := Quote{
		Amount:        t.zero(),
		Region:        NormalizeRegion(region),
		Category:      ClassifyCategory(groupType),
		MaritalStatus: maritalStatus,
	}

	prices, ok := t.Regions[q.Region]
	if !ok || q.Region == RegionUnknown {
		q.Outcome = OutcomeUnknownRegion
		return q
	}

	q.Tier = TierFor(q.Category)
	if q.Tier == TierFamily && SpouseAttending(spouseAttending) {
		if _, ok := prices[TierFamilyWithSpouse]; ok {
			q.Tier = TierFamilyWithSpouse
		}
	}

	amount, ok := prices[q.Tier]
	if q.Tier == TierNone || !ok {
		q.Outcome = OutcomeUnclassifiedCategory
		return q
	}

	q.Amount = amount
	q.Outcome = OutcomePriced
	return q
}

// AmountDue is Quote without the classification details.
func (t Table) AmountDue(region, groupType, maritalStatus, spouseAttending string) generic.Money {
	return t.Quote(region, groupType, maritalStatus, spouseAttending).Amount
}

func (t Table) zero() generic.Money {
	z := generic.ZeroMoney()
	if t.Currency != "" {
		z.Currency = t.Currency
	}
	return z
}

// Pricer is what the ledger needs from a price list.
type Pricer interface {
	Quote(region, groupType, maritalStatus, spouseAttending string) Quote
}

var _ Pricer = Table{}
