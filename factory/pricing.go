/*
Package factory provides JSON to Go price-list conversion.

PURPOSE:
  Converts a JSON price list into a validated pricing.Table. Organisers can
  change registration fees without a code change: the server loads the file
  named by PRICING_FILE at startup.

JSON SCHEMA:
  {
    "currency": "INR",
    "regions": {
      "east": {
        "family": 2000,
        "family_with_spouse": 2500,
        "employed": 1000,
        "unemployed_or_student": 500,
        "children": 500,
        "volunteer": 200
      },
      "west": { ... }
    }
  }

  Region keys go through pricing.NormalizeRegion, so "East Rayalaseema" works
  too. Tier keys must be one of pricing.Tiers. Prices are decimal numbers or
  decimal strings ("1250.50").

VALIDATION:
  - at least one region
  - every region key must normalize to a known region
  - every tier key must be a known tier
  - prices must be >= 0

A tier left out of a region is not an error: registrants in that tier price
at 0 with OutcomeUnclassifiedCategory, which reports surface.

SEE ALSO:
  - pricing/table.go: built-in default list
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rayalaseema/regengine/generic"
	"github.com/rayalaseema/regengine/pricing"
	"github.com/shopspring/decimal"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PriceListJSON is the JSON representation of a price list.
type PriceListJSON struct {
	Currency string                                `json:"currency,omitempty"`
	Regions  map[string]map[string]decimal.Decimal `json:"regions"`
}

// =============================================================================
// PRICE LIST FACTORY
// =============================================================================

// ParsePriceList parses a JSON string into a pricing.Table.
func ParsePriceList(jsonStr string) (pricing.Table, error) {
	var pj PriceListJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return pricing.Table{}, fmt.Errorf("failed to parse price list JSON: %w", err)
	}
	return FromJSON(pj)
}

// LoadPriceList reads and parses a price list file.
func LoadPriceList(path string) (pricing.Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return pricing.Table{}, fmt.Errorf("failed to read price list %s: %w", path, err)
	}
	return ParsePriceList(string(raw))
}

// FromJSON converts PriceListJSON to a pricing.Table.
func FromJSON(pj PriceListJSON) (pricing.Table, error) {
	if len(pj.Regions) == 0 {
		return pricing.Table{}, fmt.Errorf("price list has no regions")
	}

	currency := generic.DefaultCurrency
	if c := strings.TrimSpace(pj.Currency); c != "" {
		currency = generic.Currency(strings.ToUpper(c))
	}

	table := pricing.Table{
		Currency: currency,
		Regions:  make(map[pricing.Region]map[pricing.Tier]generic.Money),
	}

	for regionKey, tiers := range pj.Regions {
		region := pricing.NormalizeRegion(regionKey)
		if region == pricing.RegionUnknown {
			return pricing.Table{}, fmt.Errorf("unknown region %q", regionKey)
		}
		if _, dup := table.Regions[region]; dup {
			return pricing.Table{}, fmt.Errorf("region %q defined twice", region)
		}

		prices := make(map[pricing.Tier]generic.Money, len(tiers))
		for tierKey, value := range tiers {
			tier, err := parseTier(tierKey)
			if err != nil {
				return pricing.Table{}, fmt.Errorf("region %q: %w", regionKey, err)
			}
			if value.IsNegative() {
				return pricing.Table{}, fmt.Errorf("region %q tier %q: negative price %s", regionKey, tierKey, value)
			}
			prices[tier] = generic.Money{Value: value, Currency: currency}
		}
		table.Regions[region] = prices
	}

	return table, nil
}

// ToJSON renders a table back to its JSON form (used by GET /api/pricing).
func ToJSON(t pricing.Table) PriceListJSON {
	pj := PriceListJSON{
		Currency: string(t.Currency),
		Regions:  make(map[string]map[string]decimal.Decimal, len(t.Regions)),
	}
	for region, tiers := range t.Regions {
		out := make(map[string]decimal.Decimal, len(tiers))
		for tier, price := range tiers {
			out[string(tier)] = price.Value
		}
		pj.Regions[string(region)] = out
	}
	return pj
}

func parseTier(s string) (pricing.Tier, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, t := range pricing.Tiers {
		if string(t) == key {
			return t, nil
		}
	}
	return pricing.TierNone, fmt.Errorf("unknown tier %q", s)
}
