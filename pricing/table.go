package pricing

import "github.com/rayalaseema/regengine/generic"

// =============================================================================
// DEFAULT PRICE LIST
// =============================================================================

// DefaultTable returns the built-in price list. Deployments can replace it
// with a JSON price list (see factory.ParsePriceList).
//
//	             East   West
//	family       2000   2000
//	+ spouse     2500   -
//	employed     1000   1000
//	unemp/stud    500    500
//	children      500    500
//	volunteer     200    250
func DefaultTable() Table {
	return Table{
		Currency: generic.CurrencyINR,
		Regions: map[Region]map[Tier]generic.Money{
			RegionEast: {
				TierFamily:              generic.NewMoneyFromInt(2000),
				TierFamilyWithSpouse:    generic.NewMoneyFromInt(2500),
				TierEmployed:            generic.NewMoneyFromInt(1000),
				TierUnemployedOrStudent: generic.NewMoneyFromInt(500),
				TierChildren:            generic.NewMoneyFromInt(500),
				TierVolunteer:           generic.NewMoneyFromInt(200),
			},
			RegionWest: {
				TierFamily:              generic.NewMoneyFromInt(2000),
				TierEmployed:            generic.NewMoneyFromInt(1000),
				TierUnemployedOrStudent: generic.NewMoneyFromInt(500),
				TierChildren:            generic.NewMoneyFromInt(500),
				TierVolunteer:           generic.NewMoneyFromInt(250),
			},
		},
	}
}
