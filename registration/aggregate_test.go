package registration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayalaseema/regengine/pricing"
	"github.com/rayalaseema/regengine/registration"
)

func attendee(district, groupType, gender string, family int) registration.Registration {
	return registration.Registration{
		Region:             "East Rayalaseema",
		District:           district,
		GroupType:          groupType,
		Gender:             gender,
		TotalFamilyMembers: family,
	}
}

func TestAggregate_DistrictPeopleAndCategoryGender(t *testing.T) {
	records := []registration.Registration{
		attendee("A", "Family", "", 4),
		attendee("A", "Students", "female", 0),
		attendee("B", "Students", "male", 0),
	}

	byDistrict := registration.NewAggregator(nil).Aggregate(records, registration.GroupByDistrict)

	require.Contains(t, byDistrict, "A")
	require.Contains(t, byDistrict, "B")
	assert.Equal(t, 5, byDistrict["A"].TotalPeople)
	assert.Equal(t, 2, byDistrict["A"].Count)
	assert.Equal(t, 1, byDistrict["B"].TotalPeople)

	byCategory := registration.NewAggregator(nil).Aggregate(records, registration.GroupByCategory)
	students := byCategory[string(pricing.CategoryStudents)]
	assert.Equal(t, 1, students.GenderCounts[registration.GenderFemale])
	assert.Equal(t, 1, students.GenderCounts[registration.GenderMale])
}

func TestAggregate_BlankValuesGoToUnknown(t *testing.T) {
	records := []registration.Registration{
		attendee("", "", "", 0),
		attendee("  ", "Students", "other", 0),
	}
	records[0].Region = ""

	a := registration.NewAggregator(nil)

	assert.Equal(t, 2, a.Aggregate(records, registration.GroupByDistrict)[registration.UnknownKey].Count)
	assert.Equal(t, 2, a.Aggregate(records, registration.GroupByGender)[registration.UnknownKey].Count)
	assert.Equal(t, 1, a.Aggregate(records, registration.GroupByCategory)[registration.UnknownKey].Count)
	assert.Equal(t, 1, a.Aggregate(records, registration.GroupByRegion)[registration.UnknownKey].Count)
}

func TestAggregate_EveryRecordLandsInOneBucket(t *testing.T) {
	records := []registration.Registration{
		attendee("A", "Family", "Female", 3),
		attendee("B", "Volunteers", "Male", 0),
		attendee("", "Unemployed graduate", "", 0),
	}

	for _, g := range []registration.GroupBy{
		registration.GroupByRegion, registration.GroupByDistrict, registration.GroupByPlace,
		registration.GroupByCategory, registration.GroupByGender,
	} {
		total := 0
		for _, ru := range registration.NewAggregator(nil).Aggregate(records, g) {
			total += ru.Count
		}
		assert.Equal(t, len(records), total, string(g))
	}
}

func TestAggregate_MoneyTotals(t *testing.T) {
	l := registration.NewLedger(nil)
	paid, err := l.ApplyPayment(attendee("A", "Students", "Female", 0), inr(600), "TX1", d1)
	require.NoError(t, err)
	unpaid := attendee("A", "Employed graduate", "Male", 0)
	unpriced := attendee("A", "Guest", "Male", 0)

	totals := registration.NewAggregator(l).Totals([]registration.Registration{paid, unpaid, unpriced})

	assert.Equal(t, "1500", totals.TotalDue.String())
	assert.Equal(t, "600", totals.TotalPaid.String())
	assert.Equal(t, "1000", totals.TotalBalance.String())
	assert.Equal(t, 2, totals.Confirmed) // the student and the unpriced guest
	assert.Equal(t, 1, totals.Unpriced)
}

func TestNormalizeGender_FemaleBeforeMale(t *testing.T) {
	cases := map[string]registration.Gender{
		"Female": registration.GenderFemale,
		"FEMALE": registration.GenderFemale,
		"male":   registration.GenderMale,
		" Male ": registration.GenderMale,
		"":       registration.GenderUnknown,
		"other":  registration.GenderUnknown,
	}
	for raw, want := range cases {
		assert.Equal(t, want, registration.NormalizeGender(raw), raw)
	}
}

func TestPeopleCount(t *testing.T) {
	assert.Equal(t, 4, registration.PeopleCount(attendee("A", "Family", "", 4)))
	assert.Equal(t, 0, registration.PeopleCount(attendee("A", "Family", "", 0)))
	assert.Equal(t, 1, registration.PeopleCount(attendee("A", "Students", "", 7)))
}

func TestParseGroupBy(t *testing.T) {
	g, ok := registration.ParseGroupBy(" District ")
	assert.True(t, ok)
	assert.Equal(t, registration.GroupByDistrict, g)

	_, ok = registration.ParseGroupBy("shoe-size")
	assert.False(t, ok)
}
