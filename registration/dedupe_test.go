package registration_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayalaseema/regengine/registration"
)

func withTx(id, tx string, created time.Time) registration.Registration {
	return registration.Registration{ID: id, TransactionID: tx, CreatedAt: created}
}

func ids(records []registration.Registration) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestDedupe_FirstSeenWins(t *testing.T) {
	records := []registration.Registration{
		withTx("a", "TX1", d1),
		withTx("b", "TX2", d1),
		withTx("c", "TX1", d2),
		withTx("d", " TX2", d2),
	}

	kept, dropped := registration.DedupeWithReport(records)

	assert.Equal(t, []string{"a", "b"}, ids(kept))
	require.Len(t, dropped, 2)
	assert.Equal(t, registration.Duplicate{TransactionID: "TX1", KeptID: "a", DroppedID: "c"}, dropped[0])
	assert.Equal(t, "b", dropped[1].KeptID)
}

func TestDedupe_EmptyTransactionIDsAreNeverCollapsed(t *testing.T) {
	records := []registration.Registration{
		withTx("a", "", d1),
		withTx("b", "  ", d1),
		withTx("c", "", d2),
	}

	assert.Equal(t, []string{"a", "b", "c"}, ids(registration.Dedupe(records)))
}

func TestDedupe_Idempotent(t *testing.T) {
	sets := [][]registration.Registration{
		nil,
		{withTx("a", "TX1", d1)},
		{withTx("a", "TX1", d1), withTx("b", "TX1", d1), withTx("c", "", d1)},
		{withTx("a", "TX3", d2), withTx("b", "TX2", d1), withTx("c", "TX3", d1), withTx("d", "TX2", d2), withTx("e", "", d2)},
	}

	for _, records := range sets {
		once := registration.Dedupe(records)
		twice := registration.Dedupe(once)
		assert.Equal(t, ids(once), ids(twice))
	}
}

func TestDedupe_DoesNotModifyInput(t *testing.T) {
	records := []registration.Registration{withTx("a", "TX1", d1), withTx("b", "TX1", d2)}

	registration.Dedupe(records)

	assert.Equal(t, []string{"a", "b"}, ids(records))
}

func TestSortForDedupe_EarliestCreatedWins(t *testing.T) {
	records := []registration.Registration{
		withTx("late", "TX1", d2),
		withTx("early", "TX1", d1),
	}

	kept := registration.Dedupe(registration.SortForDedupe(records))

	assert.Equal(t, []string{"early"}, ids(kept))
	assert.Equal(t, "late", records[0].ID, "input order unchanged")
}

func TestSortForDedupe_TiesBrokenByID(t *testing.T) {
	records := []registration.Registration{withTx("b", "", d1), withTx("a", "", d1)}

	assert.Equal(t, []string{"a", "b"}, ids(registration.SortForDedupe(records)))
}
