package registration

import (
	"sort"
	"strings"
)

// =============================================================================
// DEDUPLICATION - first seen wins, keyed by transaction ID
// =============================================================================

// Duplicate describes a record dropped because an earlier record carried the
// same transaction ID. It is an informational outcome, not an error.
type Duplicate struct {
	TransactionID string
	KeptID        string
	DroppedID     string
}

// Dedupe collapses records sharing a transaction ID, keeping the first one in
// input order. Records without a transaction ID are always kept. The input is
// not modified.
//
// "First" is whatever order the caller passes in. Use SortForDedupe when it
// should mean "earliest created".
func Dedupe(records []Registration) []Registration {
	out, _ := DedupeWithReport(records)
	return out
}

// DedupeWithReport is Dedupe that also reports what was dropped.
func DedupeWithReport(records []Registration) ([]Registration, []Duplicate) {
	out := make([]Registration, 0, len(records))
	var dropped []Duplicate
	owner := make(map[string]string, len(records))

	for _, r := range records {
		tx := strings.TrimSpace(r.TransactionID)
		if tx == "" {
			out = append(out, r)
			continue
		}
		if kept, ok := owner[tx]; ok {
			dropped = append(dropped, Duplicate{TransactionID: tx, KeptID: kept, DroppedID: r.ID})
			continue
		}
		owner[tx] = r.ID
		out = append(out, r)
	}
	return out, dropped
}

// SortForDedupe returns a copy of records ordered by CreatedAt, then ID.
func SortForDedupe(records []Registration) []Registration {
	out := make([]Registration, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
