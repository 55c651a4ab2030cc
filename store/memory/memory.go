// Package memory provides an in-memory Store implementation for tests and
// local development. It implements registration.Store, disbursement.Store,
// notification.Store and generic.AuditLog with the same semantics as the
// SQLite store: versioned updates, transaction-ID ownership and an
// append-only audit log.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rayalaseema/regengine/disbursement"
	"github.com/rayalaseema/regengine/generic"
	"github.com/rayalaseema/regengine/notification"
	"github.com/rayalaseema/regengine/registration"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Store struct {
	mu            sync.RWMutex
	registrations map[string]registration.Registration
	txOwner       map[string]string // transaction ID -> registration ID
	requests      map[string]disbursement.FundRequest
	failures      map[string]notification.FailedDelivery
	audit         []generic.AuditEntry
}

func New() *Store {
	return &Store{
		registrations: make(map[string]registration.Registration),
		txOwner:       make(map[string]string),
		requests:      make(map[string]disbursement.FundRequest),
		failures:      make(map[string]notification.FailedDelivery),
	}
}

var (
	_ registration.Store = (*Store)(nil)
	_ disbursement.Store = (*Store)(nil)
	_ notification.Store = (*Store)(nil)
	_ generic.AuditLog   = (*Store)(nil)
)

// Reset drops all data.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations = make(map[string]registration.Registration)
	s.txOwner = make(map[string]string)
	s.requests = make(map[string]disbursement.FundRequest)
	s.failures = make(map[string]notification.FailedDelivery)
	s.audit = nil
}

// =============================================================================
// REGISTRATIONS
// =============================================================================

func (s *Store) CreateRegistration(_ context.Context, r registration.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.registrations[r.ID]; exists {
		return &generic.Error{Kind: generic.KindConflict, Op: "create registration", Message: "registration " + r.ID + " already exists"}
	}
	if err := s.checkTxOwnershipLocked("create registration", r); err != nil {
		return err
	}
	if r.Version == 0 {
		r.Version = 1
	}
	s.registrations[r.ID] = r.Clone()
	s.claimTxLocked(r)
	return nil
}

func (s *Store) GetRegistration(_ context.Context, id string) (registration.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.registrations[id]
	if !ok {
		return registration.Registration{}, generic.NotFound("get registration", "registration", id)
	}
	return r.Clone(), nil
}

func (s *Store) FindByTransaction(_ context.Context, txID string) (registration.Registration, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.txOwner[strings.TrimSpace(txID)]
	if !ok {
		return registration.Registration{}, false, nil
	}
	return s.registrations[id].Clone(), true, nil
}

func (s *Store) UpdateRegistration(_ context.Context, r registration.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.registrations[r.ID]
	if !ok {
		return generic.NotFound("update registration", "registration", r.ID)
	}
	if current.Version != r.Version {
		return generic.ErrConcurrentModification
	}
	if err := s.checkTxOwnershipLocked("update registration", r); err != nil {
		return err
	}
	r.Version++
	s.registrations[r.ID] = r.Clone()
	s.claimTxLocked(r)
	return nil
}

func (s *Store) ListRegistrations(_ context.Context, filter registration.Filter) ([]registration.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]registration.Registration, 0, len(s.registrations))
	for _, r := range s.registrations {
		if filter.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	return registration.SortForDedupe(out), nil
}

func (s *Store) checkTxOwnershipLocked(op string, r registration.Registration) error {
	for _, tx := range r.TransactionIDs() {
		if owner, ok := s.txOwner[tx]; ok && owner != r.ID {
			return generic.DuplicateTransaction(op, tx, owner)
		}
	}
	return nil
}

func (s *Store) claimTxLocked(r registration.Registration) {
	for _, tx := range r.TransactionIDs() {
		s.txOwner[tx] = r.ID
	}
}

// =============================================================================
// FUND REQUESTS
// =============================================================================

func (s *Store) CreateFundRequest(_ context.Context, r disbursement.FundRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[r.ID]; exists {
		return &generic.Error{Kind: generic.KindConflict, Op: "create fund request", Message: "fund request " + r.ID + " already exists"}
	}
	if r.Version == 0 {
		r.Version = 1
	}
	s.requests[r.ID] = r.Clone()
	return nil
}

func (s *Store) GetFundRequest(_ context.Context, id string) (disbursement.FundRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return disbursement.FundRequest{}, generic.NotFound("get fund request", "fund request", id)
	}
	return r.Clone(), nil
}

func (s *Store) UpdateFundRequest(_ context.Context, r disbursement.FundRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[r.ID]
	if !ok {
		return generic.NotFound("update fund request", "fund request", r.ID)
	}
	if current.Version != r.Version {
		return generic.ErrConcurrentModification
	}
	r.Version++
	s.requests[r.ID] = r.Clone()
	return nil
}

func (s *Store) ListFundRequests(_ context.Context, filter disbursement.Filter) ([]disbursement.FundRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]disbursement.FundRequest, 0, len(s.requests))
	for _, r := range s.requests {
		if filter.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// FAILED DELIVERIES
// =============================================================================

func (s *Store) CreateFailure(_ context.Context, f notification.FailedDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[f.ID] = cloneFailure(f)
	return nil
}

func (s *Store) GetFailure(_ context.Context, id string) (notification.FailedDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.failures[id]
	if !ok {
		return notification.FailedDelivery{}, generic.NotFound("get failure", "failed delivery", id)
	}
	return cloneFailure(f), nil
}

func (s *Store) ListFailures(_ context.Context, filter notification.Filter) ([]notification.FailedDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]notification.FailedDelivery, 0, len(s.failures))
	for _, f := range s.failures {
		if filter.Matches(f) {
			out = append(out, cloneFailure(f))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateFailure(_ context.Context, f notification.FailedDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.failures[f.ID]; !ok {
		return generic.NotFound("update failure", "failed delivery", f.ID)
	}
	s.failures[f.ID] = cloneFailure(f)
	return nil
}

func (s *Store) DeleteFailure(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.failures[id]; !ok {
		return generic.NotFound("delete failure", "failed delivery", id)
	}
	delete(s.failures, id)
	return nil
}

func cloneFailure(f notification.FailedDelivery) notification.FailedDelivery {
	if f.Snapshot != nil {
		snap := make(map[string]string, len(f.Snapshot))
		for k, v := range f.Snapshot {
			snap[k] = v
		}
		f.Snapshot = snap
	}
	return f
}

// =============================================================================
// AUDIT LOG - append-only
// =============================================================================

func (s *Store) AppendAudit(_ context.Context, entry generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

// QueryAudit returns matching entries in append order.
func (s *Store) QueryAudit(_ context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []generic.AuditEntry
	for _, e := range s.audit {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}
