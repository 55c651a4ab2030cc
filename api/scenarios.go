/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	conference data. Every scenario goes through the same services the API
	uses, so audit entries, metrics and notifications are produced exactly
	as they would be for real traffic.

AVAILABLE SCENARIOS:

	conference:             East/West registrations and fund requests in every state
	payment-reconciliation: Partial payments, top-ups and duplicate submissions
	disbursements:          Fund requests only, one per workflow state

HOW SCENARIOS WORK:
 1. Reset database (clear all data) and drop cached reports
 2. Submit registrations as their registrants
 3. Apply top-ups and reviews as coordinators
 4. Drive fund requests through the workflow as the roles that own each step

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "conference"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: the services the loaders drive
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rayalaseema/regengine/disbursement"
	"github.com/rayalaseema/regengine/generic"
	"github.com/rayalaseema/regengine/registration"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "conference",
		Name:        "Regional Conference",
		Description: "East and West registrations with payments, a duplicate submission, an undeliverable email and fund requests in every state",
		Category:    "full",
	},
	{
		ID:          "payment-reconciliation",
		Name:        "Payment Reconciliation",
		Description: "Partial payments below the minimum, top-ups, repeated transaction IDs and an unpriced region",
		Category:    "registration",
	},
	{
		ID:          "disbursements",
		Name:        "Disbursements",
		Description: "Fund requests pending, approved, rejected, paid and received",
		Category:    "disbursement",
	},
}

// Scenario actors.
var (
	coordinatorEast = generic.Actor{ID: "coord-east", Role: generic.RoleCoordinator}
	convenerWest    = generic.Actor{ID: "lac-west", Role: generic.RoleLACConvener}
	treasurer       = generic.Actor{ID: "treasurer", Role: generic.RoleTreasurer}
	treasurerProxy  = generic.Actor{ID: "treasurer-proxy-east", Role: generic.RoleTreasurerProxy}
	workerKiran     = generic.Actor{ID: "worker-kiran", Role: generic.RoleWorker}
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "conference":
		load = h.loadConferenceScenario
	case "payment-reconciliation":
		load = h.loadPaymentReconciliationScenario
	case "disbursements":
		load = h.loadDisbursementsScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears every table.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.Registrations.InvalidateReports(ctx)

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// LOADERS
// =============================================================================

// loadConferenceScenario seeds both regions and every fund-request state.
func (h *Handler) loadConferenceScenario(ctx context.Context) error {
	ravi, err := h.seedRegistration(ctx, registration.Registration{
		Name:               "Ravi Kumar",
		Email:              "ravi.kumar@example.org",
		Phone:              "9848000001",
		Region:             "East Rayalaseema",
		District:           "Visakhapatnam",
		Place:              "Gajuwaka",
		GroupType:          "Family",
		Gender:             "Male",
		MaritalStatus:      "Married",
		SpouseAttending:    "Yes",
		TotalFamilyMembers: 4,
		TransactionID:      "UPI-E-1001",
		AmountPaid:         generic.NewMoneyFromInt(1500),
	})
	if err != nil {
		return err
	}
	if _, err := h.Registrations.ApplyPayment(ctx, coordinatorEast, ravi.ID, generic.NewMoneyFromInt(1000), "UPI-E-1002", ravi.CreatedAt); err != nil {
		return fmt.Errorf("top up %s: %w", ravi.UniqueID, err)
	}
	if _, err := h.Registrations.Review(ctx, coordinatorEast, ravi.ID, registration.StatusApproved, "paid in full"); err != nil {
		return fmt.Errorf("approve %s: %w", ravi.UniqueID, err)
	}

	lakshmi := registration.Registration{
		Name:          "Lakshmi Devi",
		Email:         "lakshmi.devi@example.org",
		Region:        "East Rayalaseema",
		District:      "Srikakulam",
		Place:         "Palasa",
		GroupType:     "Single Graduate - Employed",
		Gender:        "Female",
		MaritalStatus: "Single",
		TransactionID: "UPI-E-1003",
		AmountPaid:    generic.NewMoneyFromInt(400),
	}
	if _, err := h.seedRegistration(ctx, lakshmi); err != nil {
		return err
	}
	// The form was submitted twice with the same payment.
	if _, err := h.seedRegistration(ctx, lakshmi); err != nil {
		return err
	}

	if _, err := h.seedRegistration(ctx, registration.Registration{
		Name:          "Anil Varma",
		Email:         "anil.varma.at.example.org", // undeliverable
		Region:        "East Rayalaseema",
		District:      "Visakhapatnam",
		Place:         "MVP Colony",
		GroupType:     "Students",
		Gender:        "Male",
		TransactionID: "UPI-E-1004",
		AmountPaid:    generic.NewMoneyFromInt(500),
	}); err != nil {
		return err
	}

	if _, err := h.seedRegistration(ctx, registration.Registration{
		Name:      "Sunitha Rao",
		Region:    "East Rayalaseema",
		District:  "Vizianagaram",
		GroupType: "Volunteers",
		Gender:    "Female",
	}); err != nil {
		return err
	}

	if _, err := h.seedRegistration(ctx, registration.Registration{
		Name:          "Suresh Reddy",
		Email:         "suresh.reddy@example.org",
		Region:        "West Rayalaseema",
		District:      "Anantapur",
		Place:         "Hindupur",
		GroupType:     "Graduate Children (15+)",
		Gender:        "Male",
		TransactionID: "UPI-W-2001",
		AmountPaid:    generic.NewMoneyFromInt(250),
	}); err != nil {
		return err
	}

	if _, err := h.seedRegistration(ctx, registration.Registration{
		Name:          "Priya Naidu",
		Email:         "priya.naidu@example.org",
		Region:        "West Rayalaseema",
		District:      "Kurnool",
		Place:         "Nandyal",
		GroupType:     "Single Graduate - Unemployed",
		Gender:        "Female",
		TransactionID: "UPI-W-2002",
		AmountPaid:    generic.NewMoneyFromInt(500),
	}); err != nil {
		return err
	}

	kadapa, err := h.seedRegistration(ctx, registration.Registration{
		Name:               "Venkata Ramana",
		Email:              "venkata.ramana@example.org",
		Region:             "West Rayalaseema",
		District:           "Kadapa",
		Place:              "Proddatur",
		GroupType:          "Family",
		Gender:             "Male",
		MaritalStatus:      "Married",
		SpouseAttending:    "No",
		TotalFamilyMembers: 3,
		TransactionID:      "UPI-W-2003",
		AmountPaid:         generic.NewMoneyFromInt(1000),
	})
	if err != nil {
		return err
	}
	if _, err := h.Registrations.Review(ctx, convenerWest, kadapa.ID, registration.StatusRejected, "duplicate of paper registration"); err != nil {
		return fmt.Errorf("reject %s: %w", kadapa.UniqueID, err)
	}

	return h.loadDisbursementsScenario(ctx)
}

// loadPaymentReconciliationScenario exercises the ledger edge cases.
func (h *Handler) loadPaymentReconciliationScenario(ctx context.Context) error {
	below, err := h.seedRegistration(ctx, registration.Registration{
		Name:          "Harsha Vardhan",
		Email:         "harsha@example.org",
		Region:        "West",
		District:      "Chittoor",
		GroupType:     "Single Graduate - Employed",
		Gender:        "Male",
		TransactionID: "NEFT-3001",
		AmountPaid:    generic.NewMoneyFromInt(300),
	})
	if err != nil {
		return err
	}
	// Top-up sent twice: the second is a no-op.
	for i := 0; i < 2; i++ {
		if _, err := h.Registrations.ApplyPayment(ctx, convenerWest, below.ID, generic.NewMoneyFromInt(200), "NEFT-3002", below.CreatedAt); err != nil {
			return fmt.Errorf("top up %s: %w", below.UniqueID, err)
		}
	}

	if _, err := h.seedRegistration(ctx, registration.Registration{
		Name:               "Kavitha Family",
		Email:              "kavitha@example.org",
		Region:             "East",
		District:           "Srikakulam",
		GroupType:          "Family",
		Gender:             "Female",
		MaritalStatus:      "Married",
		SpouseAttending:    "yes, attending",
		TotalFamilyMembers: 5,
		TransactionID:      "NEFT-3003",
		AmountPaid:         generic.NewMoneyFromInt(3000), // overpaid: balance stays 0
	}); err != nil {
		return err
	}

	dup := registration.Registration{
		Name:          "Mohan Das",
		Region:        "East",
		District:      "Visakhapatnam",
		GroupType:     "Students",
		Gender:        "Male",
		TransactionID: "NEFT-3004",
		AmountPaid:    generic.NewMoneyFromInt(500),
	}
	for i := 0; i < 3; i++ {
		if _, err := h.seedRegistration(ctx, dup); err != nil {
			return err
		}
	}

	_, err = h.seedRegistration(ctx, registration.Registration{
		Name:      "Unmapped Region",
		Region:    "North Coastal",
		District:  "Unknown",
		GroupType: "Students",
	})
	return err
}

// loadDisbursementsScenario seeds one fund request per workflow state.
func (h *Handler) loadDisbursementsScenario(ctx context.Context) error {
	d := h.Disbursements

	pending := disbursement.SubmitInput{
		Region:        "West",
		Title:         "Sound system rental",
		Description:   "Two-day rental for the main hall",
		Amount:        generic.NewMoneyFromInt(18000),
		Evidence:      []string{"quotes/sound-west.pdf"},
		PaymentMethod: disbursement.PaymentMethodBankTransfer,
	}
	if _, err := d.Submit(ctx, convenerWest, pending); err != nil {
		return fmt.Errorf("submit %q: %w", pending.Title, err)
	}

	venue, err := d.Submit(ctx, coordinatorEast, disbursement.SubmitInput{
		Region:        "East",
		Title:         "Venue deposit",
		Description:   "Advance for the convention centre",
		Amount:        generic.NewMoneyFromInt(25000),
		Evidence:      []string{"quotes/venue-east.pdf"},
		PaymentMethod: disbursement.PaymentMethodBankTransfer,
	})
	if err != nil {
		return fmt.Errorf("submit venue deposit: %w", err)
	}
	if _, err := d.Approve(ctx, venue.ID, treasurer); err != nil {
		return fmt.Errorf("approve venue deposit: %w", err)
	}
	if _, err := d.RecordPayment(ctx, venue.ID, treasurer, disbursement.PaymentInput{
		Amount:   generic.NewMoneyFromInt(25000),
		Note:     "NEFT ref 884120",
		Evidence: []string{"receipts/venue-east-neft.png"},
	}); err != nil {
		return fmt.Errorf("pay venue deposit: %w", err)
	}

	catering, err := d.Submit(ctx, coordinatorEast, disbursement.SubmitInput{
		Region:      "East",
		Title:       "Catering advance",
		Description: "Day one lunch",
		Amount:      generic.NewMoneyFromInt(12000),
	})
	if err != nil {
		return fmt.Errorf("submit catering advance: %w", err)
	}
	if _, err := d.Approve(ctx, catering.ID, treasurer); err != nil {
		return fmt.Errorf("approve catering advance: %w", err)
	}

	banners, err := d.Submit(ctx, convenerWest, disbursement.SubmitInput{
		Region:      "West",
		Title:       "Printing banners",
		Description: "Flex banners for the entrance",
		Amount:      generic.NewMoneyFromInt(4000),
	})
	if err != nil {
		return fmt.Errorf("submit printing banners: %w", err)
	}
	if _, err := d.Reject(ctx, banners.ID, treasurer, "covered by sponsor"); err != nil {
		return fmt.Errorf("reject printing banners: %w", err)
	}

	travel, err := d.Submit(ctx, treasurerProxy, disbursement.SubmitInput{
		Type:          disbursement.TypeWorkerDisbursement,
		Region:        "East",
		Title:         "Volunteer travel",
		Description:   "Bus fare for registration desk volunteers",
		Amount:        generic.NewMoneyFromInt(1500),
		PaymentMethod: disbursement.PaymentMethodCash,
		Beneficiary:   workerKiran.ID,
	})
	if err != nil {
		return fmt.Errorf("submit volunteer travel: %w", err)
	}
	if _, err := d.Approve(ctx, travel.ID, treasurer); err != nil {
		return fmt.Errorf("approve volunteer travel: %w", err)
	}
	if _, err := d.RecordPayment(ctx, travel.ID, treasurerProxy, disbursement.PaymentInput{
		Amount:   generic.NewMoneyFromInt(1500),
		Note:     "handed over at the desk",
		Evidence: []string{"receipts/travel-signed.jpg"},
	}); err != nil {
		return fmt.Errorf("pay volunteer travel: %w", err)
	}
	if _, err := d.ConfirmReceipt(ctx, travel.ID, workerKiran); err != nil {
		return fmt.Errorf("confirm volunteer travel: %w", err)
	}
	return nil
}

// seedRegistration submits reg as its own registrant.
func (h *Handler) seedRegistration(ctx context.Context, reg registration.Registration) (registration.View, error) {
	registrant := generic.Actor{ID: reg.Email, Role: generic.RoleRegistrant}
	if registrant.ID == "" {
		registrant.ID = anonymousActorID
	}
	res, err := h.Registrations.Submit(ctx, registrant, reg)
	if err != nil {
		return registration.View{}, fmt.Errorf("submit %s: %w", reg.Name, err)
	}
	return res.View, nil
}
