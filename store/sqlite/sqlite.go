/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Durable state for registrations, their payments, fund requests, failed
  notification deliveries and the audit log. SQLite is the sole arbiter of
  state: services load fresh on every call and write back through the
  versioned updates below.

INTERFACES IMPLEMENTED:
  registration.Store:  Registrations, payments, transaction-ID ownership
  disbursement.Store:  Fund requests
  notification.Store:  Failed deliveries
  generic.AuditLog:    Append-only audit trail

KEY TABLES:
  registrations:     One row per registration (version column)
  payments:          Append-only payments, ordered by seq per registration
  transaction_ids:   Which registration owns each transaction ID (PK)
  fund_requests:     Workflow state (version column)
  delivery_failures: Failed notifications awaiting follow-up
  audit_log:         Who did what when (append-only)

READ-MODIFY-WRITE:
  Updates run inside a database transaction as

    UPDATE ... SET ..., version = version + 1 WHERE id = ? AND version = ?

  Zero affected rows means someone else committed first:
  generic.ErrConcurrentModification is returned and the service reloads.
  Transaction-ID ownership is checked and claimed in the same transaction,
  so two registrations can never share a transaction ID.

APPEND-ONLY:
  payments and audit_log are never updated or deleted (Reset aside).

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, plus WAL mode so readers don't block.

USAGE:
  store, err := sqlite.New("./data/regengine.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - store/memory/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/rayalaseema/regengine/disbursement"
	"github.com/rayalaseema/regengine/generic"
	"github.com/rayalaseema/regengine/notification"
	"github.com/rayalaseema/regengine/registration"
)

// timeLayout is fixed-width so text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ registration.Store = (*Store)(nil)
	_ disbursement.Store = (*Store)(nil)
	_ notification.Store = (*Store)(nil)
	_ generic.AuditLog   = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Registrations (status-flagged, never deleted)
	CREATE TABLE IF NOT EXISTS registrations (
		id TEXT PRIMARY KEY,
		unique_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		phone TEXT,
		region TEXT NOT NULL,
		district TEXT,
		place TEXT,
		group_type TEXT NOT NULL,
		gender TEXT,
		marital_status TEXT,
		spouse_attending TEXT,
		total_family_members INTEGER NOT NULL DEFAULT 0,
		transaction_id TEXT,
		amount_paid TEXT NOT NULL DEFAULT '0',
		currency TEXT NOT NULL DEFAULT 'INR',
		status TEXT NOT NULL DEFAULT 'pending',
		reviewed_by TEXT,
		reviewed_at TEXT,
		review_note TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_registrations_unique_id
		ON registrations(region, unique_id);
	CREATE INDEX IF NOT EXISTS idx_registrations_status
		ON registrations(status);
	CREATE INDEX IF NOT EXISTS idx_registrations_created
		ON registrations(created_at, id);

	-- Payments (append-only)
	CREATE TABLE IF NOT EXISTS payments (
		registration_id TEXT NOT NULL REFERENCES registrations(id),
		seq INTEGER NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		transaction_id TEXT,
		paid_on TEXT NOT NULL,
		PRIMARY KEY (registration_id, seq)
	);

	-- CRITICAL: a transaction ID belongs to exactly one registration
	CREATE TABLE IF NOT EXISTS transaction_ids (
		transaction_id TEXT PRIMARY KEY,
		registration_id TEXT NOT NULL REFERENCES registrations(id)
	);

	-- Fund requests (disbursement workflow)
	CREATE TABLE IF NOT EXISTS fund_requests (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		requested_by TEXT NOT NULL,
		requester_role TEXT,
		region TEXT NOT NULL,
		beneficiary TEXT,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		requested_amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		supporting_evidence_json TEXT,
		payment_method TEXT NOT NULL DEFAULT 'unspecified',
		status TEXT NOT NULL DEFAULT 'pending',
		approved_by TEXT,
		approved_at TEXT,
		rejected_by TEXT,
		rejected_at TEXT,
		rejection_reason TEXT,
		paid_by TEXT,
		paid_at TEXT,
		paid_amount TEXT,
		payment_note TEXT,
		payment_evidence_json TEXT,
		received_by TEXT,
		received_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_fund_requests_status
		ON fund_requests(status);
	CREATE INDEX IF NOT EXISTS idx_fund_requests_created
		ON fund_requests(created_at DESC);

	-- Failed notification deliveries
	CREATE TABLE IF NOT EXISTS delivery_failures (
		id TEXT PRIMARY KEY,
		recipient_email TEXT NOT NULL,
		region TEXT,
		template TEXT NOT NULL,
		snapshot_json TEXT,
		error TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		last_attempt_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_delivery_failures_region
		ON delivery_failures(region, created_at DESC);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		timestamp TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		actor_role TEXT,
		action TEXT NOT NULL,
		subject TEXT,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_subject
		ON audit_log(subject);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// REGISTRATION STORE (registration.Store interface)
// =============================================================================

const registrationColumns = `id, unique_id, name, email, phone, region, district, place, group_type,
	gender, marital_status, spouse_attending, total_family_members, transaction_id,
	amount_paid, currency, status, reviewed_by, reviewed_at, review_note,
	created_at, updated_at, version`

// CreateRegistration inserts r with its payments and claims its transaction IDs.
func (s *Store) CreateRegistration(ctx context.Context, r registration.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Version == 0 {
		r.Version = 1
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO registrations (`+registrationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.UniqueID, r.Name, r.Email, r.Phone, r.Region, r.District, r.Place, r.GroupType,
		r.Gender, r.MaritalStatus, r.SpouseAttending, r.TotalFamilyMembers, nullString(r.TransactionID),
		r.AmountPaid.Value.String(), currencyOf(r.AmountPaid), string(r.Status),
		nullString(r.ReviewedBy), nullTime(r.ReviewedAt), nullString(r.ReviewNote),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt), r.Version,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.Error{Kind: generic.KindConflict, Op: "create registration", Message: "registration already exists", Err: err}
		}
		return fmt.Errorf("failed to insert registration: %w", err)
	}

	if err := claimTransactionIDs(ctx, sqlTx, "create registration", r); err != nil {
		return err
	}
	if err := appendPayments(ctx, sqlTx, r.ID, 0, r.Transactions); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// GetRegistration loads a registration with its payments.
func (s *Store) GetRegistration(ctx context.Context, id string) (registration.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	regs, err := s.queryRegistrations(ctx, "WHERE id = ?", id)
	if err != nil {
		return registration.Registration{}, err
	}
	if len(regs) == 0 {
		return registration.Registration{}, generic.NotFound("get registration", "registration", id)
	}
	return regs[0], nil
}

// FindByTransaction returns the registration owning txID.
func (s *Store) FindByTransaction(ctx context.Context, txID string) (registration.Registration, bool, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return registration.Registration{}, false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var owner string
	err := s.db.QueryRowContext(ctx,
		"SELECT registration_id FROM transaction_ids WHERE transaction_id = ?", txID,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return registration.Registration{}, false, nil
	}
	if err != nil {
		return registration.Registration{}, false, fmt.Errorf("failed to look up transaction: %w", err)
	}

	regs, err := s.queryRegistrations(ctx, "WHERE id = ?", owner)
	if err != nil || len(regs) == 0 {
		return registration.Registration{}, false, err
	}
	return regs[0], true, nil
}

// UpdateRegistration writes r if the stored version still equals r.Version.
// New payments (beyond those already stored) are appended.
func (s *Store) UpdateRegistration(ctx context.Context, r registration.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE registrations SET
			unique_id = ?, name = ?, email = ?, phone = ?, region = ?, district = ?, place = ?,
			group_type = ?, gender = ?, marital_status = ?, spouse_attending = ?,
			total_family_members = ?, transaction_id = ?, amount_paid = ?, currency = ?,
			status = ?, reviewed_by = ?, reviewed_at = ?, review_note = ?, updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`,
		r.UniqueID, r.Name, r.Email, r.Phone, r.Region, r.District, r.Place,
		r.GroupType, r.Gender, r.MaritalStatus, r.SpouseAttending,
		r.TotalFamilyMembers, nullString(r.TransactionID), r.AmountPaid.Value.String(), currencyOf(r.AmountPaid),
		string(r.Status), nullString(r.ReviewedBy), nullTime(r.ReviewedAt), nullString(r.ReviewNote), formatTime(r.UpdatedAt),
		r.ID, r.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update registration: %w", err)
	}
	if err := checkVersioned(ctx, sqlTx, res, "registrations", "update registration", "registration", r.ID); err != nil {
		return err
	}

	if err := claimTransactionIDs(ctx, sqlTx, "update registration", r); err != nil {
		return err
	}

	var stored int
	if err := sqlTx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM payments WHERE registration_id = ?", r.ID,
	).Scan(&stored); err != nil {
		return fmt.Errorf("failed to count payments: %w", err)
	}
	if stored > len(r.Transactions) {
		return &generic.Error{Kind: generic.KindConflict, Op: "update registration", Message: "payments are append-only"}
	}
	if err := appendPayments(ctx, sqlTx, r.ID, stored, r.Transactions[stored:]); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// ListRegistrations returns matching registrations ordered by created_at, id.
func (s *Store) ListRegistrations(ctx context.Context, filter registration.Filter) ([]registration.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := ""
	var args []any
	if filter.Status != "" {
		where = "WHERE status = ?"
		args = append(args, string(filter.Status))
	}
	regs, err := s.queryRegistrations(ctx, where, args...)
	if err != nil {
		return nil, err
	}

	// Region and district matching is normalized, so it happens here.
	out := regs[:0]
	for _, r := range regs {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) queryRegistrations(ctx context.Context, where string, args ...any) ([]registration.Registration, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+registrationColumns+" FROM registrations "+where+" ORDER BY created_at ASC, id ASC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query registrations: %w", err)
	}
	defer rows.Close()

	var regs []registration.Registration
	index := map[string]int{}
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		index[r.ID] = len(regs)
		regs = append(regs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(regs) == 0 {
		return regs, nil
	}

	payments, err := s.loadPayments(ctx, regs)
	if err != nil {
		return nil, err
	}
	for id, ps := range payments {
		if i, ok := index[id]; ok {
			regs[i].Transactions = ps
		}
	}
	return regs, nil
}

func (s *Store) loadPayments(ctx context.Context, regs []registration.Registration) (map[string][]registration.Payment, error) {
	query := "SELECT registration_id, amount, currency, transaction_id, paid_on FROM payments"
	var args []any
	if len(regs) == 1 {
		query += " WHERE registration_id = ?"
		args = append(args, regs[0].ID)
	}
	query += " ORDER BY registration_id, seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	out := map[string][]registration.Payment{}
	for rows.Next() {
		var (
			regID, amount, currency, paidOn string
			txID                           sql.NullString
		)
		if err := rows.Scan(&regID, &amount, &currency, &txID, &paidOn); err != nil {
			return nil, err
		}
		money, err := parseMoney(amount, currency)
		if err != nil {
			return nil, err
		}
		out[regID] = append(out[regID], registration.Payment{
			Amount:        money,
			TransactionID: txID.String,
			Date:          parseTime(paidOn),
		})
	}
	return out, rows.Err()
}

func scanRegistration(rows *sql.Rows) (registration.Registration, error) {
	var (
		r                                  registration.Registration
		email, phone, district, place      sql.NullString
		gender, marital, spouse, txID      sql.NullString
		reviewedBy, reviewedAt, reviewNote sql.NullString
		amount, currency, status           string
		createdAt, updatedAt               string
	)
	err := rows.Scan(
		&r.ID, &r.UniqueID, &r.Name, &email, &phone, &r.Region, &district, &place, &r.GroupType,
		&gender, &marital, &spouse, &r.TotalFamilyMembers, &txID,
		&amount, &currency, &status, &reviewedBy, &reviewedAt, &reviewNote,
		&createdAt, &updatedAt, &r.Version,
	)
	if err != nil {
		return registration.Registration{}, fmt.Errorf("failed to scan registration: %w", err)
	}

	r.Email, r.Phone, r.District, r.Place = email.String, phone.String, district.String, place.String
	r.Gender, r.MaritalStatus, r.SpouseAttending, r.TransactionID = gender.String, marital.String, spouse.String, txID.String
	r.Status = registration.Status(status)
	r.ReviewedBy, r.ReviewNote = reviewedBy.String, reviewNote.String
	r.ReviewedAt = parseNullTime(reviewedAt)
	r.CreatedAt, r.UpdatedAt = parseTime(createdAt), parseTime(updatedAt)
	if r.AmountPaid, err = parseMoney(amount, currency); err != nil {
		return registration.Registration{}, err
	}
	return r, nil
}

func claimTransactionIDs(ctx context.Context, db execer, op string, r registration.Registration) error {
	for _, tx := range r.TransactionIDs() {
		var owner string
		err := db.QueryRowContext(ctx,
			"SELECT registration_id FROM transaction_ids WHERE transaction_id = ?", tx,
		).Scan(&owner)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := db.ExecContext(ctx,
				"INSERT INTO transaction_ids (transaction_id, registration_id) VALUES (?, ?)", tx, r.ID,
			); err != nil {
				return fmt.Errorf("failed to claim transaction %s: %w", tx, err)
			}
		case err != nil:
			return fmt.Errorf("failed to look up transaction %s: %w", tx, err)
		case owner != r.ID:
			return generic.DuplicateTransaction(op, tx, owner)
		}
	}
	return nil
}

func appendPayments(ctx context.Context, db execer, regID string, startSeq int, payments []registration.Payment) error {
	for i, p := range payments {
		_, err := db.ExecContext(ctx, `
			INSERT INTO payments (registration_id, seq, amount, currency, transaction_id, paid_on)
			VALUES (?, ?, ?, ?, ?, ?)
		`, regID, startSeq+i, p.Amount.Value.String(), currencyOf(p.Amount), nullString(p.TransactionID), formatTime(p.Date))
		if err != nil {
			return fmt.Errorf("failed to append payment: %w", err)
		}
	}
	return nil
}

// =============================================================================
// FUND REQUEST STORE (disbursement.Store interface)
// =============================================================================

const fundRequestColumns = `id, type, requested_by, requester_role, region, beneficiary, title, description,
	requested_amount, currency, supporting_evidence_json, payment_method, status,
	approved_by, approved_at, rejected_by, rejected_at, rejection_reason,
	paid_by, paid_at, paid_amount, payment_note, payment_evidence_json,
	received_by, received_at, created_at, updated_at, version`

func (s *Store) CreateFundRequest(ctx context.Context, r disbursement.FundRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Version == 0 {
		r.Version = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fund_requests (`+fundRequestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, fundRequestArgs(r)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.Error{Kind: generic.KindConflict, Op: "create fund request", Message: "fund request already exists", Err: err}
		}
		return fmt.Errorf("failed to insert fund request: %w", err)
	}
	return nil
}

func (s *Store) GetFundRequest(ctx context.Context, id string) (disbursement.FundRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reqs, err := s.queryFundRequests(ctx, "WHERE id = ?", id)
	if err != nil {
		return disbursement.FundRequest{}, err
	}
	if len(reqs) == 0 {
		return disbursement.FundRequest{}, generic.NotFound("get fund request", "fund request", id)
	}
	return reqs[0], nil
}

func (s *Store) UpdateFundRequest(ctx context.Context, r disbursement.FundRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE fund_requests SET
			beneficiary = ?, title = ?, description = ?, supporting_evidence_json = ?,
			payment_method = ?, status = ?,
			approved_by = ?, approved_at = ?, rejected_by = ?, rejected_at = ?, rejection_reason = ?,
			paid_by = ?, paid_at = ?, paid_amount = ?, payment_note = ?, payment_evidence_json = ?,
			received_by = ?, received_at = ?, updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`,
		nullString(r.Beneficiary), r.Title, r.Description, marshalStrings(r.SupportingEvidence),
		string(r.PaymentMethod), string(r.Status),
		nullString(r.ApprovedBy), nullTime(r.ApprovedAt), nullString(r.RejectedBy), nullTime(r.RejectedAt), nullString(r.RejectionReason),
		nullString(r.PaidBy), nullTime(r.PaidAt), nullMoney(r.PaidAmount), nullString(r.PaymentNote), marshalStrings(r.PaymentEvidence),
		nullString(r.ReceivedBy), nullTime(r.ReceivedAt), formatTime(r.UpdatedAt),
		r.ID, r.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update fund request: %w", err)
	}
	if err := checkVersioned(ctx, sqlTx, res, "fund_requests", "update fund request", "fund request", r.ID); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// ListFundRequests returns matching requests, newest first.
func (s *Store) ListFundRequests(ctx context.Context, filter disbursement.Filter) ([]disbursement.FundRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Region != "" {
		conds = append(conds, "region = ? COLLATE NOCASE")
		args = append(args, filter.Region)
	}
	if filter.RequestedBy != "" {
		conds = append(conds, "requested_by = ?")
		args = append(args, filter.RequestedBy)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	return s.queryFundRequests(ctx, where, args...)
}

func (s *Store) queryFundRequests(ctx context.Context, where string, args ...any) ([]disbursement.FundRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+fundRequestColumns+" FROM fund_requests "+where+" ORDER BY created_at DESC, id ASC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query fund requests: %w", err)
	}
	defer rows.Close()

	var out []disbursement.FundRequest
	for rows.Next() {
		r, err := scanFundRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func fundRequestArgs(r disbursement.FundRequest) []any {
	return []any{
		r.ID, string(r.Type), r.RequestedBy, string(r.RequesterRole), r.Region, nullString(r.Beneficiary),
		r.Title, r.Description, r.RequestedAmount.Value.String(), currencyOf(r.RequestedAmount),
		marshalStrings(r.SupportingEvidence), string(r.PaymentMethod), string(r.Status),
		nullString(r.ApprovedBy), nullTime(r.ApprovedAt), nullString(r.RejectedBy), nullTime(r.RejectedAt), nullString(r.RejectionReason),
		nullString(r.PaidBy), nullTime(r.PaidAt), nullMoney(r.PaidAmount), nullString(r.PaymentNote), marshalStrings(r.PaymentEvidence),
		nullString(r.ReceivedBy), nullTime(r.ReceivedAt), formatTime(r.CreatedAt), formatTime(r.UpdatedAt), r.Version,
	}
}

func scanFundRequest(rows *sql.Rows) (disbursement.FundRequest, error) {
	var (
		r                                       disbursement.FundRequest
		typ, role, method, status               string
		beneficiary, evidence, paymentEvidence  sql.NullString
		approvedBy, approvedAt                  sql.NullString
		rejectedBy, rejectedAt, rejectionReason sql.NullString
		paidBy, paidAt, paidAmount, paymentNote sql.NullString
		receivedBy, receivedAt                  sql.NullString
		amount, currency, createdAt, updatedAt  string
	)
	err := rows.Scan(
		&r.ID, &typ, &r.RequestedBy, &role, &r.Region, &beneficiary, &r.Title, &r.Description,
		&amount, &currency, &evidence, &method, &status,
		&approvedBy, &approvedAt, &rejectedBy, &rejectedAt, &rejectionReason,
		&paidBy, &paidAt, &paidAmount, &paymentNote, &paymentEvidence,
		&receivedBy, &receivedAt, &createdAt, &updatedAt, &r.Version,
	)
	if err != nil {
		return disbursement.FundRequest{}, fmt.Errorf("failed to scan fund request: %w", err)
	}

	r.Type = disbursement.Type(typ)
	r.RequesterRole = generic.Role(role)
	r.PaymentMethod = disbursement.PaymentMethod(method)
	r.Status = disbursement.Status(status)
	r.Beneficiary = beneficiary.String
	r.SupportingEvidence = unmarshalStrings(evidence)
	r.PaymentEvidence = unmarshalStrings(paymentEvidence)
	r.ApprovedBy, r.ApprovedAt = approvedBy.String, parseNullTime(approvedAt)
	r.RejectedBy, r.RejectedAt, r.RejectionReason = rejectedBy.String, parseNullTime(rejectedAt), rejectionReason.String
	r.PaidBy, r.PaidAt, r.PaymentNote = paidBy.String, parseNullTime(paidAt), paymentNote.String
	r.ReceivedBy, r.ReceivedAt = receivedBy.String, parseNullTime(receivedAt)
	r.CreatedAt, r.UpdatedAt = parseTime(createdAt), parseTime(updatedAt)

	if r.RequestedAmount, err = parseMoney(amount, currency); err != nil {
		return disbursement.FundRequest{}, err
	}
	if paidAmount.Valid {
		m, err := parseMoney(paidAmount.String, currency)
		if err != nil {
			return disbursement.FundRequest{}, err
		}
		r.PaidAmount = &m
	}
	return r, nil
}

// =============================================================================
// FAILED DELIVERY STORE (notification.Store interface)
// =============================================================================

const failureColumns = `id, recipient_email, region, template, snapshot_json, error, attempts, created_at, last_attempt_at`

func (s *Store) CreateFailure(ctx context.Context, f notification.FailedDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, _ := json.Marshal(f.Snapshot)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_failures (`+failureColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.RecipientEmail, f.Region, string(f.Template), string(snapshot), f.Error, f.Attempts,
		formatTime(f.CreatedAt), formatTime(f.LastAttemptAt))
	if err != nil {
		return fmt.Errorf("failed to insert delivery failure: %w", err)
	}
	return nil
}

func (s *Store) GetFailure(ctx context.Context, id string) (notification.FailedDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out, err := s.queryFailures(ctx, "WHERE id = ?", id)
	if err != nil {
		return notification.FailedDelivery{}, err
	}
	if len(out) == 0 {
		return notification.FailedDelivery{}, generic.NotFound("get failure", "failed delivery", id)
	}
	return out[0], nil
}

// ListFailures returns matching failures, newest first.
func (s *Store) ListFailures(ctx context.Context, filter notification.Filter) ([]notification.FailedDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.Region != "" {
		return s.queryFailures(ctx, "WHERE region = ?", filter.Region)
	}
	return s.queryFailures(ctx, "")
}

func (s *Store) UpdateFailure(ctx context.Context, f notification.FailedDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE delivery_failures SET error = ?, attempts = ?, last_attempt_at = ? WHERE id = ?
	`, f.Error, f.Attempts, formatTime(f.LastAttemptAt), f.ID)
	if err != nil {
		return fmt.Errorf("failed to update delivery failure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.NotFound("update failure", "failed delivery", f.ID)
	}
	return nil
}

func (s *Store) DeleteFailure(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM delivery_failures WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete delivery failure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.NotFound("delete failure", "failed delivery", id)
	}
	return nil
}

func (s *Store) queryFailures(ctx context.Context, where string, args ...any) ([]notification.FailedDelivery, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+failureColumns+" FROM delivery_failures "+where+" ORDER BY created_at DESC, id ASC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery failures: %w", err)
	}
	defer rows.Close()

	var out []notification.FailedDelivery
	for rows.Next() {
		var (
			f                                notification.FailedDelivery
			region, snapshot                 sql.NullString
			template, createdAt, lastAttempt string
		)
		if err := rows.Scan(&f.ID, &f.RecipientEmail, &region, &template, &snapshot, &f.Error, &f.Attempts, &createdAt, &lastAttempt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery failure: %w", err)
		}
		f.Region = region.String
		f.Template = notification.Template(template)
		f.Snapshot = map[string]string{}
		if snapshot.Valid && snapshot.String != "" {
			_ = json.Unmarshal([]byte(snapshot.String), &f.Snapshot)
		}
		f.CreatedAt = parseTime(createdAt)
		f.LastAttemptAt = parseTime(lastAttempt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// =============================================================================
// AUDIT LOG (generic.AuditLog interface)
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, _ := json.Marshal(e.Payload)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, timestamp, actor_id, actor_role, action, subject, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, formatTime(e.Timestamp), e.Actor.ID, string(e.Actor.Role), string(e.Action), e.Subject, string(payload))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// QueryAudit returns matching entries in append order.
func (s *Store) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, timestamp, actor_id, actor_role, action, subject, payload_json FROM audit_log"
	var args []any
	if filter.Subject != "" {
		query += " WHERE subject = ?"
		args = append(args, filter.Subject)
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []generic.AuditEntry
	for rows.Next() {
		var (
			e                generic.AuditEntry
			ts, role, action string
			subject, payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Actor.ID, &role, &action, &subject, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = parseTime(ts)
		e.Actor.Role = generic.Role(role)
		e.Action = generic.AuditAction(action)
		e.Subject = subject.String
		if payload.Valid && payload.String != "" && payload.String != "null" {
			_ = json.Unmarshal([]byte(payload.String), &e.Payload)
		}
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"payments", "transaction_ids", "registrations", "fund_requests", "delivery_failures", "audit_log"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// checkVersioned turns a zero-row versioned update into NotFound or
// ErrConcurrentModification.
func checkVersioned(ctx context.Context, db execer, res sql.Result, table, op, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check %s: %w", what, err)
	}
	if exists == 0 {
		return generic.NotFound(op, what, id)
	}
	return generic.ErrConcurrentModification
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullMoney(m *generic.Money) sql.NullString {
	if m == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: m.Value.String(), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func currencyOf(m generic.Money) string {
	if m.Currency == "" {
		return string(generic.DefaultCurrency)
	}
	return string(m.Currency)
}

func parseMoney(value, currency string) (generic.Money, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return generic.Money{}, fmt.Errorf("corrupt amount %q: %w", value, err)
	}
	return generic.Money{Value: d, Currency: generic.Currency(currency)}, nil
}

func marshalStrings(v []string) sql.NullString {
	if len(v) == 0 {
		return sql.NullString{}
	}
	raw, _ := json.Marshal(v)
	return sql.NullString{String: string(raw), Valid: true}
}

func unmarshalStrings(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s.String), &out)
	return out
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}
