/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements payments.Store (which embeds ledger.Store) and
  ledger.RateStore on one database. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the movements table
  - No DELETE statements on the movements table
  - Corrections via compensating movements only

DB-LEVEL CONCURRENCY GUARDS:
  The PENDING -> PAID transition is a conditional UPDATE
  (WHERE status = 'PENDING' AND ledger_movement_id IS NULL) whose
  RowsAffected decides the outcome, so two concurrent duplicate
  settlements cannot both succeed. The movements table additionally
  carries a UNIQUE idempotency_key as a second, independent guard.

KEY TABLES:
  accounts            Financial accounts (initial_balance fixed at insert)
  movements           Immutable money-event log
  payments            Customer receivable instances
  operator_payments   Payables to operators
  expenses            Non-operator expense obligations
  operations          Read model mirrored from the sales subsystem
  customers           Counterparties, linked via operation_customers
  fx_rates            One official ARS-per-USD rate per date

INDEXES:
  - idx_movements_account_created: balance calculation (hot path)
  - idx_movements_operation: reconciliation and debt queries
  - idx_movements_idempotency: UNIQUE, duplicate-request guard
  - idx_payments_movement (and operator/expense twins): write-once link

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go, payments/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/altiplano/finance-engine/ledger"
	"github.com/altiplano/finance-engine/payments"
)

// Store implements payments.Store and ledger.RateStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx, so the statement
// helpers below serve the plain store and the transactional view alike.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens (or creates) the database at dbPath and migrates the
// schema. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps ":memory:" databases coherent and matches the
	// single-writer discipline the store enforces anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		currency TEXT NOT NULL,
		initial_balance TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		agency_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Append-only: rows are inserted, never updated or deleted.
	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		concept TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL,
		amount_original TEXT NOT NULL,
		exchange_rate TEXT,
		amount_ars_equivalent TEXT NOT NULL,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		operation_id TEXT NOT NULL DEFAULT '',
		lead_id TEXT NOT NULL DEFAULT '',
		seller_id TEXT NOT NULL DEFAULT '',
		operator_id TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		receipt_number TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_movements_account_created
		ON movements(account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_movements_operation
		ON movements(operation_id) WHERE operation_id != '';
	CREATE UNIQUE INDEX IF NOT EXISTS idx_movements_idempotency
		ON movements(idempotency_key) WHERE idempotency_key IS NOT NULL;

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		operation_id TEXT NOT NULL,
		payer_type TEXT NOT NULL,
		direction TEXT NOT NULL,
		method TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		date_due TEXT NOT NULL,
		date_paid TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		ledger_movement_id TEXT REFERENCES movements(id),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_operation
		ON payments(operation_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_movement
		ON payments(ledger_movement_id) WHERE ledger_movement_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS operator_payments (
		id TEXT PRIMARY KEY,
		operator_id TEXT NOT NULL,
		operation_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		date_due TEXT NOT NULL,
		date_paid TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		paid_amount TEXT NOT NULL DEFAULT '0',
		ledger_movement_id TEXT REFERENCES movements(id),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_operator_payments_operation
		ON operator_payments(operation_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_operator_payments_movement
		ON operator_payments(ledger_movement_id) WHERE ledger_movement_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		concept TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		date_due TEXT NOT NULL,
		date_paid TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		agency_id TEXT NOT NULL DEFAULT '',
		ledger_movement_id TEXT REFERENCES movements(id),
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS operations (
		id TEXT PRIMARY KEY,
		file_code TEXT NOT NULL DEFAULT '',
		destination TEXT NOT NULL DEFAULT '',
		sale_amount_total TEXT NOT NULL,
		sale_currency TEXT NOT NULL,
		operator_cost TEXT NOT NULL,
		operator_cost_currency TEXT NOT NULL,
		operator_id TEXT NOT NULL DEFAULT '',
		seller_id TEXT NOT NULL DEFAULT '',
		agency_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS operation_customers (
		operation_id TEXT NOT NULL REFERENCES operations(id),
		customer_id TEXT NOT NULL REFERENCES customers(id),
		PRIMARY KEY (operation_id, customer_id)
	);

	CREATE TABLE IF NOT EXISTS fx_rates (
		rate_date TEXT PRIMARY KEY,
		rate TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// MOVEMENTS (ledger.Store)
// =============================================================================

const movementColumns = `id, type, concept, currency, amount_original, exchange_rate,
	amount_ars_equivalent, account_id, operation_id, lead_id, seller_id, operator_id,
	created_by, created_at, receipt_number, idempotency_key`

// Append inserts a movement. There is no update path.
func (s *Store) Append(ctx context.Context, m ledger.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendMovement(ctx, s.db, m)
}

func appendMovement(ctx context.Context, q querier, m ledger.Movement) error {
	var rate *string
	if m.ExchangeRate != nil {
		v := m.ExchangeRate.String()
		rate = &v
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO movements (`+movementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Type, m.Concept, m.Currency,
		m.AmountOriginal.String(), rate, m.AmountARSEquivalent.String(),
		m.AccountID, m.OperationID, m.LeadID, m.SellerID, m.OperatorID,
		m.CreatedBy, formatTime(m.CreatedAt),
		m.ReceiptNumber, nullString(m.IdempotencyKey),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append movement: %w", err)
	}
	return nil
}

// Movements returns all movements for an account, oldest first.
func (s *Store) Movements(ctx context.Context, accountID ledger.AccountID) ([]ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryMovements(ctx, s.db, `
		SELECT `+movementColumns+` FROM movements
		WHERE account_id = ?
		ORDER BY created_at ASC`, accountID)
}

// MovementsInRange returns an account's movements with created_at in
// [from, to]. A zero bound is open on that side.
func (s *Store) MovementsInRange(ctx context.Context, accountID ledger.AccountID, from, to time.Time) ([]ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryMovements(ctx, s.db, `
		SELECT `+movementColumns+` FROM movements
		WHERE account_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC`,
		accountID, formatCutoff(from, false), formatCutoff(to, true))
}

func (s *Store) MovementsByOperation(ctx context.Context, operationID ledger.OperationID) ([]ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryMovements(ctx, s.db, `
		SELECT `+movementColumns+` FROM movements
		WHERE operation_id = ?
		ORDER BY created_at ASC`, operationID)
}

func (s *Store) AllMovementsInRange(ctx context.Context, from, to time.Time) ([]ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryMovements(ctx, s.db, `
		SELECT `+movementColumns+` FROM movements
		WHERE created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC`,
		formatCutoff(from, false), formatCutoff(to, true))
}

// Exists reports whether a movement with the idempotency key was
// already appended.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return movementExists(ctx, s.db, idempotencyKey)
}

func movementExists(ctx context.Context, q querier, idempotencyKey string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM movements WHERE idempotency_key = ?`,
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func queryMovements(ctx context.Context, q querier, query string, args ...any) ([]ledger.Movement, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var movements []ledger.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func scanMovement(rows *sql.Rows) (ledger.Movement, error) {
	var (
		m              ledger.Movement
		amountOriginal string
		exchangeRate   sql.NullString
		arsEquivalent  string
		createdAt      string
		idemKey        sql.NullString
	)
	err := rows.Scan(
		&m.ID, &m.Type, &m.Concept, &m.Currency,
		&amountOriginal, &exchangeRate, &arsEquivalent,
		&m.AccountID, &m.OperationID, &m.LeadID, &m.SellerID, &m.OperatorID,
		&m.CreatedBy, &createdAt, &m.ReceiptNumber, &idemKey,
	)
	if err != nil {
		return m, fmt.Errorf("failed to scan movement: %w", err)
	}

	m.AmountOriginal = mustParse(amountOriginal)
	m.AmountARSEquivalent = mustParse(arsEquivalent)
	if exchangeRate.Valid {
		rate := mustParse(exchangeRate.String)
		m.ExchangeRate = &rate
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.IdempotencyKey = idemKey.String
	return m, nil
}

// =============================================================================
// ACCOUNTS (ledger.Store)
// =============================================================================

const accountColumns = `id, name, type, currency, initial_balance, is_active, agency_id, created_at`

func (s *Store) Account(ctx context.Context, id ledger.AccountID) (ledger.FinancialAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, id)
}

func getAccount(ctx context.Context, q querier, id ledger.AccountID) (ledger.FinancialAccount, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)

	var (
		a         ledger.FinancialAccount
		initial   string
		isActive  int
		createdAt string
	)
	err := row.Scan(&a.ID, &a.Name, &a.Type, &a.Currency, &initial, &isActive, &a.AgencyID, &createdAt)
	if err == sql.ErrNoRows {
		return a, ledger.ErrAccountNotFound
	}
	if err != nil {
		return a, fmt.Errorf("failed to scan account: %w", err)
	}
	a.InitialBalance = mustParse(initial)
	a.IsActive = isActive != 0
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return a, nil
}

func (s *Store) Accounts(ctx context.Context, agencyID string) ([]ledger.FinancialAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAccounts(ctx, s.db, agencyID)
}

func queryAccounts(ctx context.Context, q querier, agencyID string) ([]ledger.FinancialAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	var args []any
	if agencyID != "" {
		query += ` WHERE agency_id = ?`
		args = append(args, agencyID)
	}
	query += ` ORDER BY id ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []ledger.FinancialAccount
	for rows.Next() {
		var (
			a         ledger.FinancialAccount
			initial   string
			isActive  int
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &a.Currency, &initial, &isActive, &a.AgencyID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.InitialBalance = mustParse(initial)
		a.IsActive = isActive != 0
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *Store) SaveAccount(ctx context.Context, a ledger.FinancialAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// initial_balance is written once; only descriptive fields may change.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			is_active = excluded.is_active`,
		a.ID, a.Name, a.Type, a.Currency,
		a.InitialBalance.String(), boolToInt(a.IsActive), a.AgencyID,
		formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// =============================================================================
// PAYMENTS (payments.Store)
// =============================================================================

const paymentColumns = `id, operation_id, payer_type, direction, method, amount,
	currency, date_due, date_paid, status, ledger_movement_id, created_at`

func (s *Store) Payment(ctx context.Context, id string) (payments.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPayment(ctx, s.db, id)
}

func getPayment(ctx context.Context, q querier, id string) (payments.Payment, error) {
	result, err := queryPayments(ctx, q,
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	if err != nil {
		return payments.Payment{}, err
	}
	if len(result) == 0 {
		return payments.Payment{}, ledger.ErrPaymentNotFound
	}
	return result[0], nil
}

func (s *Store) SavePayment(ctx context.Context, p payments.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OperationID, p.PayerType, p.Direction, p.Method,
		p.Amount.String(), p.Currency,
		formatTime(p.DateDue), nullTime(p.DatePaid),
		p.Status, nullString(string(p.LedgerMovementID)),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

func (s *Store) PaymentsByOperation(ctx context.Context, operationID ledger.OperationID) ([]payments.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryPayments(ctx, s.db, `
		SELECT `+paymentColumns+` FROM payments
		WHERE operation_id = ? ORDER BY id ASC`, operationID)
}

func (s *Store) Payments(ctx context.Context) ([]payments.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryPayments(ctx, s.db,
		`SELECT `+paymentColumns+` FROM payments ORDER BY id ASC`)
}

// SettlePayment flips PENDING -> PAID with a compare-and-swap. The
// WHERE clause is the concurrency guard: of two racing settlements only
// one can match it, the other sees RowsAffected == 0.
func (s *Store) SettlePayment(ctx context.Context, id string, movementID ledger.MovementID, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return settlePayment(ctx, s.db, id, movementID, paidAt)
}

func settlePayment(ctx context.Context, q querier, id string, movementID ledger.MovementID, paidAt time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE payments
		SET status = ?, date_paid = ?, ledger_movement_id = ?
		WHERE id = ? AND status = ? AND ledger_movement_id IS NULL`,
		payments.StatusPaid, formatTime(paidAt), movementID,
		id, payments.StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to settle payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func queryPayments(ctx context.Context, q querier, query string, args ...any) ([]payments.Payment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var result []payments.Payment
	for rows.Next() {
		var (
			p          payments.Payment
			amount     string
			dateDue    string
			datePaid   sql.NullString
			movementID sql.NullString
			createdAt  string
		)
		err := rows.Scan(
			&p.ID, &p.OperationID, &p.PayerType, &p.Direction, &p.Method,
			&amount, &p.Currency, &dateDue, &datePaid, &p.Status, &movementID, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.Amount = mustParse(amount)
		p.DateDue, _ = time.Parse(time.RFC3339Nano, dateDue)
		p.DatePaid = parseNullTime(datePaid)
		p.LedgerMovementID = ledger.MovementID(movementID.String)
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		result = append(result, p)
	}
	return result, rows.Err()
}

// =============================================================================
// OPERATOR PAYMENTS (payments.Store)
// =============================================================================

const operatorPaymentColumns = `id, operator_id, operation_id, amount, currency,
	date_due, date_paid, status, paid_amount, ledger_movement_id, created_at`

func (s *Store) OperatorPayment(ctx context.Context, id string) (payments.OperatorPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getOperatorPayment(ctx, s.db, id)
}

func getOperatorPayment(ctx context.Context, q querier, id string) (payments.OperatorPayment, error) {
	result, err := queryOperatorPayments(ctx, q,
		`SELECT `+operatorPaymentColumns+` FROM operator_payments WHERE id = ?`, id)
	if err != nil {
		return payments.OperatorPayment{}, err
	}
	if len(result) == 0 {
		return payments.OperatorPayment{}, ledger.ErrPaymentNotFound
	}
	return result[0], nil
}

func (s *Store) SaveOperatorPayment(ctx context.Context, p payments.OperatorPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operator_payments (`+operatorPaymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OperatorID, p.OperationID, p.Amount.String(), p.Currency,
		formatTime(p.DateDue), nullTime(p.DatePaid),
		p.Status, p.PaidAmount.String(), nullString(string(p.LedgerMovementID)),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save operator payment: %w", err)
	}
	return nil
}

func (s *Store) OperatorPaymentsByOperation(ctx context.Context, operationID ledger.OperationID) ([]payments.OperatorPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryOperatorPayments(ctx, s.db, `
		SELECT `+operatorPaymentColumns+` FROM operator_payments
		WHERE operation_id = ? ORDER BY id ASC`, operationID)
}

func (s *Store) OperatorPayments(ctx context.Context) ([]payments.OperatorPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryOperatorPayments(ctx, s.db,
		`SELECT `+operatorPaymentColumns+` FROM operator_payments ORDER BY id ASC`)
}

func (s *Store) SettleOperatorPayment(ctx context.Context, id string, movementID ledger.MovementID, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return settleOperatorPayment(ctx, s.db, id, movementID, paidAt)
}

func settleOperatorPayment(ctx context.Context, q querier, id string, movementID ledger.MovementID, paidAt time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE operator_payments
		SET status = ?, date_paid = ?, paid_amount = amount, ledger_movement_id = ?
		WHERE id = ? AND status = ? AND ledger_movement_id IS NULL`,
		payments.StatusPaid, formatTime(paidAt), movementID,
		id, payments.StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to settle operator payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func queryOperatorPayments(ctx context.Context, q querier, query string, args ...any) ([]payments.OperatorPayment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operator payments: %w", err)
	}
	defer rows.Close()

	var result []payments.OperatorPayment
	for rows.Next() {
		var (
			p          payments.OperatorPayment
			amount     string
			paidAmount string
			dateDue    string
			datePaid   sql.NullString
			movementID sql.NullString
			createdAt  string
		)
		err := rows.Scan(
			&p.ID, &p.OperatorID, &p.OperationID, &amount, &p.Currency,
			&dateDue, &datePaid, &p.Status, &paidAmount, &movementID, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operator payment: %w", err)
		}
		p.Amount = mustParse(amount)
		p.PaidAmount = mustParse(paidAmount)
		p.DateDue, _ = time.Parse(time.RFC3339Nano, dateDue)
		p.DatePaid = parseNullTime(datePaid)
		p.LedgerMovementID = ledger.MovementID(movementID.String)
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		result = append(result, p)
	}
	return result, rows.Err()
}

// =============================================================================
// EXPENSES (payments.Store)
// =============================================================================

const expenseColumns = `id, concept, amount, currency, date_due, date_paid,
	status, agency_id, ledger_movement_id, created_at`

func (s *Store) Expense(ctx context.Context, id string) (payments.ExpenseObligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getExpense(ctx, s.db, id)
}

func getExpense(ctx context.Context, q querier, id string) (payments.ExpenseObligation, error) {
	result, err := queryExpenses(ctx, q,
		`SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)
	if err != nil {
		return payments.ExpenseObligation{}, err
	}
	if len(result) == 0 {
		return payments.ExpenseObligation{}, ledger.ErrPaymentNotFound
	}
	return result[0], nil
}

func (s *Store) SaveExpense(ctx context.Context, e payments.ExpenseObligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (`+expenseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Concept, e.Amount.String(), e.Currency,
		formatTime(e.DateDue), nullTime(e.DatePaid),
		e.Status, e.AgencyID, nullString(string(e.LedgerMovementID)),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save expense: %w", err)
	}
	return nil
}

func (s *Store) Expenses(ctx context.Context) ([]payments.ExpenseObligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryExpenses(ctx, s.db,
		`SELECT `+expenseColumns+` FROM expenses ORDER BY id ASC`)
}

func (s *Store) SettleExpense(ctx context.Context, id string, movementID ledger.MovementID, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return settleExpense(ctx, s.db, id, movementID, paidAt)
}

func settleExpense(ctx context.Context, q querier, id string, movementID ledger.MovementID, paidAt time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE expenses
		SET status = ?, date_paid = ?, ledger_movement_id = ?
		WHERE id = ? AND status = ? AND ledger_movement_id IS NULL`,
		payments.StatusPaid, formatTime(paidAt), movementID,
		id, payments.StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to settle expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func queryExpenses(ctx context.Context, q querier, query string, args ...any) ([]payments.ExpenseObligation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var result []payments.ExpenseObligation
	for rows.Next() {
		var (
			e          payments.ExpenseObligation
			amount     string
			dateDue    string
			datePaid   sql.NullString
			movementID sql.NullString
			createdAt  string
		)
		err := rows.Scan(
			&e.ID, &e.Concept, &amount, &e.Currency,
			&dateDue, &datePaid, &e.Status, &e.AgencyID, &movementID, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		e.Amount = mustParse(amount)
		e.DateDue, _ = time.Parse(time.RFC3339Nano, dateDue)
		e.DatePaid = parseNullTime(datePaid)
		e.LedgerMovementID = ledger.MovementID(movementID.String)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// OPERATIONS (read model)
// =============================================================================

func (s *Store) Operation(ctx context.Context, id ledger.OperationID) (payments.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getOperation(ctx, s.db, id)
}

func getOperation(ctx context.Context, q querier, id ledger.OperationID) (payments.Operation, error) {
	ops, err := queryOperations(ctx, q, `WHERE id = ?`, id)
	if err != nil {
		return payments.Operation{}, err
	}
	if len(ops) == 0 {
		return payments.Operation{}, ledger.ErrOperationNotFound
	}
	return ops[0], nil
}

func (s *Store) Operations(ctx context.Context) ([]payments.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryOperations(ctx, s.db, ``)
}

func queryOperations(ctx context.Context, q querier, where string, args ...any) ([]payments.Operation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, file_code, destination, sale_amount_total, sale_currency,
		       operator_cost, operator_cost_currency, operator_id, seller_id,
		       agency_id, created_at
		FROM operations `+where+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}

	var ops []payments.Operation
	for rows.Next() {
		var (
			op        payments.Operation
			sale      string
			cost      string
			createdAt string
		)
		err := rows.Scan(
			&op.ID, &op.FileCode, &op.Destination, &sale, &op.SaleCurrency,
			&cost, &op.OperatorCostCurrency, &op.OperatorID, &op.SellerID,
			&op.AgencyID, &createdAt,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		op.SaleAmountTotal = mustParse(sale)
		op.OperatorCost = mustParse(cost)
		op.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range ops {
		customers, err := customersFor(ctx, q, ops[i].ID)
		if err != nil {
			return nil, err
		}
		ops[i].Customers = customers
	}
	return ops, nil
}

func customersFor(ctx context.Context, q querier, operationID ledger.OperationID) ([]payments.Customer, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT c.id, c.name FROM customers c
		JOIN operation_customers oc ON oc.customer_id = c.id
		WHERE oc.operation_id = ?
		ORDER BY c.id ASC`, operationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var customers []payments.Customer
	for rows.Next() {
		var c payments.Customer
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// SaveOperation upserts the read model row and its customer links. The
// operation itself is owned by the sales subsystem; this store only
// mirrors what the financial queries need.
func (s *Store) SaveOperation(ctx context.Context, op payments.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := saveOperation(ctx, tx, op); err != nil {
		return err
	}
	return tx.Commit()
}

func saveOperation(ctx context.Context, q querier, op payments.Operation) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO operations
		(id, file_code, destination, sale_amount_total, sale_currency,
		 operator_cost, operator_cost_currency, operator_id, seller_id, agency_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_code = excluded.file_code,
			destination = excluded.destination,
			sale_amount_total = excluded.sale_amount_total,
			sale_currency = excluded.sale_currency,
			operator_cost = excluded.operator_cost,
			operator_cost_currency = excluded.operator_cost_currency,
			operator_id = excluded.operator_id,
			seller_id = excluded.seller_id,
			agency_id = excluded.agency_id`,
		op.ID, op.FileCode, op.Destination,
		op.SaleAmountTotal.String(), op.SaleCurrency,
		op.OperatorCost.String(), op.OperatorCostCurrency,
		op.OperatorID, op.SellerID, op.AgencyID,
		formatTime(op.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save operation: %w", err)
	}

	for _, c := range op.Customers {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO customers (id, name) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
			c.ID, c.Name); err != nil {
			return fmt.Errorf("failed to save customer: %w", err)
		}
		if _, err := q.ExecContext(ctx, `
			INSERT OR IGNORE INTO operation_customers (operation_id, customer_id)
			VALUES (?, ?)`, op.ID, c.ID); err != nil {
			return fmt.Errorf("failed to link customer: %w", err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn inside a database transaction. Settlement uses
// this so the movement append and the status compare-and-swap commit or
// roll back together.
func (s *Store) WithTx(ctx context.Context, fn func(payments.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// txStore is the transactional view handed to WithTx callbacks. It
// routes every statement through the open *sql.Tx via the shared
// helpers and must not touch the parent mutex (WithTx already holds
// the write lock).
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Append(ctx context.Context, m ledger.Movement) error {
	return appendMovement(ctx, ts.tx, m)
}

func (ts *txStore) Movements(ctx context.Context, accountID ledger.AccountID) ([]ledger.Movement, error) {
	return queryMovements(ctx, ts.tx, `
		SELECT `+movementColumns+` FROM movements
		WHERE account_id = ? ORDER BY created_at ASC`, accountID)
}

func (ts *txStore) MovementsInRange(ctx context.Context, accountID ledger.AccountID, from, to time.Time) ([]ledger.Movement, error) {
	return queryMovements(ctx, ts.tx, `
		SELECT `+movementColumns+` FROM movements
		WHERE account_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC`,
		accountID, formatCutoff(from, false), formatCutoff(to, true))
}

func (ts *txStore) MovementsByOperation(ctx context.Context, operationID ledger.OperationID) ([]ledger.Movement, error) {
	return queryMovements(ctx, ts.tx, `
		SELECT `+movementColumns+` FROM movements
		WHERE operation_id = ? ORDER BY created_at ASC`, operationID)
}

func (ts *txStore) AllMovementsInRange(ctx context.Context, from, to time.Time) ([]ledger.Movement, error) {
	return queryMovements(ctx, ts.tx, `
		SELECT `+movementColumns+` FROM movements
		WHERE created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC`,
		formatCutoff(from, false), formatCutoff(to, true))
}

func (ts *txStore) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	return movementExists(ctx, ts.tx, idempotencyKey)
}

func (ts *txStore) Account(ctx context.Context, id ledger.AccountID) (ledger.FinancialAccount, error) {
	return getAccount(ctx, ts.tx, id)
}

func (ts *txStore) Accounts(ctx context.Context, agencyID string) ([]ledger.FinancialAccount, error) {
	return queryAccounts(ctx, ts.tx, agencyID)
}

func (ts *txStore) SaveAccount(ctx context.Context, a ledger.FinancialAccount) error {
	return errTxUnsupported("SaveAccount")
}

func (ts *txStore) Payment(ctx context.Context, id string) (payments.Payment, error) {
	return getPayment(ctx, ts.tx, id)
}

func (ts *txStore) SavePayment(ctx context.Context, p payments.Payment) error {
	return errTxUnsupported("SavePayment")
}

func (ts *txStore) PaymentsByOperation(ctx context.Context, operationID ledger.OperationID) ([]payments.Payment, error) {
	return queryPayments(ctx, ts.tx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE operation_id = ? ORDER BY id ASC`, operationID)
}

func (ts *txStore) Payments(ctx context.Context) ([]payments.Payment, error) {
	return queryPayments(ctx, ts.tx,
		`SELECT `+paymentColumns+` FROM payments ORDER BY id ASC`)
}

func (ts *txStore) SettlePayment(ctx context.Context, id string, movementID ledger.MovementID, paidAt time.Time) (bool, error) {
	return settlePayment(ctx, ts.tx, id, movementID, paidAt)
}

func (ts *txStore) OperatorPayment(ctx context.Context, id string) (payments.OperatorPayment, error) {
	return getOperatorPayment(ctx, ts.tx, id)
}

func (ts *txStore) SaveOperatorPayment(ctx context.Context, p payments.OperatorPayment) error {
	return errTxUnsupported("SaveOperatorPayment")
}

func (ts *txStore) OperatorPaymentsByOperation(ctx context.Context, operationID ledger.OperationID) ([]payments.OperatorPayment, error) {
	return queryOperatorPayments(ctx, ts.tx, `
		SELECT `+operatorPaymentColumns+` FROM operator_payments
		WHERE operation_id = ? ORDER BY id ASC`, operationID)
}

func (ts *txStore) OperatorPayments(ctx context.Context) ([]payments.OperatorPayment, error) {
	return queryOperatorPayments(ctx, ts.tx,
		`SELECT `+operatorPaymentColumns+` FROM operator_payments ORDER BY id ASC`)
}

func (ts *txStore) SettleOperatorPayment(ctx context.Context, id string, movementID ledger.MovementID, paidAt time.Time) (bool, error) {
	return settleOperatorPayment(ctx, ts.tx, id, movementID, paidAt)
}

func (ts *txStore) Expense(ctx context.Context, id string) (payments.ExpenseObligation, error) {
	return getExpense(ctx, ts.tx, id)
}

func (ts *txStore) SaveExpense(ctx context.Context, e payments.ExpenseObligation) error {
	return errTxUnsupported("SaveExpense")
}

func (ts *txStore) Expenses(ctx context.Context) ([]payments.ExpenseObligation, error) {
	return queryExpenses(ctx, ts.tx,
		`SELECT `+expenseColumns+` FROM expenses ORDER BY id ASC`)
}

func (ts *txStore) SettleExpense(ctx context.Context, id string, movementID ledger.MovementID, paidAt time.Time) (bool, error) {
	return settleExpense(ctx, ts.tx, id, movementID, paidAt)
}

func (ts *txStore) Operation(ctx context.Context, id ledger.OperationID) (payments.Operation, error) {
	return getOperation(ctx, ts.tx, id)
}

func (ts *txStore) Operations(ctx context.Context) ([]payments.Operation, error) {
	return queryOperations(ctx, ts.tx, ``)
}

func (ts *txStore) SaveOperation(ctx context.Context, op payments.Operation) error {
	return errTxUnsupported("SaveOperation")
}

func (ts *txStore) WithTx(ctx context.Context, fn func(payments.Store) error) error {
	// Already inside a transaction; run against the same one.
	return fn(ts)
}

// Writes that create new obligations belong outside settlement
// transactions; rejecting them keeps WithTx scoped to settle-one-thing.
func errTxUnsupported(op string) error {
	return fmt.Errorf("%s is not supported inside a settlement transaction", op)
}

// =============================================================================
// FX RATES (ledger.RateStore)
// =============================================================================

// SaveRate stores the official rate for a calendar date. Saving twice
// for the same date overwrites; manual corrections are rare but legal.
func (s *Store) SaveRate(ctx context.Context, date time.Time, rate decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fx_rates (rate_date, rate) VALUES (?, ?)
		ON CONFLICT(rate_date) DO UPDATE SET rate = excluded.rate`,
		dateKey(date), rate.String())
	if err != nil {
		return fmt.Errorf("failed to save rate: %w", err)
	}
	return nil
}

func (s *Store) RateOn(ctx context.Context, date time.Time) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rate string
	err := s.db.QueryRowContext(ctx,
		`SELECT rate FROM fx_rates WHERE rate_date = ?`, dateKey(date)).Scan(&rate)
	if err == sql.ErrNoRows {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	return mustParse(rate), true, nil
}

func (s *Store) LatestRateBefore(ctx context.Context, date time.Time) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rate string
	err := s.db.QueryRowContext(ctx, `
		SELECT rate FROM fx_rates WHERE rate_date <= ?
		ORDER BY rate_date DESC LIMIT 1`, dateKey(date)).Scan(&rate)
	if err == sql.ErrNoRows {
		return decimal.Decimal{}, false, nil
	}
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	return mustParse(rate), true, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// timeFormat is the fixed-width form every timestamp column stores.
// RFC3339Nano trims trailing zeros, which breaks lexicographic
// comparison ('Z' sorts after '.'), so all writes and range cutoffs go
// through this layout instead. Reads still parse with RFC3339Nano,
// which accepts the fixed-width form.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func mustParse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// dateKey normalizes a timestamp to the YYYY-MM-DD key fx_rates uses.
func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// formatCutoff turns a range bound into the same fixed-width form the
// created_at column stores. A zero bound is open on its side of the
// range.
func formatCutoff(t time.Time, upper bool) string {
	if t.IsZero() {
		if upper {
			return "9999-12-31T23:59:59.999999999Z"
		}
		return "0000-01-01T00:00:00.000000000Z"
	}
	return formatTime(t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
