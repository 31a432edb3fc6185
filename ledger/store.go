/*
store.go - Persistence interfaces for the movement log and accounts

PURPOSE:
  Defines the interface between the domain logic and the database.
  The Store maintains append-only semantics for movements. Different
  implementations can use SQLite or in-memory storage.

APPEND-ONLY CONTRACT:
  - Append(): Single movement write
  - NO Update() or Delete() methods exist for movements
  - Corrections via compensating movements only

IDEMPOTENCY:
  A movement may carry an idempotency key. If the key already exists,
  the write is rejected with ErrDuplicateIdempotencyKey. This prevents
  duplicate movements from network retries or user double-clicks.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite with DB-level constraints
  - ledger/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level Ledger using Store
  - payments/store.go: Transactional composite used by settlement
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Movement persistence (append-only)
// =============================================================================

// Store handles persistence of movements and accounts.
// IMPORTANT: movements are APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// Append persists a movement. Returns ErrDuplicateIdempotencyKey if
	// the movement's idempotency key already exists. This is the ONLY
	// write operation on the movement log.
	Append(ctx context.Context, m Movement) error

	// Movements returns all movements for an account, ordered by
	// creation time. Read-only.
	Movements(ctx context.Context, accountID AccountID) ([]Movement, error)

	// MovementsInRange returns an account's movements created in
	// [from, to]. Read-only.
	MovementsInRange(ctx context.Context, accountID AccountID, from, to time.Time) ([]Movement, error)

	// MovementsByOperation returns all movements referencing an
	// operation, across accounts. Backs the per-operation audit trail.
	MovementsByOperation(ctx context.Context, operationID OperationID) ([]Movement, error)

	// AllMovementsInRange returns every movement created in [from, to],
	// across all accounts. Used by the monthly position compiler.
	AllMovementsInRange(ctx context.Context, from, to time.Time) ([]Movement, error)

	// Exists checks if an idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)

	// Account returns an account by ID, or ErrAccountNotFound.
	Account(ctx context.Context, id AccountID) (FinancialAccount, error)

	// Accounts returns all accounts, optionally filtered by agency
	// (empty string = all).
	Accounts(ctx context.Context, agencyID string) ([]FinancialAccount, error)

	// SaveAccount creates an account. InitialBalance is fixed here and
	// never mutated afterwards.
	SaveAccount(ctx context.Context, a FinancialAccount) error
}

// =============================================================================
// FX RATE STORE - Dated official rates
// =============================================================================

// RateStore persists dated ARS-per-USD rates. One rate per date.
type RateStore interface {
	// SaveRate records the rate for a date. Recording twice for the same
	// date replaces the rate: rates are reference data, not audit events.
	SaveRate(ctx context.Context, date time.Time, rate decimal.Decimal) error

	// RateOn returns the rate for the exact date, or ok=false.
	RateOn(ctx context.Context, date time.Time) (decimal.Decimal, bool, error)

	// LatestRateBefore returns the most recent rate on or before the
	// date, or ok=false when none exists.
	LatestRateBefore(ctx context.Context, date time.Time) (decimal.Decimal, bool, error)
}
