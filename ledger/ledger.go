/*
ledger.go - Append-only movement log

PURPOSE:
  The Ledger is the immutable source of truth for all money events.
  Every income, expense, operator payment, commission and FX result is
  recorded here. Balance is always computed by replaying movements -
  there is no separate "current_balance" field that can get out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, movements cannot be modified
  3. AUDITABLE: Every balance change is traceable with full context
  4. IDEMPOTENT: Same idempotency key = same movement (no duplicates)

VALIDATION (before any write):
  - The account must exist and be active
  - AmountOriginal must be positive
  - AmountARSEquivalent must be positive (always expressed in ARS)
  - A cross-currency movement (movement currency != account currency)
    must carry the exchange rate used, so the account's native-currency
    contribution is resolvable without guessing a rate

CORRECTIONS:
  If a mistake is made, you don't edit the movement. You append a
  compensating movement of the opposite type. Both remain in the ledger;
  the net effect is the correction, and history is preserved.

SEE ALSO:
  - store.go: Low-level persistence interface
  - balance.go: Balance as a pure projection over this log
*/
package ledger

import "context"

// =============================================================================
// LEDGER - Validated append over a Store
// =============================================================================

type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Append validates and durably records a movement, returning its ID.
// No other system state changes. Fails with a *ValidationError before
// any write on a malformed movement.
func (l *Ledger) Append(ctx context.Context, m Movement) (MovementID, error) {
	account, err := l.store.Account(ctx, m.AccountID)
	if err != nil {
		return "", err
	}
	if !account.IsActive {
		return "", ErrAccountInactive
	}
	if err := Validate(m, account); err != nil {
		return "", err
	}
	if m.IdempotencyKey != "" {
		exists, err := l.store.Exists(ctx, m.IdempotencyKey)
		if err != nil {
			return "", err
		}
		if exists {
			return "", ErrDuplicateIdempotencyKey
		}
	}
	if err := l.store.Append(ctx, m); err != nil {
		return "", err
	}
	return m.ID, nil
}

// Movements returns an account's full movement history. Read-only.
func (l *Ledger) Movements(ctx context.Context, accountID AccountID) ([]Movement, error) {
	return l.store.Movements(ctx, accountID)
}

// Validate checks a movement against its target account without
// touching the store. Exported so transactional settlement can validate
// inside WithTx with the account already loaded.
func Validate(m Movement, account FinancialAccount) error {
	if m.ID == "" {
		return &ValidationError{Field: "id", Message: "missing movement id"}
	}
	if !m.Type.Valid() {
		return &ValidationError{Field: "type", Message: "unknown movement type " + string(m.Type)}
	}
	if !m.Currency.Valid() {
		return &ValidationError{Field: "currency", Message: "unknown currency " + string(m.Currency)}
	}
	if !m.AmountOriginal.IsPositive() {
		return &ValidationError{Field: "amount_original", Message: "must be positive"}
	}
	if !m.AmountARSEquivalent.IsPositive() {
		return &ValidationError{Field: "amount_ars_equivalent", Message: "must be positive"}
	}
	if m.Currency != account.Currency {
		// The account must resolve its native contribution without
		// guessing a rate. ARS accounts read AmountARSEquivalent, which
		// is already validated; USD accounts additionally need the rate
		// the conversion was made at.
		if account.Currency == USD && (m.ExchangeRate == nil || !m.ExchangeRate.IsPositive()) {
			return &ValidationError{
				Field:   "exchange_rate",
				Message: "required for a " + string(m.Currency) + " movement on a " + string(account.Currency) + " account",
			}
		}
	}
	if m.ExchangeRate != nil && !m.ExchangeRate.IsPositive() {
		return &ValidationError{Field: "exchange_rate", Message: "must be positive when present"}
	}
	return nil
}
