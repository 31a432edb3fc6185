/*
sqlite_test.go - Unit tests for the SQLite store

Focuses on the guarantees the in-memory store cannot prove: the
conditional settlement UPDATE, the UNIQUE idempotency index and the
write-once initial balance surviving a round-trip through TEXT columns.
*/
package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/altiplano/finance-engine/ledger"
	"github.com/altiplano/finance-engine/payments"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testClock = time.Date(2025, time.June, 10, 15, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAccount(t *testing.T, s *Store, id ledger.AccountID) ledger.FinancialAccount {
	t.Helper()
	account, err := ledger.NewAccount(id, string(id), ledger.AccountCashARS,
		ledger.MustDecimal("10000"), "agency-1")
	if err != nil {
		t.Fatalf("failed to build account: %v", err)
	}
	if err := s.SaveAccount(context.Background(), account); err != nil {
		t.Fatalf("failed to save account: %v", err)
	}
	return account
}

func seedPayment(t *testing.T, s *Store, id string) payments.Payment {
	t.Helper()
	p := payments.Payment{
		ID:          id,
		OperationID: "op-1",
		PayerType:   payments.PayerCustomer,
		Direction:   payments.DirectionInbound,
		Method:      payments.MethodTransfer,
		Amount:      ledger.MustDecimal("350000"),
		Currency:    ledger.ARS,
		DateDue:     testClock,
		Status:      payments.StatusPending,
		CreatedAt:   testClock,
	}
	if err := s.SavePayment(context.Background(), p); err != nil {
		t.Fatalf("failed to save payment: %v", err)
	}
	return p
}

func movement(id ledger.MovementID, accountID ledger.AccountID, key string) ledger.Movement {
	amount := ledger.MustDecimal("350000")
	return ledger.Movement{
		ID:                  id,
		AccountID:           accountID,
		Type:                ledger.MovementIncome,
		Currency:            ledger.ARS,
		AmountOriginal:      amount,
		AmountARSEquivalent: amount,
		Concept:             "Cobro cuota",
		CreatedBy:           "maria",
		CreatedAt:           testClock,
		IdempotencyKey:      key,
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestSaveAccount_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "caja")

	loaded, err := s.Account(ctx, "caja")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Name != account.Name || loaded.Currency != ledger.ARS {
		t.Errorf("expected %s/ARS, got %s/%s", account.Name, loaded.Name, loaded.Currency)
	}
	if !loaded.InitialBalance.Equal(ledger.MustDecimal("10000")) {
		t.Errorf("expected initial balance 10000, got %v", loaded.InitialBalance)
	}
}

func TestSaveAccount_InitialBalanceIsWriteOnce(t *testing.T) {
	// Re-saving an account updates name and active flag but never the
	// initial balance: changing it would rewrite history.

	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "caja")

	account.Name = "Caja Principal"
	account.InitialBalance = ledger.MustDecimal("999999")
	if err := s.SaveAccount(ctx, account); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, _ := s.Account(ctx, "caja")
	if loaded.Name != "Caja Principal" {
		t.Errorf("expected updated name, got %s", loaded.Name)
	}
	if !loaded.InitialBalance.Equal(ledger.MustDecimal("10000")) {
		t.Errorf("expected initial balance preserved at 10000, got %v", loaded.InitialBalance)
	}
}

func TestAccount_Unknown_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Account(context.Background(), "nope")
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func TestAppend_DuplicateIdempotencyKey_Rejected(t *testing.T) {
	// The UNIQUE partial index is the database-level guard behind the
	// application-level duplicate check.

	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "caja")

	if err := s.Append(ctx, movement("mv-1", account.ID, "key-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := s.Append(ctx, movement("mv-2", account.ID, "key-1"))
	if !errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		t.Errorf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}

	movements, _ := s.Movements(ctx, account.ID)
	if len(movements) != 1 {
		t.Errorf("expected 1 movement after rejected duplicate, got %d", len(movements))
	}
}

func TestAppend_EmptyKeysDoNotCollide(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "caja")

	if err := s.Append(ctx, movement("mv-1", account.ID, "")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Append(ctx, movement("mv-2", account.ID, "")); err != nil {
		t.Fatalf("expected unkeyed movements to coexist, got %v", err)
	}
}

func TestMovements_ReturnedOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "caja")

	later := movement("mv-later", account.ID, "")
	later.CreatedAt = testClock.Add(time.Hour)
	earlier := movement("mv-earlier", account.ID, "")

	s.Append(ctx, later)
	s.Append(ctx, earlier)

	movements, err := s.Movements(ctx, account.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(movements) != 2 || movements[0].ID != "mv-earlier" {
		t.Errorf("expected mv-earlier first, got %v", movements)
	}
}

func TestMovementsInRange_WholeSecondBoundaryIncluded(t *testing.T) {
	// GIVEN: A movement stamped exactly on a whole second at a month end
	// WHEN: Querying the month that ends on that second
	// THEN: The movement is inside the range
	//
	// created_at is compared as text, so a trimmed-precision render
	// ("...59Z") would sort after the full-precision period end and
	// silently fall out of the month.

	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "caja")

	boundary := movement("mv-boundary", account.ID, "")
	boundary.CreatedAt = time.Date(2025, time.June, 30, 23, 59, 59, 0, time.UTC)
	if err := s.Append(ctx, boundary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	june := ledger.MonthPeriod(2025, time.June)
	all, err := s.AllMovementsInRange(ctx, june.Start, june.End)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 1 || all[0].ID != "mv-boundary" {
		t.Errorf("expected the boundary movement in June, got %v", all)
	}

	scoped, err := s.MovementsInRange(ctx, account.ID, june.Start, june.End)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scoped) != 1 {
		t.Errorf("expected 1 movement for the account in June, got %d", len(scoped))
	}
}

func TestMovements_MixedPrecisionTimestampsStayOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "caja")

	whole := movement("mv-whole", account.ID, "")
	whole.CreatedAt = time.Date(2025, time.June, 10, 12, 0, 5, 0, time.UTC)
	fractional := movement("mv-fractional", account.ID, "")
	fractional.CreatedAt = time.Date(2025, time.June, 10, 12, 0, 4, 999999999, time.UTC)

	s.Append(ctx, whole)
	s.Append(ctx, fractional)

	movements, err := s.Movements(ctx, account.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(movements) != 2 || movements[0].ID != "mv-fractional" {
		t.Errorf("expected mv-fractional first, got %v", movements)
	}
}

// =============================================================================
// SETTLEMENT CAS
// =============================================================================

func TestSettlePayment_SecondFlipFindsNoRow(t *testing.T) {
	// GIVEN: A pending payment settled once
	// WHEN: Running the conditional UPDATE again
	// THEN: Zero rows match and the original link survives

	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "caja")
	seedPayment(t, s, "pay-1")
	s.Append(ctx, movement("mv-1", account.ID, "payment-pay-1"))

	flipped, err := s.SettlePayment(ctx, "pay-1", "mv-1", testClock)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !flipped {
		t.Fatal("expected the first settle to flip the row")
	}

	flipped, err = s.SettlePayment(ctx, "pay-1", "mv-other", testClock.Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flipped {
		t.Fatal("expected the second settle to find no pending row")
	}

	loaded, _ := s.Payment(ctx, "pay-1")
	if loaded.Status != payments.StatusPaid || loaded.LedgerMovementID != "mv-1" {
		t.Errorf("expected PAID linked to mv-1, got %s / %s", loaded.Status, loaded.LedgerMovementID)
	}
	if loaded.DatePaid == nil || !loaded.DatePaid.Equal(testClock) {
		t.Errorf("expected DatePaid %v, got %v", testClock, loaded.DatePaid)
	}
}

func TestWithTx_RollbackDiscardsWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	account := seedAccount(t, s, "caja")
	seedPayment(t, s, "pay-1")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx payments.Store) error {
		if err := tx.Append(ctx, movement("mv-1", account.ID, "payment-pay-1")); err != nil {
			return err
		}
		if _, err := tx.SettlePayment(ctx, "pay-1", "mv-1", testClock); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the fn error back, got %v", err)
	}

	movements, _ := s.Movements(ctx, account.ID)
	if len(movements) != 0 {
		t.Errorf("expected no movements after rollback, got %d", len(movements))
	}
	loaded, _ := s.Payment(ctx, "pay-1")
	if loaded.Status != payments.StatusPending {
		t.Errorf("expected payment back to PENDING, got %s", loaded.Status)
	}
}

// =============================================================================
// FX RATES
// =============================================================================

func TestRates_LatestBeforeFallsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	friday := time.Date(2025, time.June, 6, 0, 0, 0, 0, time.UTC)
	if err := s.SaveRate(ctx, friday, ledger.MustDecimal("1200")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rate, found, err := s.RateOn(ctx, friday)
	if err != nil || !found || !rate.Equal(ledger.MustDecimal("1200")) {
		t.Errorf("expected exact 1200, got %v found=%t err=%v", rate, found, err)
	}

	sunday := friday.AddDate(0, 0, 2)
	rate, found, err = s.LatestRateBefore(ctx, sunday)
	if err != nil || !found || !rate.Equal(ledger.MustDecimal("1200")) {
		t.Errorf("expected fallback 1200, got %v found=%t err=%v", rate, found, err)
	}

	_, found, err = s.LatestRateBefore(ctx, friday.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected no rate before the first recorded date")
	}
}

func TestSaveRate_UpsertsSameDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	day := time.Date(2025, time.June, 6, 0, 0, 0, 0, time.UTC)
	s.SaveRate(ctx, day, ledger.MustDecimal("1200"))
	s.SaveRate(ctx, day, ledger.MustDecimal("1250"))

	rate, found, err := s.RateOn(ctx, day)
	if err != nil || !found {
		t.Fatalf("expected a rate, got found=%t err=%v", found, err)
	}
	if !rate.Equal(ledger.MustDecimal("1250")) {
		t.Errorf("expected the later write to win, got %v", rate)
	}
}
