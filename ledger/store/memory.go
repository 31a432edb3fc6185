// Package store provides the in-memory Store implementation used by
// tests and demo setups. It implements the full payments.Store surface
// plus ledger.RateStore.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/altiplano/finance-engine/ledger"
	"github.com/altiplano/finance-engine/payments"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	accounts    map[ledger.AccountID]ledger.FinancialAccount
	movements   map[ledger.AccountID][]ledger.Movement
	idempotency map[string]bool

	payments         map[string]payments.Payment
	operatorPayments map[string]payments.OperatorPayment
	expenses         map[string]payments.ExpenseObligation
	operations       map[ledger.OperationID]payments.Operation

	rates map[time.Time]decimal.Decimal
}

func NewMemory() *Memory {
	return &Memory{
		accounts:         make(map[ledger.AccountID]ledger.FinancialAccount),
		movements:        make(map[ledger.AccountID][]ledger.Movement),
		idempotency:      make(map[string]bool),
		payments:         make(map[string]payments.Payment),
		operatorPayments: make(map[string]payments.OperatorPayment),
		expenses:         make(map[string]payments.ExpenseObligation),
		operations:       make(map[ledger.OperationID]payments.Operation),
		rates:            make(map[time.Time]decimal.Decimal),
	}
}

// =============================================================================
// ledger.Store
// =============================================================================

// Append adds a movement. Append-only: there is no update or delete.
func (m *Memory) Append(_ context.Context, mv ledger.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mv.IdempotencyKey != "" && m.idempotency[mv.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}
	m.movements[mv.AccountID] = append(m.movements[mv.AccountID], mv)
	if mv.IdempotencyKey != "" {
		m.idempotency[mv.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) Movements(_ context.Context, accountID ledger.AccountID) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Movement, len(m.movements[accountID]))
	copy(result, m.movements[accountID])
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) MovementsInRange(_ context.Context, accountID ledger.AccountID, from, to time.Time) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Movement
	for _, mv := range m.movements[accountID] {
		if inRange(mv.CreatedAt, from, to) {
			result = append(result, mv)
		}
	}
	return result, nil
}

func (m *Memory) MovementsByOperation(_ context.Context, operationID ledger.OperationID) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Movement
	for _, list := range m.movements {
		for _, mv := range list {
			if mv.OperationID == operationID {
				result = append(result, mv)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) AllMovementsInRange(_ context.Context, from, to time.Time) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Movement
	for _, list := range m.movements {
		for _, mv := range list {
			if inRange(mv.CreatedAt, from, to) {
				result = append(result, mv)
			}
		}
	}
	return result, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

func (m *Memory) Account(_ context.Context, id ledger.AccountID) (ledger.FinancialAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return ledger.FinancialAccount{}, ledger.ErrAccountNotFound
	}
	return a, nil
}

func (m *Memory) Accounts(_ context.Context, agencyID string) ([]ledger.FinancialAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.FinancialAccount
	for _, a := range m.accounts {
		if agencyID == "" || a.AgencyID == agencyID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SaveAccount(_ context.Context, a ledger.FinancialAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
	return nil
}

// =============================================================================
// payments.Store - payment records
// =============================================================================

func (m *Memory) Payment(_ context.Context, id string) (payments.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payments[id]
	if !ok {
		return payments.Payment{}, ledger.ErrPaymentNotFound
	}
	return p, nil
}

func (m *Memory) SavePayment(_ context.Context, p payments.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
	return nil
}

func (m *Memory) PaymentsByOperation(_ context.Context, operationID ledger.OperationID) ([]payments.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []payments.Payment
	for _, p := range m.payments {
		if p.OperationID == operationID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) Payments(_ context.Context) ([]payments.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]payments.Payment, 0, len(m.payments))
	for _, p := range m.payments {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// SettlePayment is the in-memory compare-and-swap. Mirrors the SQL
// UPDATE ... WHERE status = 'PENDING' AND ledger_movement_id IS NULL.
func (m *Memory) SettlePayment(_ context.Context, id string, movementID ledger.MovementID, paidAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return false, ledger.ErrPaymentNotFound
	}
	if p.Status != payments.StatusPending || p.LedgerMovementID != "" {
		return false, nil
	}
	p.Status = payments.StatusPaid
	p.DatePaid = &paidAt
	p.LedgerMovementID = movementID
	m.payments[id] = p
	return true, nil
}

func (m *Memory) OperatorPayment(_ context.Context, id string) (payments.OperatorPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.operatorPayments[id]
	if !ok {
		return payments.OperatorPayment{}, ledger.ErrPaymentNotFound
	}
	return p, nil
}

func (m *Memory) SaveOperatorPayment(_ context.Context, p payments.OperatorPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operatorPayments[p.ID] = p
	return nil
}

func (m *Memory) OperatorPaymentsByOperation(_ context.Context, operationID ledger.OperationID) ([]payments.OperatorPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []payments.OperatorPayment
	for _, p := range m.operatorPayments {
		if p.OperationID == operationID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) OperatorPayments(_ context.Context) ([]payments.OperatorPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]payments.OperatorPayment, 0, len(m.operatorPayments))
	for _, p := range m.operatorPayments {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SettleOperatorPayment(_ context.Context, id string, movementID ledger.MovementID, paidAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.operatorPayments[id]
	if !ok {
		return false, ledger.ErrPaymentNotFound
	}
	if p.Status != payments.StatusPending || p.LedgerMovementID != "" {
		return false, nil
	}
	p.Status = payments.StatusPaid
	p.DatePaid = &paidAt
	p.PaidAmount = p.Amount
	p.LedgerMovementID = movementID
	m.operatorPayments[id] = p
	return true, nil
}

func (m *Memory) Expense(_ context.Context, id string) (payments.ExpenseObligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.expenses[id]
	if !ok {
		return payments.ExpenseObligation{}, ledger.ErrPaymentNotFound
	}
	return e, nil
}

func (m *Memory) SaveExpense(_ context.Context, e payments.ExpenseObligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expenses[e.ID] = e
	return nil
}

func (m *Memory) Expenses(_ context.Context) ([]payments.ExpenseObligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]payments.ExpenseObligation, 0, len(m.expenses))
	for _, e := range m.expenses {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SettleExpense(_ context.Context, id string, movementID ledger.MovementID, paidAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.expenses[id]
	if !ok {
		return false, ledger.ErrPaymentNotFound
	}
	if e.Status != payments.StatusPending || e.LedgerMovementID != "" {
		return false, nil
	}
	e.Status = payments.StatusPaid
	e.DatePaid = &paidAt
	e.LedgerMovementID = movementID
	m.expenses[id] = e
	return true, nil
}

func (m *Memory) Operation(_ context.Context, id ledger.OperationID) (payments.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	op, ok := m.operations[id]
	if !ok {
		return payments.Operation{}, ledger.ErrOperationNotFound
	}
	return op, nil
}

func (m *Memory) Operations(_ context.Context) ([]payments.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]payments.Operation, 0, len(m.operations))
	for _, op := range m.operations {
		result = append(result, op)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SaveOperation(_ context.Context, op payments.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[op.ID] = op
	return nil
}

// WithTx runs fn against the store directly. The memory store has no
// rollback; tests that need transactional failure injection wrap the
// store instead.
func (m *Memory) WithTx(_ context.Context, fn func(payments.Store) error) error {
	return fn(m)
}

// =============================================================================
// ledger.RateStore
// =============================================================================

func (m *Memory) SaveRate(_ context.Context, date time.Time, rate decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[day(date)] = rate
	return nil
}

func (m *Memory) RateOn(_ context.Context, date time.Time) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rate, ok := m.rates[day(date)]
	return rate, ok, nil
}

func (m *Memory) LatestRateBefore(_ context.Context, date time.Time) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		best     time.Time
		bestRate decimal.Decimal
		found    bool
	)
	cutoff := day(date)
	for d, r := range m.rates {
		if d.After(cutoff) {
			continue
		}
		if !found || d.After(best) {
			best, bestRate, found = d, r, true
		}
	}
	return bestRate, found, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
