/*
types.go - Accounts and ledger movements

PURPOSE:
  Defines the two persistent record shapes the engine is built on:
  - FinancialAccount: a cash/bank/receivable/payable bucket with a fixed
    initial balance. Balance is NEVER stored mutably - always derived.
  - Movement: one immutable money event affecting exactly one account.

INVARIANTS:
  1. A movement is immutable once inserted. Corrections are new
     compensating movements, never updates or deletes.
  2. AmountARSEquivalent is always expressed in ARS regardless of the
     movement's recorded currency.
  3. An account's type implies its native currency; mismatches are
     rejected at construction.

SEE ALSO:
  - ledger.go: Append validation
  - balance.go: How movements contribute to a balance
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type MovementID string
type OperationID string

// =============================================================================
// FINANCIAL ACCOUNT
// =============================================================================

type AccountType string

const (
	AccountCashARS     AccountType = "CASH_ARS"
	AccountCashUSD     AccountType = "CASH_USD"
	AccountCheckingARS AccountType = "CHECKING_ARS"
	AccountCheckingUSD AccountType = "CHECKING_USD"
	AccountSavingsARS  AccountType = "SAVINGS_ARS"
	AccountSavingsUSD  AccountType = "SAVINGS_USD"
	AccountReceivable  AccountType = "ACCOUNTS_RECEIVABLE"
	AccountPayable     AccountType = "ACCOUNTS_PAYABLE"
)

// NativeCurrency returns the currency implied by the account type.
// Receivable/payable control accounts are tracked in ARS.
func (t AccountType) NativeCurrency() Currency {
	switch t {
	case AccountCashUSD, AccountCheckingUSD, AccountSavingsUSD:
		return USD
	default:
		return ARS
	}
}

// IsLiquid reports whether the account is a cash/bank account that
// contributes to "caja y bancos" in the monthly position.
func (t AccountType) IsLiquid() bool {
	switch t {
	case AccountCashARS, AccountCashUSD,
		AccountCheckingARS, AccountCheckingUSD,
		AccountSavingsARS, AccountSavingsUSD:
		return true
	default:
		return false
	}
}

func (t AccountType) Valid() bool {
	switch t {
	case AccountCashARS, AccountCashUSD, AccountCheckingARS, AccountCheckingUSD,
		AccountSavingsARS, AccountSavingsUSD, AccountReceivable, AccountPayable:
		return true
	default:
		return false
	}
}

// FinancialAccount is a money bucket. InitialBalance is fixed at
// creation and never mutated; the current balance is always derived by
// the BalanceCalculator.
type FinancialAccount struct {
	ID             AccountID
	Name           string
	Type           AccountType
	Currency       Currency
	InitialBalance decimal.Decimal
	IsActive       bool
	AgencyID       string // optional scope
	CreatedAt      time.Time
}

// NewAccount builds an account, rejecting type/currency mismatches so an
// ARS-typed account can never be tagged USD.
func NewAccount(id AccountID, name string, typ AccountType, initial decimal.Decimal, agencyID string) (FinancialAccount, error) {
	if !typ.Valid() {
		return FinancialAccount{}, fmt.Errorf("invalid account type %q", typ)
	}
	return FinancialAccount{
		ID:             id,
		Name:           name,
		Type:           typ,
		Currency:       typ.NativeCurrency(),
		InitialBalance: RoundMoney(initial),
		IsActive:       true,
		AgencyID:       agencyID,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// =============================================================================
// MOVEMENT - Atomic, immutable money event
// =============================================================================

type MovementType string

const (
	MovementIncome          MovementType = "INCOME"
	MovementExpense         MovementType = "EXPENSE"
	MovementOperatorPayment MovementType = "OPERATOR_PAYMENT"
	MovementCommission      MovementType = "COMMISSION"
	MovementFxGain          MovementType = "FX_GAIN"
	MovementFxLoss          MovementType = "FX_LOSS"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementIncome, MovementExpense, MovementOperatorPayment,
		MovementCommission, MovementFxGain, MovementFxLoss:
		return true
	default:
		return false
	}
}

// Sign returns +1 for movement types that increase a balance and -1 for
// those that decrease it.
func (t MovementType) Sign() int {
	switch t {
	case MovementIncome, MovementFxGain:
		return 1
	default:
		return -1
	}
}

// Movement is one money event against one account. Immutable once
// inserted; the store exposes no update or delete.
type Movement struct {
	ID      MovementID
	Type    MovementType
	Concept string

	// Currency the movement was recorded in, and the amount in it.
	Currency       Currency
	AmountOriginal decimal.Decimal

	// ExchangeRate is the ARS-per-USD rate used if a conversion happened
	// at record time. Nil when the movement is native to its account.
	// Immutable history: display overrides never rewrite it.
	ExchangeRate *decimal.Decimal

	// AmountARSEquivalent is always expressed in ARS.
	AmountARSEquivalent decimal.Decimal

	AccountID AccountID

	// Optional references back to the operational system.
	OperationID OperationID
	LeadID      string
	SellerID    string
	OperatorID  string

	CreatedBy     string
	CreatedAt     time.Time
	ReceiptNumber string

	// IdempotencyKey guards against double-posting from retries. Empty
	// means no guard.
	IdempotencyKey string
}

// NativeAmount returns the movement's magnitude in the given account
// currency. For USD accounts a movement recorded in ARS contributes its
// ARS equivalent divided by the captured rate; append validation
// guarantees the rate is present for that combination.
func (m Movement) NativeAmount(accountCurrency Currency) decimal.Decimal {
	if accountCurrency == USD {
		if m.Currency == USD {
			return m.AmountOriginal
		}
		if m.ExchangeRate == nil || m.ExchangeRate.IsZero() {
			return decimal.Zero
		}
		return RoundMoney(m.AmountARSEquivalent.Div(*m.ExchangeRate))
	}
	return m.AmountARSEquivalent
}

// SignedAmount is NativeAmount with the movement type's sign applied.
func (m Movement) SignedAmount(accountCurrency Currency) decimal.Decimal {
	amount := m.NativeAmount(accountCurrency)
	if m.Type.Sign() < 0 {
		return amount.Neg()
	}
	return amount
}
