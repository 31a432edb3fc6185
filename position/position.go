/*
Package position assembles the monthly financial position: a full
balance sheet (Activo / Pasivo / Patrimonio Neto) plus the month's
income statement, with the accounting-identity self check.

KEY CONCEPTS IN THIS FILE (position.go):
  - MonthlyPosition: the computed snapshot. Derived, never persisted.
  - Section types with ARS/USD legs and a USD-equivalent total valued
    at the period's reference rate.
  - VerificacionContable: |Activo - (Pasivo + PN)| < 0.01 USD. A health
    check surfaced to operators, not a hard failure.

The "no corriente" (fixed assets / long-term debt) legs are explicit
zero-valued fields: the product does not track them yet, and an
explicit labeled zero beats a guessed computation.

SEE ALSO:
  - compiler.go: How each section is derived from the ledger
*/
package position

import (
	"github.com/shopspring/decimal"

	"github.com/altiplano/finance-engine/ledger"
)

// =============================================================================
// SECTIONS
// =============================================================================

// CajaYBancos sums the balances of all cash/bank accounts, split by
// native currency. TotalUSD values ARS legs at the reference rate.
type CajaYBancos struct {
	SaldoARS decimal.Decimal
	SaldoUSD decimal.Decimal
	TotalUSD decimal.Decimal
}

// CuentasPorCobrar is the receivables rollup: outstanding customer debt
// plus the count of distinct debtor customers.
type CuentasPorCobrar struct {
	SaldoARS decimal.Decimal
	SaldoUSD decimal.Decimal
	TotalUSD decimal.Decimal
	Deudores int
}

// CuentasPorPagar is the payables rollup toward operators.
type CuentasPorPagar struct {
	SaldoARS   decimal.Decimal
	SaldoUSD   decimal.Decimal
	TotalUSD   decimal.Decimal
	Acreedores int
}

// GastosAPagar sums unpaid non-operator expense obligations.
type GastosAPagar struct {
	SaldoARS decimal.Decimal
	SaldoUSD decimal.Decimal
	TotalUSD decimal.Decimal
	Cantidad int
}

type Activo struct {
	CajaYBancos      CajaYBancos
	CuentasPorCobrar CuentasPorCobrar
	Corriente        decimal.Decimal
	// NoCorriente (fixed assets, investments) is not tracked yet.
	// Explicit zero, reserved.
	NoCorriente decimal.Decimal
	Total       decimal.Decimal
}

type Pasivo struct {
	CuentasPorPagar CuentasPorPagar
	GastosAPagar    GastosAPagar
	Corriente       decimal.Decimal
	// NoCorriente (long-term debt) is not tracked yet. Explicit zero,
	// reserved.
	NoCorriente decimal.Decimal
	Total       decimal.Decimal
}

type PatrimonioNeto struct {
	Capital               decimal.Decimal
	ResultadosAcumulados  decimal.Decimal
	ResultadoDelEjercicio decimal.Decimal
	Total                 decimal.Decimal
}

// ResultadoDelMes is the month's income statement, split by the
// currency of the account each movement settled in. Totals are in
// USD-equivalent at the reference rate.
type ResultadoDelMes struct {
	IngresosARS   decimal.Decimal
	IngresosUSD   decimal.Decimal
	IngresosTotal decimal.Decimal

	CostosARS   decimal.Decimal
	CostosUSD   decimal.Decimal
	CostosTotal decimal.Decimal

	GastosARS   decimal.Decimal
	GastosUSD   decimal.Decimal
	GastosTotal decimal.Decimal

	Resultado      decimal.Decimal
	MargenBrutoPct decimal.Decimal
}

// =============================================================================
// MONTHLY POSITION
// =============================================================================

// MonthlyPosition is the full computed snapshot for a period. Reporting
// currency is USD; ReferenceRate is the ARS-per-USD rate resolved for
// the period end.
type MonthlyPosition struct {
	Period        ledger.Period
	AgencyID      string
	ReferenceRate decimal.Decimal

	Activo          Activo
	Pasivo          Pasivo
	PatrimonioNeto  PatrimonioNeto
	ResultadoDelMes ResultadoDelMes

	VerificacionContable bool

	// DataIncomplete is set when a read-side aggregation failed and its
	// section was zeroed instead of crashing the report. Notes say what
	// was dropped.
	DataIncomplete bool
	Notes          []string
}
