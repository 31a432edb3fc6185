/*
compiler.go - Deriving the monthly position from the ledger

PURPOSE:
  Composes every other read-side projection - account balances, the
  receivables/payables aggregator, pending expenses and period movement
  sums - into one self-verifying snapshot.

DERIVATION PATHS (all stateless, recomputed per call):
  cajaYBancos     balances of liquid accounts (cash, checking, savings)
                  as of period end, via the one BalanceCalculator
  cuentasPorCobrar/PorPagar
                  Aggregator rollups (customers / operators)
  gastosAPagar    unpaid expense obligations
  resultadoDelMes movements created inside the period, bucketed by the
                  settling account's currency:
                    ingresos = INCOME + FX_GAIN
                    costos   = OPERATOR_PAYMENT
                    gastos   = EXPENSE + COMMISSION + FX_LOSS
  resultadosAcumulados
                  signed sum of all movements before the period start
                  (prior periods' resultado, derived from the ledger)

THE IDENTITY:
  verificacionContable = |Activo - (Pasivo + PN)| < 0.01 USD.
  It holds exactly when capital matches the opening contributed funds
  and the period's receivables/payables are settled; outstanding CxC
  and CxP legs flip it to false, which is precisely what the flag is
  for.

DEGRADATION:
  A failing section is zeroed and noted (DataIncomplete=true) rather
  than crashing the report. Monetary WRITE errors are never swallowed
  anywhere; this leniency is read-side only.
*/
package position

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/altiplano/finance-engine/ledger"
	"github.com/altiplano/finance-engine/payments"
)

// =============================================================================
// COMPILER
// =============================================================================

type Compiler struct {
	Store payments.Store
	FX    *ledger.Resolver

	// Capital is the configured contributed capital in USD-equivalent
	// terms. Default zero.
	Capital decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Compile assembles the monthly position for a period, optionally
// scoped to one agency.
func (c *Compiler) Compile(ctx context.Context, period ledger.Period, agencyID string) (MonthlyPosition, error) {
	pos := MonthlyPosition{Period: period, AgencyID: agencyID}

	rate, err := c.FX.RateForOrLatest(ctx, period.End)
	if err != nil {
		pos.DataIncomplete = true
		pos.Notes = append(pos.Notes, "no reference rate available; ARS legs excluded from USD totals")
		rate = decimal.Zero
	}
	pos.ReferenceRate = rate

	accounts, err := c.Store.Accounts(ctx, agencyID)
	if err != nil {
		return pos, fmt.Errorf("loading accounts: %w", err)
	}

	calc := &ledger.BalanceCalculator{Store: c.Store}
	aggregator := &payments.Aggregator{Store: c.Store}

	// --- Activo ---

	caja, err := c.compileCaja(ctx, calc, accounts, period.End, rate)
	if err != nil {
		pos.DataIncomplete = true
		pos.Notes = append(pos.Notes, "caja y bancos unavailable: "+err.Error())
	}
	pos.Activo.CajaYBancos = caja

	cxc, err := c.compileReceivables(ctx, aggregator, agencyID, rate)
	if err != nil {
		pos.DataIncomplete = true
		pos.Notes = append(pos.Notes, "cuentas por cobrar unavailable: "+err.Error())
	}
	pos.Activo.CuentasPorCobrar = cxc

	pos.Activo.Corriente = ledger.RoundMoney(caja.TotalUSD.Add(cxc.TotalUSD))
	pos.Activo.NoCorriente = decimal.Zero
	pos.Activo.Total = pos.Activo.Corriente.Add(pos.Activo.NoCorriente)

	// --- Pasivo ---

	cxp, err := c.compilePayables(ctx, aggregator, agencyID, rate)
	if err != nil {
		pos.DataIncomplete = true
		pos.Notes = append(pos.Notes, "cuentas por pagar unavailable: "+err.Error())
	}
	pos.Pasivo.CuentasPorPagar = cxp

	gastos, err := c.compilePendingExpenses(ctx, aggregator, agencyID, rate)
	if err != nil {
		pos.DataIncomplete = true
		pos.Notes = append(pos.Notes, "gastos a pagar unavailable: "+err.Error())
	}
	pos.Pasivo.GastosAPagar = gastos

	pos.Pasivo.Corriente = ledger.RoundMoney(cxp.TotalUSD.Add(gastos.TotalUSD))
	pos.Pasivo.NoCorriente = decimal.Zero
	pos.Pasivo.Total = pos.Pasivo.Corriente.Add(pos.Pasivo.NoCorriente)

	// --- Resultado del mes + Patrimonio Neto ---

	resultado, accumulated, err := c.compileResultado(ctx, accounts, period, rate)
	if err != nil {
		pos.DataIncomplete = true
		pos.Notes = append(pos.Notes, "resultado del mes unavailable: "+err.Error())
	}
	pos.ResultadoDelMes = resultado

	pos.PatrimonioNeto = PatrimonioNeto{
		Capital:               c.Capital,
		ResultadosAcumulados:  accumulated,
		ResultadoDelEjercicio: resultado.Resultado,
	}
	pos.PatrimonioNeto.Total = ledger.RoundMoney(
		c.Capital.Add(accumulated).Add(resultado.Resultado))

	pos.VerificacionContable = ledger.WithinEpsilon(
		pos.Activo.Total,
		pos.Pasivo.Total.Add(pos.PatrimonioNeto.Total))

	return pos, nil
}

// =============================================================================
// SECTION DERIVATIONS
// =============================================================================

func (c *Compiler) compileCaja(ctx context.Context, calc *ledger.BalanceCalculator, accounts []ledger.FinancialAccount, end time.Time, rate decimal.Decimal) (CajaYBancos, error) {
	caja := CajaYBancos{SaldoARS: decimal.Zero, SaldoUSD: decimal.Zero}
	for _, a := range accounts {
		if !a.Type.IsLiquid() || !a.IsActive {
			continue
		}
		balance, err := calc.BalanceAsOf(ctx, a.ID, end)
		if err != nil {
			return CajaYBancos{zero(), zero(), zero()}, err
		}
		switch a.Currency {
		case ledger.USD:
			caja.SaldoUSD = caja.SaldoUSD.Add(balance)
		default:
			caja.SaldoARS = caja.SaldoARS.Add(balance)
		}
	}
	caja.TotalUSD = usdEquivalent(caja.SaldoARS, caja.SaldoUSD, rate)
	return caja, nil
}

func (c *Compiler) compileReceivables(ctx context.Context, agg *payments.Aggregator, agencyID string, rate decimal.Decimal) (CuentasPorCobrar, error) {
	debtors, err := agg.Debtors(ctx, payments.Filters{AgencyID: agencyID})
	if err != nil {
		return CuentasPorCobrar{SaldoARS: zero(), SaldoUSD: zero(), TotalUSD: zero()}, err
	}
	cxc := CuentasPorCobrar{SaldoARS: decimal.Zero, SaldoUSD: decimal.Zero, Deudores: len(debtors)}
	for _, d := range debtors {
		cxc.SaldoARS = cxc.SaldoARS.Add(d.TotalARS)
		cxc.SaldoUSD = cxc.SaldoUSD.Add(d.TotalUSD)
	}
	cxc.TotalUSD = usdEquivalent(cxc.SaldoARS, cxc.SaldoUSD, rate)
	return cxc, nil
}

func (c *Compiler) compilePayables(ctx context.Context, agg *payments.Aggregator, agencyID string, rate decimal.Decimal) (CuentasPorPagar, error) {
	creditors, err := agg.Creditors(ctx, payments.Filters{AgencyID: agencyID})
	if err != nil {
		return CuentasPorPagar{SaldoARS: zero(), SaldoUSD: zero(), TotalUSD: zero()}, err
	}
	cxp := CuentasPorPagar{SaldoARS: decimal.Zero, SaldoUSD: decimal.Zero, Acreedores: len(creditors)}
	for _, cr := range creditors {
		cxp.SaldoARS = cxp.SaldoARS.Add(cr.TotalARS)
		cxp.SaldoUSD = cxp.SaldoUSD.Add(cr.TotalUSD)
	}
	cxp.TotalUSD = usdEquivalent(cxp.SaldoARS, cxp.SaldoUSD, rate)
	return cxp, nil
}

func (c *Compiler) compilePendingExpenses(ctx context.Context, agg *payments.Aggregator, agencyID string, rate decimal.Decimal) (GastosAPagar, error) {
	ars, usd, count, err := agg.PendingExpenses(ctx, agencyID)
	if err != nil {
		return GastosAPagar{SaldoARS: zero(), SaldoUSD: zero(), TotalUSD: zero()}, err
	}
	return GastosAPagar{
		SaldoARS: ars,
		SaldoUSD: usd,
		TotalUSD: usdEquivalent(ars, usd, rate),
		Cantidad: count,
	}, nil
}

// compileResultado walks every movement up to the period's end once:
// movements inside the period feed the income statement, earlier ones
// feed the accumulated result. Each movement contributes in the
// currency of the account it settled in, the same magnitude the
// balance projection uses, so the balance sheet and the income
// statement cannot disagree.
func (c *Compiler) compileResultado(ctx context.Context, accounts []ledger.FinancialAccount, period ledger.Period, rate decimal.Decimal) (ResultadoDelMes, decimal.Decimal, error) {
	currencies := make(map[ledger.AccountID]ledger.Currency, len(accounts))
	for _, a := range accounts {
		currencies[a.ID] = a.Currency
	}

	movements, err := c.Store.AllMovementsInRange(ctx, zeroTime(), period.End)
	if err != nil {
		return zeroResultado(), zero(), err
	}

	r := zeroResultado()
	accARS, accUSD := decimal.Zero, decimal.Zero
	for _, m := range movements {
		currency, ok := currencies[m.AccountID]
		if !ok {
			continue // account outside the agency scope
		}
		if !period.Contains(m.CreatedAt) {
			addLeg(&accARS, &accUSD, currency, m.SignedAmount(currency))
			continue
		}
		amount := m.NativeAmount(currency)
		switch m.Type {
		case ledger.MovementIncome, ledger.MovementFxGain:
			addLeg(&r.IngresosARS, &r.IngresosUSD, currency, amount)
		case ledger.MovementOperatorPayment:
			addLeg(&r.CostosARS, &r.CostosUSD, currency, amount)
		default: // EXPENSE, COMMISSION, FX_LOSS
			addLeg(&r.GastosARS, &r.GastosUSD, currency, amount)
		}
	}

	r.IngresosTotal = usdEquivalent(r.IngresosARS, r.IngresosUSD, rate)
	r.CostosTotal = usdEquivalent(r.CostosARS, r.CostosUSD, rate)
	r.GastosTotal = usdEquivalent(r.GastosARS, r.GastosUSD, rate)
	r.Resultado = ledger.RoundMoney(r.IngresosTotal.Sub(r.CostosTotal).Sub(r.GastosTotal))

	if r.IngresosTotal.IsPositive() {
		r.MargenBrutoPct = r.IngresosTotal.Sub(r.CostosTotal).
			Div(r.IngresosTotal).Mul(hundred).Round(2)
	}

	return r, usdEquivalent(accARS, accUSD, rate), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func addLeg(ars, usd *decimal.Decimal, currency ledger.Currency, amount decimal.Decimal) {
	if currency == ledger.USD {
		*usd = usd.Add(amount)
	} else {
		*ars = ars.Add(amount)
	}
}

// usdEquivalent totals an ARS leg and a USD leg in USD at the given
// rate. With no rate available the ARS leg is excluded (the caller has
// already flagged the report incomplete).
func usdEquivalent(ars, usd, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return ledger.RoundMoney(usd)
	}
	return ledger.RoundMoney(usd.Add(ars.Div(rate)))
}

func zero() decimal.Decimal { return decimal.Zero }

func zeroResultado() ResultadoDelMes {
	z := decimal.Zero
	return ResultadoDelMes{
		IngresosARS: z, IngresosUSD: z, IngresosTotal: z,
		CostosARS: z, CostosUSD: z, CostosTotal: z,
		GastosARS: z, GastosUSD: z, GastosTotal: z,
		Resultado: z, MargenBrutoPct: z,
	}
}

func zeroTime() time.Time { return time.Time{} }
