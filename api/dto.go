/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY ENCODING:
  Amounts travel as decimal strings ("1500.00"), never as JSON floats.
  Parsing happens in handlers via decimal.NewFromString.

SEE ALSO:
  - handlers.go: Uses these types
  - position/position.go: domain shape behind PositionDTO
*/
package api

import (
	"github.com/altiplano/finance-engine/payments"
	"github.com/altiplano/finance-engine/position"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// AccountDTO represents a financial account in API responses.
type AccountDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	Currency       string `json:"currency"`
	InitialBalance string `json:"initial_balance"`
	IsActive       bool   `json:"is_active"`
	AgencyID       string `json:"agency_id,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// CreateAccountRequest is the request to create an account.
type CreateAccountRequest struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	InitialBalance string `json:"initial_balance"`
	AgencyID       string `json:"agency_id"`
}

// BalanceDTO is the derived balance of one account.
type BalanceDTO struct {
	AccountID string `json:"account_id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	AsOf      string `json:"as_of,omitempty"`
}

// MovementDTO represents a ledger movement.
type MovementDTO struct {
	ID                  string `json:"id"`
	Type                string `json:"type"`
	Concept             string `json:"concept,omitempty"`
	Currency            string `json:"currency"`
	AmountOriginal      string `json:"amount_original"`
	ExchangeRate        string `json:"exchange_rate,omitempty"`
	AmountARSEquivalent string `json:"amount_ars_equivalent"`
	AccountID           string `json:"account_id"`
	OperationID         string `json:"operation_id,omitempty"`
	SellerID            string `json:"seller_id,omitempty"`
	OperatorID          string `json:"operator_id,omitempty"`
	CreatedBy           string `json:"created_by,omitempty"`
	CreatedAt           string `json:"created_at"`
	ReceiptNumber       string `json:"receipt_number,omitempty"`
}

// AppendMovementRequest is the request to record a movement.
type AppendMovementRequest struct {
	Type                string `json:"type"`
	Concept             string `json:"concept"`
	Currency            string `json:"currency"`
	AmountOriginal      string `json:"amount_original"`
	ExchangeRate        string `json:"exchange_rate,omitempty"`
	AmountARSEquivalent string `json:"amount_ars_equivalent"`
	AccountID           string `json:"account_id"`
	OperationID         string `json:"operation_id,omitempty"`
	LeadID              string `json:"lead_id,omitempty"`
	SellerID            string `json:"seller_id,omitempty"`
	OperatorID          string `json:"operator_id,omitempty"`
	CreatedBy           string `json:"created_by,omitempty"`
	ReceiptNumber       string `json:"receipt_number,omitempty"`
	IdempotencyKey      string `json:"idempotency_key,omitempty"`
}

// MarkPaidRequest settles a pending obligation against an account.
type MarkPaidRequest struct {
	AccountID string `json:"account_id"`
	Actor     string `json:"actor,omitempty"`
}

// MarkPaidResponse reports the resulting ledger movement.
type MarkPaidResponse struct {
	Status     string `json:"status"`
	MovementID string `json:"movement_id"`
}

// PaymentDTO represents a payment instance.
type PaymentDTO struct {
	ID               string `json:"id"`
	OperationID      string `json:"operation_id"`
	PayerType        string `json:"payer_type"`
	Direction        string `json:"direction"`
	Method           string `json:"method"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	DateDue          string `json:"date_due"`
	DatePaid         string `json:"date_paid,omitempty"`
	Status           string `json:"status"`
	LedgerMovementID string `json:"ledger_movement_id,omitempty"`
}

// OperationDebtDTO is the outstanding balance of one operation.
type OperationDebtDTO struct {
	OperationID string `json:"operation_id"`
	FileCode    string `json:"file_code,omitempty"`
	Destination string `json:"destination,omitempty"`
	Currency    string `json:"currency"`
	Debt        string `json:"debt"`
}

// DebtorDTO is one customer with their outstanding operations.
type DebtorDTO struct {
	CustomerID   string             `json:"customer_id"`
	CustomerName string             `json:"customer_name"`
	TotalARS     string             `json:"total_ars"`
	TotalUSD     string             `json:"total_usd"`
	Operations   []OperationDebtDTO `json:"operations"`
}

// CreditorDTO is one operator the agency owes.
type CreditorDTO struct {
	OperatorID string             `json:"operator_id"`
	TotalARS   string             `json:"total_ars"`
	TotalUSD   string             `json:"total_usd"`
	Operations []OperationDebtDTO `json:"operations"`
}

// RateDTO is a resolved exchange rate.
type RateDTO struct {
	Date string `json:"date"`
	Rate string `json:"rate"`
}

// SaveRateRequest records an official rate for a date.
type SaveRateRequest struct {
	Date string `json:"date"`
	Rate string `json:"rate"`
}

// =============================================================================
// MONTHLY POSITION
// =============================================================================

// Position DTOs keep the Spanish section names the accounting reports
// use; clients render them verbatim.

type MoneyTripletDTO struct {
	SaldoARS string `json:"saldoARS"`
	SaldoUSD string `json:"saldoUSD"`
	TotalUSD string `json:"totalUSD"`
}

type CajaYBancosDTO struct {
	MoneyTripletDTO
}

type CuentasPorCobrarDTO struct {
	MoneyTripletDTO
	Deudores int `json:"deudores"`
}

type CuentasPorPagarDTO struct {
	MoneyTripletDTO
	Acreedores int `json:"acreedores"`
}

type GastosAPagarDTO struct {
	MoneyTripletDTO
	Cantidad int `json:"cantidad"`
}

type ActivoDTO struct {
	CajaYBancos      CajaYBancosDTO      `json:"cajaYBancos"`
	CuentasPorCobrar CuentasPorCobrarDTO `json:"cuentasPorCobrar"`
	Corriente        string              `json:"corriente"`
	NoCorriente      string              `json:"noCorriente"`
	Total            string              `json:"total"`
}

type PasivoDTO struct {
	CuentasPorPagar CuentasPorPagarDTO `json:"cuentasPorPagar"`
	GastosAPagar    GastosAPagarDTO    `json:"gastosAPagar"`
	Corriente       string             `json:"corriente"`
	NoCorriente     string             `json:"noCorriente"`
	Total           string             `json:"total"`
}

type PatrimonioNetoDTO struct {
	Capital               string `json:"capital"`
	ResultadosAcumulados  string `json:"resultadosAcumulados"`
	ResultadoDelEjercicio string `json:"resultadoDelEjercicio"`
	Total                 string `json:"total"`
}

type ResultadoDelMesDTO struct {
	IngresosARS   string `json:"ingresosARS"`
	IngresosUSD   string `json:"ingresosUSD"`
	IngresosTotal string `json:"ingresosTotal"`

	CostosARS   string `json:"costosARS"`
	CostosUSD   string `json:"costosUSD"`
	CostosTotal string `json:"costosTotal"`

	GastosARS   string `json:"gastosARS"`
	GastosUSD   string `json:"gastosUSD"`
	GastosTotal string `json:"gastosTotal"`

	Resultado      string `json:"resultado"`
	MargenBrutoPct string `json:"margenBrutoPct"`
}

type PositionDTO struct {
	Period        string `json:"period"`
	AgencyID      string `json:"agency_id,omitempty"`
	ReferenceRate string `json:"reference_rate"`

	Activo          ActivoDTO          `json:"activo"`
	Pasivo          PasivoDTO          `json:"pasivo"`
	PatrimonioNeto  PatrimonioNetoDTO  `json:"patrimonioNeto"`
	ResultadoDelMes ResultadoDelMesDTO `json:"resultadoDelMes"`

	VerificacionContable bool     `json:"verificacionContable"`
	DataIncomplete       bool     `json:"data_incomplete,omitempty"`
	Notes                []string `json:"notes,omitempty"`
}

// ReconciliationReportDTO summarizes a consistency sweep.
type ReconciliationReportDTO struct {
	RanAt            string        `json:"ran_at"`
	CheckedMovements int           `json:"checked_movements"`
	CheckedPayments  int           `json:"checked_payments"`
	Clean            bool          `json:"clean"`
	Orphans          []OrphanDTO   `json:"orphans"`
	Dangling         []DanglingDTO `json:"dangling"`
}

type OrphanDTO struct {
	MovementID  string `json:"movement_id"`
	OperationID string `json:"operation_id,omitempty"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
}

type DanglingDTO struct {
	PaymentID  string `json:"payment_id"`
	MovementID string `json:"movement_id,omitempty"`
}

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toPositionDTO(p position.MonthlyPosition) PositionDTO {
	return PositionDTO{
		Period:        p.Period.String(),
		AgencyID:      p.AgencyID,
		ReferenceRate: p.ReferenceRate.String(),
		Activo: ActivoDTO{
			CajaYBancos: CajaYBancosDTO{MoneyTripletDTO{
				SaldoARS: p.Activo.CajaYBancos.SaldoARS.String(),
				SaldoUSD: p.Activo.CajaYBancos.SaldoUSD.String(),
				TotalUSD: p.Activo.CajaYBancos.TotalUSD.String(),
			}},
			CuentasPorCobrar: CuentasPorCobrarDTO{
				MoneyTripletDTO: MoneyTripletDTO{
					SaldoARS: p.Activo.CuentasPorCobrar.SaldoARS.String(),
					SaldoUSD: p.Activo.CuentasPorCobrar.SaldoUSD.String(),
					TotalUSD: p.Activo.CuentasPorCobrar.TotalUSD.String(),
				},
				Deudores: p.Activo.CuentasPorCobrar.Deudores,
			},
			Corriente:   p.Activo.Corriente.String(),
			NoCorriente: p.Activo.NoCorriente.String(),
			Total:       p.Activo.Total.String(),
		},
		Pasivo: PasivoDTO{
			CuentasPorPagar: CuentasPorPagarDTO{
				MoneyTripletDTO: MoneyTripletDTO{
					SaldoARS: p.Pasivo.CuentasPorPagar.SaldoARS.String(),
					SaldoUSD: p.Pasivo.CuentasPorPagar.SaldoUSD.String(),
					TotalUSD: p.Pasivo.CuentasPorPagar.TotalUSD.String(),
				},
				Acreedores: p.Pasivo.CuentasPorPagar.Acreedores,
			},
			GastosAPagar: GastosAPagarDTO{
				MoneyTripletDTO: MoneyTripletDTO{
					SaldoARS: p.Pasivo.GastosAPagar.SaldoARS.String(),
					SaldoUSD: p.Pasivo.GastosAPagar.SaldoUSD.String(),
					TotalUSD: p.Pasivo.GastosAPagar.TotalUSD.String(),
				},
				Cantidad: p.Pasivo.GastosAPagar.Cantidad,
			},
			Corriente:   p.Pasivo.Corriente.String(),
			NoCorriente: p.Pasivo.NoCorriente.String(),
			Total:       p.Pasivo.Total.String(),
		},
		PatrimonioNeto: PatrimonioNetoDTO{
			Capital:               p.PatrimonioNeto.Capital.String(),
			ResultadosAcumulados:  p.PatrimonioNeto.ResultadosAcumulados.String(),
			ResultadoDelEjercicio: p.PatrimonioNeto.ResultadoDelEjercicio.String(),
			Total:                 p.PatrimonioNeto.Total.String(),
		},
		ResultadoDelMes: ResultadoDelMesDTO{
			IngresosARS:    p.ResultadoDelMes.IngresosARS.String(),
			IngresosUSD:    p.ResultadoDelMes.IngresosUSD.String(),
			IngresosTotal:  p.ResultadoDelMes.IngresosTotal.String(),
			CostosARS:      p.ResultadoDelMes.CostosARS.String(),
			CostosUSD:      p.ResultadoDelMes.CostosUSD.String(),
			CostosTotal:    p.ResultadoDelMes.CostosTotal.String(),
			GastosARS:      p.ResultadoDelMes.GastosARS.String(),
			GastosUSD:      p.ResultadoDelMes.GastosUSD.String(),
			GastosTotal:    p.ResultadoDelMes.GastosTotal.String(),
			Resultado:      p.ResultadoDelMes.Resultado.String(),
			MargenBrutoPct: p.ResultadoDelMes.MargenBrutoPct.String(),
		},
		VerificacionContable: p.VerificacionContable,
		DataIncomplete:       p.DataIncomplete,
		Notes:                p.Notes,
	}
}

func toOperationDebtDTOs(ops []payments.OperationDebt) []OperationDebtDTO {
	dtos := make([]OperationDebtDTO, len(ops))
	for i, od := range ops {
		dtos[i] = OperationDebtDTO{
			OperationID: string(od.OperationID),
			FileCode:    od.FileCode,
			Destination: od.Destination,
			Currency:    string(od.Currency),
			Debt:        od.Debt.String(),
		}
	}
	return dtos
}
