package simples

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrAliquotaNegativa marks a deduction larger than the nominal tax for the
// bracket. That is corrupt table data, never clamped to zero.
var ErrAliquotaNegativa = errors.New("aliquota efetiva negativa: parcela a deduzir maior que o imposto nominal")

// CalcularAliquotaEfetiva resolves the bracket for the trailing-12-month
// revenue (not the period's own gross) and converts it into an effective
// percentage, rounded half-even to 4 places.
//
// Deduction-free rows short-circuit to the nominal rate, which keeps flat
// tables (Anexo V as modeled here) exact.
func CalcularAliquotaEfetiva(tabela Tabela, receita12m decimal.Decimal) (decimal.Decimal, error) {
	f, err := BuscarFaixa(tabela, receita12m)
	if err != nil {
		return decimal.Zero, err
	}
	return AliquotaEfetivaDaFaixa(f, receita12m)
}

// AliquotaEfetivaDaFaixa applies the effective-rate formula for an already
// resolved bracket:
//
//	((receita12m * aliquotaNominal / 100) - parcelaDeduzir) / receita12m * 100
func AliquotaEfetivaDaFaixa(f Faixa, receita12m decimal.Decimal) (decimal.Decimal, error) {
	if f.ParcelaDeduzir.IsZero() {
		return f.AliquotaNominal.RoundBank(4), nil
	}
	if receita12m.IsZero() {
		// A zero divisor can only happen with a deduction-bearing row whose
		// range starts at zero; the nominal tax is zero, so the deduction
		// makes the rate negative by definition.
		return decimal.Zero, ErrAliquotaNegativa
	}

	impostoNominal := receita12m.Mul(f.AliquotaNominal).Div(cem)
	efetiva := impostoNominal.Sub(f.ParcelaDeduzir).Div(receita12m).Mul(cem).RoundBank(4)
	if efetiva.IsNegative() {
		return decimal.Zero, ErrAliquotaNegativa
	}
	return efetiva, nil
}
