package simples

import "github.com/shopspring/decimal"

// LimiarFatorR is the inclusive ratio threshold (in percent) at or above
// which the III/V service pair is taxed under Anexo III.
var LimiarFatorR = decimal.NewFromInt(28)

var cem = decimal.NewFromInt(100)

// ResultadoFatorR is the immutable Fator R snapshot taken once per apuração.
type ResultadoFatorR struct {
	FolhaPagamento12m decimal.Decimal `json:"folhaPagamento12m"`
	Receita12m        decimal.Decimal `json:"receita12m"`
	RazaoPercentual   decimal.Decimal `json:"razaoPercentual"`
	AnexoSelecionado  Anexo           `json:"anexoSelecionado"`
	ReceitaZerada     bool            `json:"receitaZerada"`
}

// CalcularFatorR computes payroll/revenue over the trailing 12 months and
// selects Anexo III when the ratio reaches the threshold, Anexo V otherwise.
// Zero trailing revenue degrades to ratio 0 and the conservative Anexo V;
// the ReceitaZerada flag lets the caller raise an alert instead of failing a
// brand-new taxpayer.
func CalcularFatorR(folha12m, receita12m decimal.Decimal) ResultadoFatorR {
	r := ResultadoFatorR{
		FolhaPagamento12m: folha12m,
		Receita12m:        receita12m,
	}

	if receita12m.IsZero() {
		r.RazaoPercentual = decimal.Zero
		r.AnexoSelecionado = AnexoV
		r.ReceitaZerada = true
		return r
	}

	// Round-half-even at 4 places so repeated apurações carry no bias.
	r.RazaoPercentual = folha12m.Div(receita12m).Mul(cem).RoundBank(4)
	if r.RazaoPercentual.GreaterThanOrEqual(LimiarFatorR) {
		r.AnexoSelecionado = AnexoIII
	} else {
		r.AnexoSelecionado = AnexoV
	}
	return r
}
