package simples

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Anexo identifies one of the Simples Nacional tax tables.
type Anexo string

const (
	AnexoI   Anexo = "I"
	AnexoII  Anexo = "II"
	AnexoIII Anexo = "III"
	AnexoIV  Anexo = "IV"
	AnexoV   Anexo = "V"
)

// Errors surfaced by bracket lookup and table validation.
var (
	ErrReceitaForaDaFaixa = errors.New("receita fora das faixas da tabela")
	ErrLacunaNaTabela     = errors.New("receita cai em lacuna entre faixas da tabela")
	ErrReceitaNegativa    = errors.New("receita nao pode ser negativa")
)

// Faixa is a single revenue bracket: nominal rate plus the fixed deduction
// ("parcela a deduzir") used by the effective-rate formula.
type Faixa struct {
	ReceitaMin      decimal.Decimal `json:"receitaMin"`
	ReceitaMax      decimal.Decimal `json:"receitaMax"`
	AliquotaNominal decimal.Decimal `json:"aliquotaNominal"`
	ParcelaDeduzir  decimal.Decimal `json:"parcelaDeduzir"`
}

// Tabela is an ordered set of brackets for one annex.
type Tabela []Faixa

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("simples: faixa literal invalida %q: %v", s, err))
	}
	return v
}

func faixa(min, max, aliquota, deduzir string) Faixa {
	return Faixa{
		ReceitaMin:      d(min),
		ReceitaMax:      d(max),
		AliquotaNominal: d(aliquota),
		ParcelaDeduzir:  d(deduzir),
	}
}

// Default tables per LC 123/2006 (post LC 155/2016 brackets). Anexo V rows are
// modeled deduction-free: only the nominal rate applies, matching the flat
// treatment the upstream system uses for that table.
var (
	TabelaAnexoI = Tabela{
		faixa("0", "180000", "4", "0"),
		faixa("180000.01", "360000", "7.3", "5940"),
		faixa("360000.01", "720000", "9.5", "13860"),
		faixa("720000.01", "1800000", "10.7", "22500"),
		faixa("1800000.01", "3600000", "14.3", "87300"),
		faixa("3600000.01", "4800000", "19", "378000"),
	}

	TabelaAnexoII = Tabela{
		faixa("0", "180000", "4.5", "0"),
		faixa("180000.01", "360000", "7.8", "5940"),
		faixa("360000.01", "720000", "10", "13860"),
		faixa("720000.01", "1800000", "11.2", "22500"),
		faixa("1800000.01", "3600000", "14.7", "85500"),
		faixa("3600000.01", "4800000", "30", "720000"),
	}

	TabelaAnexoIII = Tabela{
		faixa("0", "180000", "6", "0"),
		faixa("180000.01", "360000", "11.2", "9360"),
		faixa("360000.01", "720000", "13.5", "17640"),
		faixa("720000.01", "1800000", "16", "35640"),
		faixa("1800000.01", "3600000", "21", "125640"),
		faixa("3600000.01", "4800000", "33", "648000"),
	}

	TabelaAnexoIV = Tabela{
		faixa("0", "180000", "4.5", "0"),
		faixa("180000.01", "360000", "9", "8100"),
		faixa("360000.01", "720000", "10.2", "12420"),
		faixa("720000.01", "1800000", "14", "39780"),
		faixa("1800000.01", "3600000", "22", "183780"),
		faixa("3600000.01", "4800000", "33", "828000"),
	}

	TabelaAnexoV = Tabela{
		faixa("0", "180000", "15.5", "0"),
		faixa("180000.01", "360000", "18", "0"),
		faixa("360000.01", "720000", "19.5", "0"),
		faixa("720000.01", "1800000", "20.5", "0"),
		faixa("1800000.01", "3600000", "23", "0"),
		faixa("3600000.01", "4800000", "30.5", "0"),
	}

	tabelasPadrao = map[Anexo]Tabela{
		AnexoI:   TabelaAnexoI,
		AnexoII:  TabelaAnexoII,
		AnexoIII: TabelaAnexoIII,
		AnexoIV:  TabelaAnexoIV,
		AnexoV:   TabelaAnexoV,
	}
)

// TabelaPadrao returns the built-in table for an annex.
func TabelaPadrao(anexo Anexo) (Tabela, error) {
	t, ok := tabelasPadrao[anexo]
	if !ok {
		return nil, fmt.Errorf("anexo desconhecido: %q", anexo)
	}
	return t, nil
}

// AnexoValido reports whether the annex identifier is one of I..V.
func AnexoValido(anexo Anexo) bool {
	_, ok := tabelasPadrao[anexo]
	return ok
}

// UsaFatorR reports whether the annex belongs to the III/V pair whose table
// selection depends on the Fator R ratio.
func UsaFatorR(anexo Anexo) bool {
	return anexo == AnexoIII || anexo == AnexoV
}

// ValidarTabela checks the structural invariants of a bracket table: at least
// one row, ascending and non-overlapping ranges. Gaps between rows are
// tolerated here; BuscarFaixa reports them per-lookup.
func ValidarTabela(t Tabela) error {
	if len(t) == 0 {
		return errors.New("tabela vazia")
	}
	for i, f := range t {
		if f.ReceitaMin.GreaterThan(f.ReceitaMax) {
			return fmt.Errorf("faixa %d invertida: min %s > max %s", i, f.ReceitaMin, f.ReceitaMax)
		}
		if i == 0 {
			continue
		}
		if !t[i-1].ReceitaMax.LessThan(f.ReceitaMin) {
			return fmt.Errorf("faixas %d e %d sobrepostas", i-1, i)
		}
	}
	return nil
}

// BuscarFaixa finds the single bracket containing the given trailing revenue.
// Revenue above the table ceiling (or below its floor) yields
// ErrReceitaForaDaFaixa; revenue falling between two rows yields
// ErrLacunaNaTabela.
func BuscarFaixa(t Tabela, receita decimal.Decimal) (Faixa, error) {
	if receita.IsNegative() {
		return Faixa{}, ErrReceitaNegativa
	}
	if err := ValidarTabela(t); err != nil {
		return Faixa{}, err
	}
	for _, f := range t {
		if receita.GreaterThanOrEqual(f.ReceitaMin) && receita.LessThanOrEqual(f.ReceitaMax) {
			return f, nil
		}
	}
	if receita.LessThan(t[0].ReceitaMin) || receita.GreaterThan(t[len(t)-1].ReceitaMax) {
		return Faixa{}, ErrReceitaForaDaFaixa
	}
	return Faixa{}, ErrLacunaNaTabela
}
