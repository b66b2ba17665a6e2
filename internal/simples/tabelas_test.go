package simples

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTabelasPadrao_Validas(t *testing.T) {
	for anexo, tabela := range tabelasPadrao {
		assert.NoError(t, ValidarTabela(tabela), "anexo %s", anexo)
		assert.Len(t, tabela, 6, "anexo %s", anexo)
	}
}

func TestValidarTabela_Vazia(t *testing.T) {
	assert.Error(t, ValidarTabela(Tabela{}))
}

func TestValidarTabela_FaixaInvertida(t *testing.T) {
	tabela := Tabela{
		faixa("100000", "50000", "4", "0"),
	}
	assert.Error(t, ValidarTabela(tabela))
}

func TestValidarTabela_FaixasSobrepostas(t *testing.T) {
	tabela := Tabela{
		faixa("0", "180000", "4", "0"),
		faixa("150000", "360000", "7.3", "5940"),
	}
	assert.Error(t, ValidarTabela(tabela))
}

func TestBuscarFaixa_EncontraFaixaCorreta(t *testing.T) {
	f, err := BuscarFaixa(TabelaAnexoIII, decimal.NewFromInt(360000))
	require.NoError(t, err)
	assert.True(t, f.AliquotaNominal.Equal(d("11.2")))
	assert.True(t, f.ParcelaDeduzir.Equal(d("9360")))
}

func TestBuscarFaixa_LimitesInclusivos(t *testing.T) {
	// Both edges of a bracket belong to it.
	inferior, err := BuscarFaixa(TabelaAnexoI, d("180000.01"))
	require.NoError(t, err)
	assert.True(t, inferior.AliquotaNominal.Equal(d("7.3")))

	superior, err := BuscarFaixa(TabelaAnexoI, d("360000"))
	require.NoError(t, err)
	assert.True(t, superior.AliquotaNominal.Equal(d("7.3")))
}

func TestBuscarFaixa_ReceitaAcimaDoTeto(t *testing.T) {
	_, err := BuscarFaixa(TabelaAnexoI, decimal.NewFromInt(5_000_000))
	assert.ErrorIs(t, err, ErrReceitaForaDaFaixa)
}

func TestBuscarFaixa_ReceitaNegativa(t *testing.T) {
	_, err := BuscarFaixa(TabelaAnexoI, decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrReceitaNegativa)
}

func TestBuscarFaixa_LacunaEntreFaixas(t *testing.T) {
	// A table may legally carry holes; lookups inside one must say so
	// instead of matching a neighbour.
	comLacuna := Tabela{
		faixa("0", "100000", "4", "0"),
		faixa("200000", "300000", "7.3", "5940"),
	}
	_, err := BuscarFaixa(comLacuna, decimal.NewFromInt(150000))
	assert.ErrorIs(t, err, ErrLacunaNaTabela)
}

func TestTabelaPadrao_AnexoDesconhecido(t *testing.T) {
	_, err := TabelaPadrao(Anexo("VII"))
	assert.Error(t, err)
}

func TestUsaFatorR(t *testing.T) {
	assert.True(t, UsaFatorR(AnexoIII))
	assert.True(t, UsaFatorR(AnexoV))
	assert.False(t, UsaFatorR(AnexoI))
	assert.False(t, UsaFatorR(AnexoII))
	assert.False(t, UsaFatorR(AnexoIV))
}
