package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusApuracao_TransicoesLegais(t *testing.T) {
	casos := []struct {
		de     StatusApuracao
		evento EventoApuracao
		para   StatusApuracao
	}{
		{StatusApuracaoCalculada, EventoValidar, StatusApuracaoValidada},
		{StatusApuracaoCalculada, EventoGerarDAS, StatusApuracaoDASGerado},
		{StatusApuracaoCalculada, EventoCancelar, StatusApuracaoCancelada},
		{StatusApuracaoCalculada, EventoRecalcular, StatusApuracaoCalculada},
		{StatusApuracaoValidada, EventoTransmitir, StatusApuracaoTransmitida},
		{StatusApuracaoValidada, EventoGerarDAS, StatusApuracaoDASGerado},
		{StatusApuracaoValidada, EventoCancelar, StatusApuracaoCancelada},
		{StatusApuracaoValidada, EventoRecalcular, StatusApuracaoCalculada},
		{StatusApuracaoTransmitida, EventoRecalcular, StatusApuracaoCalculada},
		{StatusApuracaoTransmitida, EventoPagar, StatusApuracaoPaga},
		{StatusApuracaoDASGerado, EventoRecalcular, StatusApuracaoCalculada},
		{StatusApuracaoDASGerado, EventoPagar, StatusApuracaoPaga},
	}
	for _, c := range casos {
		novo, ok := c.de.ProximoStatus(c.evento)
		assert.True(t, ok, "%s + %s deveria ser legal", c.de, c.evento)
		assert.Equal(t, c.para, novo, "%s + %s", c.de, c.evento)
	}
}

func TestStatusApuracao_TransicoesIlegais(t *testing.T) {
	casos := []struct {
		de     StatusApuracao
		evento EventoApuracao
	}{
		{StatusApuracaoCalculada, EventoTransmitir},
		{StatusApuracaoCalculada, EventoPagar},
		{StatusApuracaoValidada, EventoValidar},
		{StatusApuracaoTransmitida, EventoValidar},
		{StatusApuracaoTransmitida, EventoCancelar},
		{StatusApuracaoDASGerado, EventoCancelar},
		{StatusApuracaoPaga, EventoCancelar},
		{StatusApuracaoPaga, EventoRecalcular},
		{StatusApuracaoCancelada, EventoValidar},
		{StatusApuracaoCancelada, EventoRecalcular},
	}
	for _, c := range casos {
		_, ok := c.de.ProximoStatus(c.evento)
		assert.False(t, ok, "%s + %s deveria ser ilegal", c.de, c.evento)
	}
}

func TestStatusApuracao_Terminais(t *testing.T) {
	assert.True(t, StatusApuracaoPaga.Terminal())
	assert.True(t, StatusApuracaoCancelada.Terminal())
	assert.False(t, StatusApuracaoCalculada.Terminal())
	assert.False(t, StatusApuracaoDASGerado.Terminal())
}

func TestStatusDAS_Transicoes(t *testing.T) {
	novo, ok := StatusDASGerado.ProximoStatus(EventoDASPagar)
	assert.True(t, ok)
	assert.Equal(t, StatusDASPago, novo)

	novo, ok = StatusDASVencido.ProximoStatus(EventoDASPagar)
	assert.True(t, ok)
	assert.Equal(t, StatusDASPago, novo)

	_, ok = StatusDASPago.ProximoStatus(EventoDASCancelar)
	assert.False(t, ok)
	_, ok = StatusDASCancelado.ProximoStatus(EventoDASPagar)
	assert.False(t, ok)
	_, ok = StatusDASVencido.ProximoStatus(EventoDASVencer)
	assert.False(t, ok)

	assert.True(t, StatusDASPago.Terminal())
	assert.True(t, StatusDASCancelado.Terminal())
	assert.False(t, StatusDASGerado.Terminal())
}

func TestDAS_CalcularStatusEfetivo(t *testing.T) {
	agora := time.Date(2025, 3, 25, 12, 0, 0, 0, time.UTC)

	vencido := &DAS{Status: StatusDASGerado, Vencimento: agora.AddDate(0, 0, -1)}
	assert.Equal(t, StatusDASVencido, vencido.CalcularStatusEfetivo(agora))

	emDia := &DAS{Status: StatusDASGerado, Vencimento: agora.AddDate(0, 0, 3)}
	assert.Equal(t, StatusDASGerado, emDia.CalcularStatusEfetivo(agora))

	// Terminal states never flip on read.
	pago := &DAS{Status: StatusDASPago, Vencimento: agora.AddDate(0, 0, -10)}
	assert.Equal(t, StatusDASPago, pago.CalcularStatusEfetivo(agora))

	cancelado := &DAS{Status: StatusDASCancelado, Vencimento: agora.AddDate(0, 0, -10)}
	assert.Equal(t, StatusDASCancelado, cancelado.CalcularStatusEfetivo(agora))
}
