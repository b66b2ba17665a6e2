package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"apuracao-service/internal/simples"
)

// NotaFiscalInput is one invoice of the batch handed to the calculation,
// already grouped by annex upstream.
type NotaFiscalInput struct {
	Numero    string          `json:"numero" binding:"required"`
	Valor     decimal.Decimal `json:"valor" binding:"required"`
	EmitidaEm *time.Time      `json:"emitidaEm,omitempty"`
}

// CalcularApuracaoRequest is the input of POST /api/v1/apuracoes.
type CalcularApuracaoRequest struct {
	ClientID          uuid.UUID                           `json:"clientId" binding:"required"`
	Periodo           string                              `json:"periodo" binding:"required"`
	HistoricoReceita  []decimal.Decimal                   `json:"historicoReceita12" binding:"required"`
	FolhaPagamento12m decimal.Decimal                     `json:"folhaPagamento12m"`
	NotasPorAnexo     map[simples.Anexo][]NotaFiscalInput `json:"notasPorAnexo" binding:"required"`
}

// MotivoRequest carries the free-text justification demanded by cancelar
// and recalcular.
type MotivoRequest struct {
	Motivo string `json:"motivo" binding:"required"`
}

// RecalcularApuracaoRequest supersedes the figures of an existing apuração.
// The prior numbers are preserved in the revision trail.
type RecalcularApuracaoRequest struct {
	Motivo            string                              `json:"motivo" binding:"required"`
	HistoricoReceita  []decimal.Decimal                   `json:"historicoReceita12" binding:"required"`
	FolhaPagamento12m decimal.Decimal                     `json:"folhaPagamento12m"`
	NotasPorAnexo     map[simples.Anexo][]NotaFiscalInput `json:"notasPorAnexo" binding:"required"`
}

// GerarDASRequest is the payload for generating a DAS from an apuração.
type GerarDASRequest struct {
	CNPJ     string      `json:"cnpj" binding:"required"`
	Ambiente AmbienteDAS `json:"ambiente"`
	// Vencimento overrides the default due date (20th of the following
	// month adjusted to the next business day) when set.
	Vencimento *time.Time `json:"vencimento,omitempty"`
	Observacao string     `json:"observacao,omitempty"`
}

// ItemDetalhamentoInput is one caller-supplied breakdown entry of the
// direct-generation path.
type ItemDetalhamentoInput struct {
	Codigo    string          `json:"codigo" binding:"required"`
	Descricao string          `json:"descricao"`
	Valor     decimal.Decimal `json:"valor" binding:"required"`
}

// GerarDASDiretoRequest bypasses an apuração for manually adjusted or
// off-cycle filings. The breakdown must sum to the principal exactly.
type GerarDASDiretoRequest struct {
	ClientID       uuid.UUID               `json:"clientId" binding:"required"`
	CNPJ           string                  `json:"cnpj" binding:"required"`
	Ambiente       AmbienteDAS             `json:"ambiente"`
	Periodo        string                  `json:"periodo" binding:"required"`
	ValorPrincipal decimal.Decimal         `json:"valorPrincipal" binding:"required"`
	ValorMulta     decimal.Decimal         `json:"valorMulta"`
	ValorJuros     decimal.Decimal         `json:"valorJuros"`
	Detalhamento   []ItemDetalhamentoInput `json:"detalhamento" binding:"required"`
	Vencimento     *time.Time              `json:"vencimento,omitempty"`
	Observacao     string                  `json:"observacao,omitempty"`
}

// PagarDASRequest records an external payment against a DAS.
type PagarDASRequest struct {
	ReferenciaPagamento string    `json:"referenciaPagamento" binding:"required"`
	DataPagamento       time.Time `json:"dataPagamento" binding:"required"`
}
