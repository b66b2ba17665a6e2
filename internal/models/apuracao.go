package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"apuracao-service/internal/simples"
)

// StatusApuracao is the closed set of lifecycle states for an apuração.
type StatusApuracao string

const (
	StatusApuracaoCalculada   StatusApuracao = "calculada"
	StatusApuracaoValidada    StatusApuracao = "validada"
	StatusApuracaoTransmitida StatusApuracao = "transmitida"
	StatusApuracaoDASGerado   StatusApuracao = "das_gerado"
	StatusApuracaoPaga        StatusApuracao = "pago"
	StatusApuracaoCancelada   StatusApuracao = "cancelada"
)

// EventoApuracao is a lifecycle event requested against an apuração.
type EventoApuracao string

const (
	EventoValidar    EventoApuracao = "validar"
	EventoTransmitir EventoApuracao = "transmitir"
	EventoGerarDAS   EventoApuracao = "gerar_das"
	EventoCancelar   EventoApuracao = "cancelar"
	EventoRecalcular EventoApuracao = "recalcular"
	EventoPagar      EventoApuracao = "pagar" // driven by the DAS lifecycle
)

// transicoesApuracao is the full legality table. Absence means the
// (state, event) pair is illegal. gerar_das keeps the aggregate in
// das_gerado, which still admits recálculo and payment but not cancellation
// once the DAS was paid.
var transicoesApuracao = map[StatusApuracao]map[EventoApuracao]StatusApuracao{
	StatusApuracaoCalculada: {
		EventoValidar:    StatusApuracaoValidada,
		EventoGerarDAS:   StatusApuracaoDASGerado,
		EventoCancelar:   StatusApuracaoCancelada,
		EventoRecalcular: StatusApuracaoCalculada,
	},
	StatusApuracaoValidada: {
		EventoTransmitir: StatusApuracaoTransmitida,
		EventoGerarDAS:   StatusApuracaoDASGerado,
		EventoCancelar:   StatusApuracaoCancelada,
		EventoRecalcular: StatusApuracaoCalculada,
	},
	StatusApuracaoTransmitida: {
		EventoRecalcular: StatusApuracaoCalculada,
		EventoPagar:      StatusApuracaoPaga,
	},
	StatusApuracaoDASGerado: {
		EventoRecalcular: StatusApuracaoCalculada,
		EventoPagar:      StatusApuracaoPaga,
	},
	StatusApuracaoPaga:      {},
	StatusApuracaoCancelada: {},
}

// ProximoStatus resolves the target state for an event, or false when the
// transition is illegal from the current state.
func (s StatusApuracao) ProximoStatus(ev EventoApuracao) (StatusApuracao, bool) {
	eventos, ok := transicoesApuracao[s]
	if !ok {
		return "", false
	}
	novo, ok := eventos[ev]
	return novo, ok
}

// Terminal reports whether no further lifecycle event is admitted.
func (s StatusApuracao) Terminal() bool {
	return len(transicoesApuracao[s]) == 0
}

// FatorRSnapshot is the Fator R result frozen at calculation time. It is
// never recomputed by later reads.
type FatorRSnapshot struct {
	FolhaPagamento12m decimal.Decimal `json:"folhaPagamento12m" gorm:"type:decimal(15,2)"`
	Receita12m        decimal.Decimal `json:"receita12m" gorm:"type:decimal(15,2)"`
	RazaoPercentual   decimal.Decimal `json:"razaoPercentual" gorm:"type:decimal(9,4)"`
	AnexoSelecionado  simples.Anexo   `json:"anexoSelecionado" gorm:"type:varchar(5)"`
}

// GrupoAnexo aggregates the invoices of one annex inside an apuração.
type GrupoAnexo struct {
	ID              uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	ApuracaoID      uuid.UUID       `json:"apuracaoId" gorm:"type:uuid;not null;index"`
	Anexo           simples.Anexo   `json:"anexo" gorm:"type:varchar(5);not null"`
	UsaFatorR       bool            `json:"usaFatorR" gorm:"default:false"`
	AnexoEfetivo    simples.Anexo   `json:"anexoEfetivo" gorm:"type:varchar(5);not null"`
	QuantidadeNotas int             `json:"quantidadeNotas" gorm:"not null"`
	ReceitaBruta    decimal.Decimal `json:"receitaBruta" gorm:"type:decimal(15,2);not null"`
	AliquotaEfetiva decimal.Decimal `json:"aliquotaEfetiva" gorm:"type:decimal(9,4);not null"`
	ImpostoApurado  decimal.Decimal `json:"impostoApurado" gorm:"type:decimal(15,2);not null"`
	Notas           datatypes.JSON  `json:"notas,omitempty" gorm:"type:jsonb"`
	CreatedAt       time.Time       `json:"createdAt"`
}

func (GrupoAnexo) TableName() string {
	return "grupos_anexo"
}

// Apuracao is the aggregate root for one client and one competence period.
// At most one non-cancelled row may exist per (tenant, client, period);
// the partial unique index in internal/database enforces it.
type Apuracao struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID string    `json:"tenantId" gorm:"type:varchar(255);not null;index"`
	ClientID uuid.UUID `json:"clientId" gorm:"type:uuid;not null;index"`
	// Periodo is the YYYYMM competence period.
	Periodo string         `json:"periodo" gorm:"type:varchar(6);not null"`
	Status  StatusApuracao `json:"status" gorm:"type:varchar(30);not null;index"`
	// Version backs the compare-and-swap on status updates.
	Version int `json:"version" gorm:"not null;default:1"`

	FatorR FatorRSnapshot `json:"fatorR" gorm:"embedded;embeddedPrefix:fator_r_"`
	Grupos []GrupoAnexo   `json:"grupos" gorm:"foreignKey:ApuracaoID"`

	ReceitaBrutaTotal      decimal.Decimal `json:"receitaBrutaTotal" gorm:"type:decimal(15,2);not null"`
	ImpostoTotal           decimal.Decimal `json:"impostoTotal" gorm:"type:decimal(15,2);not null"`
	AliquotaEfetivaMedia   decimal.Decimal `json:"aliquotaEfetivaMedia" gorm:"type:decimal(9,4);not null"`
	HistoricoReceita       pq.Float64Array `json:"historicoReceita" gorm:"type:numeric(15,2)[]"`
	Observacoes            pq.StringArray  `json:"observacoes" gorm:"type:text[]"`
	Alertas                pq.StringArray  `json:"alertas" gorm:"type:text[]"`
	// Revisoes is the append-only trail of recalculations; prior figures are
	// preserved here, never discarded.
	Revisoes datatypes.JSON `json:"revisoes,omitempty" gorm:"type:jsonb"`

	DASGerado bool       `json:"dasGerado" gorm:"default:false"`
	DASRef    *uuid.UUID `json:"dasRef,omitempty" gorm:"type:uuid"`

	CalculadaEm   time.Time  `json:"calculadaEm" gorm:"not null"`
	CanceladaEm   *time.Time `json:"canceladaEm,omitempty"`
	MotivoCancela string     `json:"motivoCancelamento,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (Apuracao) TableName() string {
	return "apuracoes"
}

// RevisaoApuracao is one entry of the Revisoes trail.
type RevisaoApuracao struct {
	RecalculadaEm        time.Time       `json:"recalculadaEm"`
	Motivo               string          `json:"motivo"`
	StatusAnterior       StatusApuracao  `json:"statusAnterior"`
	ReceitaBrutaAnterior decimal.Decimal `json:"receitaBrutaAnterior"`
	ImpostoAnterior      decimal.Decimal `json:"impostoAnterior"`
	AliquotaAnterior     decimal.Decimal `json:"aliquotaAnterior"`
	FatorRAnterior       FatorRSnapshot  `json:"fatorRAnterior"`
}
