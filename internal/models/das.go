package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StatusDAS is the closed set of lifecycle states for a DAS document.
type StatusDAS string

const (
	StatusDASGerado    StatusDAS = "gerado"
	StatusDASPago      StatusDAS = "pago"
	StatusDASVencido   StatusDAS = "vencido"
	StatusDASCancelado StatusDAS = "cancelado"
)

// EventoDAS is a lifecycle event requested against a DAS.
type EventoDAS string

const (
	EventoDASPagar    EventoDAS = "pagar"
	EventoDASVencer   EventoDAS = "vencer"
	EventoDASCancelar EventoDAS = "cancelar"
)

// transicoesDAS: pago and cancelado are terminal. vencido is normally a
// read-time view of an overdue gerado; the vencimento job may persist it,
// and a persisted vencido still admits payment and cancellation.
var transicoesDAS = map[StatusDAS]map[EventoDAS]StatusDAS{
	StatusDASGerado: {
		EventoDASPagar:    StatusDASPago,
		EventoDASVencer:   StatusDASVencido,
		EventoDASCancelar: StatusDASCancelado,
	},
	StatusDASVencido: {
		EventoDASPagar:    StatusDASPago,
		EventoDASCancelar: StatusDASCancelado,
	},
	StatusDASPago:      {},
	StatusDASCancelado: {},
}

// ProximoStatus resolves the target state for an event, or false when the
// transition is illegal from the current state.
func (s StatusDAS) ProximoStatus(ev EventoDAS) (StatusDAS, bool) {
	eventos, ok := transicoesDAS[s]
	if !ok {
		return "", false
	}
	novo, ok := eventos[ev]
	return novo, ok
}

// Terminal reports whether no further lifecycle event is admitted.
func (s StatusDAS) Terminal() bool {
	return len(transicoesDAS[s]) == 0
}

// AmbienteDAS distinguishes homologation from production documents.
type AmbienteDAS string

const (
	AmbienteTeste    AmbienteDAS = "test"
	AmbienteProducao AmbienteDAS = "production"
)

// ItemDetalhamentoDAS is one per-code slice of the DAS principal. The sum of
// all items equals the principal exactly; rounding drift is absorbed by the
// generator, never here.
type ItemDetalhamentoDAS struct {
	ID        uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	DASID     uuid.UUID       `json:"dasId" gorm:"type:uuid;not null;index"`
	Codigo    string          `json:"codigo" gorm:"type:varchar(30);not null"`
	Descricao string          `json:"descricao" gorm:"type:varchar(255)"`
	Valor     decimal.Decimal `json:"valor" gorm:"type:decimal(15,2);not null"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (ItemDetalhamentoDAS) TableName() string {
	return "itens_detalhamento_das"
}

// DAS is the payable tax document. It may originate from an apuração
// (ApuracaoRef set) or from the direct-generation path.
type DAS struct {
	ID          uuid.UUID   `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID    string      `json:"tenantId" gorm:"type:varchar(255);not null;index"`
	ClientID    uuid.UUID   `json:"clientId" gorm:"type:uuid;not null;index"`
	CNPJ        string      `json:"cnpj" gorm:"type:varchar(18);not null"`
	Ambiente    AmbienteDAS `json:"ambiente" gorm:"type:varchar(20);not null;default:'production'"`
	Periodo     string      `json:"periodo" gorm:"type:varchar(6);not null"`
	NumeroDoc   string      `json:"numeroDocumento" gorm:"type:varchar(40);not null;uniqueIndex"`
	Vencimento  time.Time   `json:"vencimento" gorm:"type:date;not null;index"`
	ApuracaoRef *uuid.UUID  `json:"apuracaoRef,omitempty" gorm:"type:uuid"`

	ValorPrincipal decimal.Decimal `json:"valorPrincipal" gorm:"type:decimal(15,2);not null"`
	ValorMulta     decimal.Decimal `json:"valorMulta" gorm:"type:decimal(15,2);not null"`
	ValorJuros     decimal.Decimal `json:"valorJuros" gorm:"type:decimal(15,2);not null"`
	// ValorTotal is always principal + multa + juros.
	ValorTotal decimal.Decimal `json:"valorTotal" gorm:"type:decimal(15,2);not null"`

	Detalhamento []ItemDetalhamentoDAS `json:"detalhamento" gorm:"foreignKey:DASID"`
	Observacoes  pq.StringArray        `json:"observacoes" gorm:"type:text[]"`

	Status  StatusDAS `json:"status" gorm:"type:varchar(20);not null;index"`
	Version int       `json:"version" gorm:"not null;default:1"`
	// StatusEfetivo is derived on read: an overdue gerado presents as
	// vencido without a stored transition.
	StatusEfetivo StatusDAS `json:"statusEfetivo" gorm:"-"`

	ReferenciaPagamento string     `json:"referenciaPagamento,omitempty" gorm:"type:varchar(100)"`
	PagoEm              *time.Time `json:"pagoEm,omitempty"`
	MotivoCancela       string     `json:"motivoCancelamento,omitempty" gorm:"type:text"`
	CanceladoEm         *time.Time `json:"canceladoEm,omitempty"`
	PDFRef              string     `json:"pdfRef,omitempty" gorm:"type:varchar(500)"`

	EmitidoEm time.Time `json:"emitidoEm" gorm:"not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (DAS) TableName() string {
	return "das_documentos"
}

// CalcularStatusEfetivo derives the read-time status for a reference instant.
func (d *DAS) CalcularStatusEfetivo(agora time.Time) StatusDAS {
	if d.Status == StatusDASGerado && d.Vencimento.Before(agora) {
		return StatusDASVencido
	}
	return d.Status
}

// AfterFind populates the derived status on every read.
func (d *DAS) AfterFind(tx *gorm.DB) error {
	d.StatusEfetivo = d.CalcularStatusEfetivo(time.Now())
	return nil
}
