package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"apuracao-service/internal/models"
)

// Subjects published by this service.
const (
	SubjectApuracaoCalculada   = "apuracao.calculada"
	SubjectApuracaoValidada    = "apuracao.validada"
	SubjectApuracaoTransmitida = "apuracao.transmitida"
	SubjectApuracaoRecalculada = "apuracao.recalculada"
	SubjectApuracaoCancelada   = "apuracao.cancelada"
	SubjectDASGerado           = "das.gerado"
	SubjectDASPago             = "das.pago"
	SubjectDASVencido          = "das.vencido"
	SubjectDASCancelado        = "das.cancelado"
)

// Evento is the envelope shared by all published messages.
type Evento struct {
	Tipo      string      `json:"tipo"`
	TenantID  string      `json:"tenantId"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Publisher publishes domain events to NATS. A nil Publisher (or one created
// without a NATS URL) is safe to call; publishing is then a no-op, so the
// engine keeps working when messaging is not provisioned.
type Publisher struct {
	conn   *nats.Conn
	logger *logrus.Entry
}

// NewPublisher connects to NATS. An empty URL disables publishing.
func NewPublisher(natsURL string, logger *logrus.Logger) (*Publisher, error) {
	if natsURL == "" {
		logger.Warn("NATS_URL nao definido, publicacao de eventos desabilitada")
		return nil, nil
	}

	conn, err := nats.Connect(natsURL,
		nats.Name("apuracao-service"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("falha ao conectar ao NATS: %w", err)
	}

	return &Publisher{
		conn:   conn,
		logger: logger.WithField("component", "events.publisher"),
	}, nil
}

// IsConnected reports whether the underlying connection is up.
func (p *Publisher) IsConnected() bool {
	return p != nil && p.conn != nil && p.conn.IsConnected()
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}

func (p *Publisher) publish(ctx context.Context, subject, tenantID string, payload interface{}) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(Evento{
		Tipo:      subject,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		p.logger.WithError(err).WithField("subject", subject).Error("falha ao serializar evento")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		// Events are best-effort; the aggregate is already persisted.
		p.logger.WithError(err).WithField("subject", subject).Warn("falha ao publicar evento")
	}
}

func (p *Publisher) PublishApuracaoCalculada(ctx context.Context, a *models.Apuracao) {
	p.publish(ctx, SubjectApuracaoCalculada, a.TenantID, map[string]interface{}{
		"apuracaoId":   a.ID,
		"clientId":     a.ClientID,
		"periodo":      a.Periodo,
		"impostoTotal": a.ImpostoTotal,
		"anexoFatorR":  a.FatorR.AnexoSelecionado,
		"alertas":      a.Alertas,
	})
}

func (p *Publisher) PublishApuracaoValidada(ctx context.Context, a *models.Apuracao) {
	p.publish(ctx, SubjectApuracaoValidada, a.TenantID, map[string]interface{}{
		"apuracaoId": a.ID,
		"periodo":    a.Periodo,
	})
}

func (p *Publisher) PublishApuracaoTransmitida(ctx context.Context, a *models.Apuracao) {
	p.publish(ctx, SubjectApuracaoTransmitida, a.TenantID, map[string]interface{}{
		"apuracaoId": a.ID,
		"periodo":    a.Periodo,
	})
}

func (p *Publisher) PublishApuracaoRecalculada(ctx context.Context, a *models.Apuracao, motivo string) {
	p.publish(ctx, SubjectApuracaoRecalculada, a.TenantID, map[string]interface{}{
		"apuracaoId":   a.ID,
		"periodo":      a.Periodo,
		"motivo":       motivo,
		"impostoTotal": a.ImpostoTotal,
	})
}

func (p *Publisher) PublishApuracaoCancelada(ctx context.Context, a *models.Apuracao, motivo string) {
	p.publish(ctx, SubjectApuracaoCancelada, a.TenantID, map[string]interface{}{
		"apuracaoId": a.ID,
		"periodo":    a.Periodo,
		"motivo":     motivo,
	})
}

func (p *Publisher) PublishDASGerado(ctx context.Context, d *models.DAS) {
	p.publish(ctx, SubjectDASGerado, d.TenantID, map[string]interface{}{
		"dasId":           d.ID,
		"clientId":        d.ClientID,
		"periodo":         d.Periodo,
		"numeroDocumento": d.NumeroDoc,
		"valorTotal":      d.ValorTotal,
		"vencimento":      d.Vencimento,
	})
}

func (p *Publisher) PublishDASPago(ctx context.Context, d *models.DAS) {
	p.publish(ctx, SubjectDASPago, d.TenantID, map[string]interface{}{
		"dasId":               d.ID,
		"numeroDocumento":     d.NumeroDoc,
		"referenciaPagamento": d.ReferenciaPagamento,
		"pagoEm":              d.PagoEm,
	})
}

func (p *Publisher) PublishDASVencido(ctx context.Context, d *models.DAS) {
	p.publish(ctx, SubjectDASVencido, d.TenantID, map[string]interface{}{
		"dasId":           d.ID,
		"numeroDocumento": d.NumeroDoc,
		"vencimento":      d.Vencimento,
	})
}

func (p *Publisher) PublishDASCancelado(ctx context.Context, d *models.DAS, motivo string) {
	p.publish(ctx, SubjectDASCancelado, d.TenantID, map[string]interface{}{
		"dasId":           d.ID,
		"numeroDocumento": d.NumeroDoc,
		"motivo":          motivo,
	})
}
