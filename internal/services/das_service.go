package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"apuracao-service/internal/events"
	"apuracao-service/internal/models"
	"apuracao-service/internal/repository"
)

var (
	ErrDASNaoEncontrado         = errors.New("das nao encontrado")
	ErrApuracaoSemImposto       = errors.New("apuracao sem imposto apurado, nada a gerar")
	ErrApuracaoStatusInvalido   = errors.New("apuracao precisa estar calculada ou validada para gerar das")
	ErrDetalhamentoDivergente   = errors.New("soma do detalhamento difere do valor principal")
	ErrDetalhamentoVazio        = errors.New("detalhamento nao pode ser vazio")
	ErrPagamentoAnteriorEmissao = errors.New("data de pagamento anterior a emissao do das")
	ErrReferenciaObrigatoria    = errors.New("referencia de pagamento e obrigatoria")
)

// AjustadorDiaUtil rolls a calendar date forward to the next business day.
// Holiday-aware calendars live outside the engine; the default implementation
// only skips weekends.
type AjustadorDiaUtil interface {
	ProximoDiaUtil(t time.Time) time.Time
}

// AjustadorFimDeSemana is the default AjustadorDiaUtil.
type AjustadorFimDeSemana struct{}

func (AjustadorFimDeSemana) ProximoDiaUtil(t time.Time) time.Time {
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// DASService generates payable documents and drives their lifecycle.
type DASService struct {
	repo      repository.ApuracaoRepositoryInterface
	apuracoes *ApuracaoService
	publisher *events.Publisher
	diasUteis AjustadorDiaUtil
	logger    *logrus.Entry
	agora     func() time.Time
}

// NewDASService creates the service; diasUteis may be nil to use the
// weekend-skipping default.
func NewDASService(repo repository.ApuracaoRepositoryInterface, apuracoes *ApuracaoService, publisher *events.Publisher, diasUteis AjustadorDiaUtil, logger *logrus.Logger) *DASService {
	if diasUteis == nil {
		diasUteis = AjustadorFimDeSemana{}
	}
	return &DASService{
		repo:      repo,
		apuracoes: apuracoes,
		publisher: publisher,
		diasUteis: diasUteis,
		logger:    logrus.NewEntry(logger).WithField("component", "services.das"),
		agora:     time.Now,
	}
}

// GerarDeApuracao builds a DAS from a calculada or validada apuração: the
// principal is the assessed tax, broken down per annex group with the
// rounding remainder absorbed into the largest entry so the sum is exact.
func (s *DASService) GerarDeApuracao(ctx context.Context, tenantID string, apuracaoID uuid.UUID, req models.GerarDASRequest) (*models.DAS, error) {
	a, err := s.repo.GetApuracaoByID(ctx, apuracaoID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrApuracaoNaoEncontrada
		}
		return nil, err
	}
	if a.TenantID != tenantID {
		return nil, ErrApuracaoNaoEncontrada
	}
	if a.Status != models.StatusApuracaoCalculada && a.Status != models.StatusApuracaoValidada {
		return nil, ErrApuracaoStatusInvalido
	}
	if len(a.Grupos) == 0 || a.ImpostoTotal.IsZero() {
		return nil, ErrApuracaoSemImposto
	}

	principal := a.ImpostoTotal.RoundBank(2)
	itens, err := detalharPorGrupo(a.Grupos, principal)
	if err != nil {
		return nil, err
	}

	vencimento, err := s.resolverVencimento(a.Periodo, req.Vencimento)
	if err != nil {
		return nil, err
	}

	agora := s.agora()
	d := &models.DAS{
		TenantID:       a.TenantID,
		ClientID:       a.ClientID,
		CNPJ:           req.CNPJ,
		Ambiente:       ambienteOuPadrao(req.Ambiente),
		Periodo:        a.Periodo,
		NumeroDoc:      gerarNumeroDocumento(a.Periodo),
		Vencimento:     vencimento,
		ApuracaoRef:    &a.ID,
		ValorPrincipal: principal,
		ValorMulta:     decimal.Zero,
		ValorJuros:     decimal.Zero,
		ValorTotal:     principal,
		Detalhamento:   itens,
		Status:         models.StatusDASGerado,
		StatusEfetivo:  models.StatusDASGerado,
		Version:        1,
		EmitidoEm:      agora,
	}
	if req.Observacao != "" {
		d.Observacoes = append(d.Observacoes, req.Observacao)
	}

	if err := s.repo.CreateDAS(ctx, d); err != nil {
		return nil, fmt.Errorf("falha ao persistir das: %w", err)
	}

	if err := s.apuracoes.RegistrarDASGerado(ctx, a, d.ID); err != nil {
		// The apuração could not be advanced; cancel the document just
		// persisted so a retry does not mint a second active DAS.
		s.desfazerEmissao(ctx, d)
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"dasId":    d.ID,
		"apuracao": a.ID,
		"periodo":  d.Periodo,
		"total":    d.ValorTotal,
	}).Info("das gerado a partir de apuracao")
	s.publisher.PublishDASGerado(ctx, d)

	return d, nil
}

// GerarDireto issues a DAS without an originating apuração, for manually
// adjusted or off-cycle filings. The same invariants hold.
func (s *DASService) GerarDireto(ctx context.Context, tenantID string, req models.GerarDASDiretoRequest) (*models.DAS, error) {
	if !periodoRegexp.MatchString(req.Periodo) {
		return nil, ErrPeriodoInvalido
	}
	if len(req.Detalhamento) == 0 {
		return nil, ErrDetalhamentoVazio
	}
	if req.ValorPrincipal.IsNegative() || req.ValorMulta.IsNegative() || req.ValorJuros.IsNegative() {
		return nil, ErrValorNegativo
	}

	soma := decimal.Zero
	itens := make([]models.ItemDetalhamentoDAS, 0, len(req.Detalhamento))
	for _, item := range req.Detalhamento {
		if item.Valor.IsNegative() {
			return nil, ErrValorNegativo
		}
		soma = soma.Add(item.Valor)
		itens = append(itens, models.ItemDetalhamentoDAS{
			Codigo:    item.Codigo,
			Descricao: item.Descricao,
			Valor:     item.Valor,
		})
	}
	if !soma.Equal(req.ValorPrincipal) {
		return nil, fmt.Errorf("%w: detalhamento soma %s, principal %s",
			ErrDetalhamentoDivergente, soma, req.ValorPrincipal)
	}

	vencimento, err := s.resolverVencimento(req.Periodo, req.Vencimento)
	if err != nil {
		return nil, err
	}

	d := &models.DAS{
		TenantID:       tenantID,
		ClientID:       req.ClientID,
		CNPJ:           req.CNPJ,
		Ambiente:       ambienteOuPadrao(req.Ambiente),
		Periodo:        req.Periodo,
		NumeroDoc:      gerarNumeroDocumento(req.Periodo),
		Vencimento:     vencimento,
		ValorPrincipal: req.ValorPrincipal,
		ValorMulta:     req.ValorMulta,
		ValorJuros:     req.ValorJuros,
		ValorTotal:     req.ValorPrincipal.Add(req.ValorMulta).Add(req.ValorJuros),
		Detalhamento:   itens,
		Status:         models.StatusDASGerado,
		StatusEfetivo:  models.StatusDASGerado,
		Version:        1,
		EmitidoEm:      s.agora(),
	}
	if req.Observacao != "" {
		d.Observacoes = append(d.Observacoes, req.Observacao)
	}

	if err := s.repo.CreateDAS(ctx, d); err != nil {
		return nil, fmt.Errorf("falha ao persistir das: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"dasId":   d.ID,
		"periodo": d.Periodo,
		"total":   d.ValorTotal,
	}).Info("das gerado diretamente")
	s.publisher.PublishDASGerado(ctx, d)

	return d, nil
}

// desfazerEmissao rolls back a freshly created document whose apuração link
// failed. Best effort: an error here leaves the document for the operator.
func (s *DASService) desfazerEmissao(ctx context.Context, d *models.DAS) {
	updates := map[string]interface{}{
		"motivo_cancela": "emissao desfeita: apuracao nao vinculada",
		"cancelado_em":   s.agora(),
	}
	if err := s.repo.UpdateDASStatus(ctx, d, models.StatusDASCancelado, updates); err != nil {
		s.logger.WithError(err).WithField("dasId", d.ID).
			Error("falha ao desfazer emissao de das orfao")
	}
}

// MarcarComoPago settles a gerado (or persisted vencido) DAS. When the
// document came from an apuração, the apuração follows to pago.
func (s *DASService) MarcarComoPago(ctx context.Context, tenantID string, id uuid.UUID, req models.PagarDASRequest) (*models.DAS, error) {
	if strings.TrimSpace(req.ReferenciaPagamento) == "" {
		return nil, ErrReferenciaObrigatoria
	}

	d, err := s.repo.GetDASByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDASNaoEncontrado
		}
		return nil, err
	}
	if d.TenantID != tenantID {
		return nil, ErrDASNaoEncontrado
	}
	if _, ok := d.Status.ProximoStatus(models.EventoDASPagar); !ok {
		return nil, ErrTransicaoInvalida
	}
	if req.DataPagamento.Before(d.EmitidoEm.Truncate(24 * time.Hour)) {
		return nil, ErrPagamentoAnteriorEmissao
	}

	updates := map[string]interface{}{
		"referencia_pagamento": req.ReferenciaPagamento,
		"pago_em":              req.DataPagamento,
	}
	if err := s.repo.UpdateDASStatus(ctx, d, models.StatusDASPago, updates); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, ErrModificacaoConcorrente
		}
		return nil, err
	}
	d.ReferenciaPagamento = req.ReferenciaPagamento
	d.PagoEm = &req.DataPagamento

	if d.ApuracaoRef != nil {
		if _, err := s.apuracoes.MarcarPaga(ctx, d.TenantID, *d.ApuracaoRef); err != nil {
			s.logger.WithError(err).WithField("apuracao", *d.ApuracaoRef).
				Warn("das pago mas apuracao nao avancou para pago")
		}
	}

	s.publisher.PublishDASPago(ctx, d)
	return d, nil
}

// Cancelar terminates a gerado or vencido DAS with a justification.
func (s *DASService) Cancelar(ctx context.Context, tenantID string, id uuid.UUID, motivo string) (*models.DAS, error) {
	if motivo == "" {
		return nil, ErrMotivoObrigatorio
	}

	d, err := s.repo.GetDASByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDASNaoEncontrado
		}
		return nil, err
	}
	if d.TenantID != tenantID {
		return nil, ErrDASNaoEncontrado
	}
	if _, ok := d.Status.ProximoStatus(models.EventoDASCancelar); !ok {
		return nil, ErrTransicaoInvalida
	}

	agora := s.agora()
	updates := map[string]interface{}{
		"motivo_cancela": motivo,
		"cancelado_em":   agora,
	}
	if err := s.repo.UpdateDASStatus(ctx, d, models.StatusDASCancelado, updates); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, ErrModificacaoConcorrente
		}
		return nil, err
	}
	d.MotivoCancela = motivo
	d.CanceladoEm = &agora

	s.publisher.PublishDASCancelado(ctx, d, motivo)
	return d, nil
}

// MarcarVencido persists the derived overdue state. Only the vencimento job
// calls this; reads already present overdue documents as vencido.
func (s *DASService) MarcarVencido(ctx context.Context, d *models.DAS) error {
	if _, ok := d.Status.ProximoStatus(models.EventoDASVencer); !ok {
		return ErrTransicaoInvalida
	}
	if err := s.repo.UpdateDASStatus(ctx, d, models.StatusDASVencido, nil); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return ErrModificacaoConcorrente
		}
		return err
	}
	s.publisher.PublishDASVencido(ctx, d)
	return nil
}

// GetByID fetches one DAS, with its read-time effective status populated.
func (s *DASService) GetByID(ctx context.Context, id uuid.UUID) (*models.DAS, error) {
	d, err := s.repo.GetDASByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrDASNaoEncontrado
	}
	return d, err
}

// List pages the tenant's documents, optionally by stored status.
func (s *DASService) List(ctx context.Context, tenantID, status string, limit, offset int) ([]models.DAS, int64, error) {
	return s.repo.ListDAS(ctx, tenantID, status, limit, offset)
}

// --- helpers ---

// detalharPorGrupo slices the principal per annex group. Each slice is the
// group's assessed tax rounded to cents; whatever remainder the rounding
// leaves is added to the largest entry so the column sums exactly.
func detalharPorGrupo(grupos []models.GrupoAnexo, principal decimal.Decimal) ([]models.ItemDetalhamentoDAS, error) {
	itens := make([]models.ItemDetalhamentoDAS, 0, len(grupos))
	soma := decimal.Zero
	maior := 0
	for i, g := range grupos {
		valor := g.ImpostoApurado.RoundBank(2)
		itens = append(itens, models.ItemDetalhamentoDAS{
			Codigo:    fmt.Sprintf("SIMPLES-ANEXO-%s", g.Anexo),
			Descricao: fmt.Sprintf("Simples Nacional - Anexo %s (%d notas)", g.Anexo, g.QuantidadeNotas),
			Valor:     valor,
		})
		soma = soma.Add(valor)
		if valor.GreaterThan(itens[maior].Valor) {
			maior = i
		}
	}

	resto := principal.Sub(soma)
	if !resto.IsZero() {
		itens[maior].Valor = itens[maior].Valor.Add(resto)
	}

	// Never emit a document whose breakdown drifts from the principal.
	verificada := decimal.Zero
	for _, item := range itens {
		verificada = verificada.Add(item.Valor)
	}
	if !verificada.Equal(principal) {
		return nil, fmt.Errorf("%w: detalhamento soma %s, principal %s",
			ErrDetalhamentoDivergente, verificada, principal)
	}
	return itens, nil
}

// resolverVencimento computes the due date: the 20th of the month after the
// competence period, rolled to the next business day, unless overridden.
func (s *DASService) resolverVencimento(periodo string, override *time.Time) (time.Time, error) {
	if override != nil {
		return *override, nil
	}
	ref, err := time.Parse("200601", periodo)
	if err != nil {
		return time.Time{}, ErrPeriodoInvalido
	}
	dia20 := time.Date(ref.Year(), ref.Month(), 20, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return s.diasUteis.ProximoDiaUtil(dia20), nil
}

func ambienteOuPadrao(a models.AmbienteDAS) models.AmbienteDAS {
	if a == "" {
		return models.AmbienteProducao
	}
	return a
}

func gerarNumeroDocumento(periodo string) string {
	return fmt.Sprintf("DAS-%s-%s", periodo, strings.ToUpper(uuid.NewString()[:8]))
}
