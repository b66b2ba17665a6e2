package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"apuracao-service/internal/events"
	"apuracao-service/internal/models"
	"apuracao-service/internal/repository"
	"apuracao-service/internal/simples"
)

var (
	ErrPeriodoInvalido        = errors.New("periodo invalido: esperado AAAAMM")
	ErrApuracaoJaExiste       = errors.New("ja existe apuracao nao cancelada para o cliente e periodo")
	ErrApuracaoNaoEncontrada  = errors.New("apuracao nao encontrada")
	ErrTransicaoInvalida      = errors.New("transicao de status invalida")
	ErrModificacaoConcorrente = errors.New("apuracao modificada concorrentemente, recarregue e tente novamente")
	ErrMotivoObrigatorio      = errors.New("motivo e obrigatorio")
	ErrHistoricoInvalido      = errors.New("historico de receita deve ter 12 meses")
	ErrAnexoDesconhecido      = errors.New("anexo desconhecido no lote de notas")
	ErrValorNegativo          = errors.New("valores de receita e folha nao podem ser negativos")
)

var periodoRegexp = regexp.MustCompile(`^\d{4}(0[1-9]|1[0-2])$`)

// Alert codes attached to an apuração.
const (
	AlertaReceitaZerada        = "zero-revenue-history"
	AlertaFatorRProximoLimiar  = "fator-r-proximo-limiar"
	AlertaAliquotaProximaFaixa = "aliquota-proxima-limite-faixa"
)

var (
	margemFatorR = decimal.NewFromInt(1)
	margemFaixa  = decimal.NewFromFloat(0.5)
	cem          = decimal.NewFromInt(100)
)

// ApuracaoService builds assessments and drives their lifecycle.
type ApuracaoService struct {
	repo      repository.ApuracaoRepositoryInterface
	publisher *events.Publisher
	tabelas   map[simples.Anexo]simples.Tabela
	logger    *logrus.Entry
	agora     func() time.Time
}

// NewApuracaoService creates the service. tabelas may be nil to use the
// built-in annex tables; agora is injectable for tests.
func NewApuracaoService(repo repository.ApuracaoRepositoryInterface, publisher *events.Publisher, tabelas map[simples.Anexo]simples.Tabela, logger *logrus.Logger) *ApuracaoService {
	if tabelas == nil {
		tabelas = map[simples.Anexo]simples.Tabela{
			simples.AnexoI:   simples.TabelaAnexoI,
			simples.AnexoII:  simples.TabelaAnexoII,
			simples.AnexoIII: simples.TabelaAnexoIII,
			simples.AnexoIV:  simples.TabelaAnexoIV,
			simples.AnexoV:   simples.TabelaAnexoV,
		}
	}
	return &ApuracaoService{
		repo:      repo,
		publisher: publisher,
		tabelas:   tabelas,
		logger:    logrus.NewEntry(logger).WithField("component", "services.apuracao"),
		agora:     time.Now,
	}
}

// Calcular runs a full assessment for one client and competence period.
// The computation is pure given its inputs; only the final persist touches
// state, so a validation failure leaves nothing behind.
func (s *ApuracaoService) Calcular(ctx context.Context, tenantID string, req models.CalcularApuracaoRequest) (*models.Apuracao, error) {
	if !periodoRegexp.MatchString(req.Periodo) {
		return nil, ErrPeriodoInvalido
	}
	if len(req.HistoricoReceita) != 12 {
		return nil, ErrHistoricoInvalido
	}
	if req.FolhaPagamento12m.IsNegative() {
		return nil, ErrValorNegativo
	}

	if _, err := s.repo.GetApuracaoAtiva(ctx, tenantID, req.ClientID, req.Periodo); err == nil {
		return nil, ErrApuracaoJaExiste
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	a, grupos, err := s.montarApuracao(tenantID, req.ClientID, req.Periodo, req.HistoricoReceita, req.FolhaPagamento12m, req.NotasPorAnexo)
	if err != nil {
		return nil, err
	}
	a.Grupos = grupos

	if err := s.repo.CreateApuracao(ctx, a); err != nil {
		if errors.Is(err, repository.ErrDuplicateActive) {
			return nil, ErrApuracaoJaExiste
		}
		return nil, fmt.Errorf("falha ao persistir apuracao: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"apuracaoId": a.ID,
		"clientId":   a.ClientID,
		"periodo":    a.Periodo,
		"imposto":    a.ImpostoTotal,
	}).Info("apuracao calculada")
	s.publisher.PublishApuracaoCalculada(ctx, a)

	return a, nil
}

// montarApuracao is the pure core of Calcular and Recalcular: no I/O, no
// clock reads besides calculadaEm stamping by the caller.
func (s *ApuracaoService) montarApuracao(tenantID string, clientID uuid.UUID, periodo string, historico []decimal.Decimal, folha12m decimal.Decimal, notasPorAnexo map[simples.Anexo][]models.NotaFiscalInput) (*models.Apuracao, []models.GrupoAnexo, error) {
	receita12m := decimal.Zero
	historicoArr := make([]float64, 0, len(historico))
	for _, v := range historico {
		if v.IsNegative() {
			return nil, nil, ErrValorNegativo
		}
		receita12m = receita12m.Add(v)
		f, _ := v.Float64()
		historicoArr = append(historicoArr, f)
	}

	fatorR := simples.CalcularFatorR(folha12m, receita12m)

	var alertas []string
	if fatorR.ReceitaZerada {
		alertas = append(alertas, AlertaReceitaZerada)
	} else if fatorR.RazaoPercentual.Sub(simples.LimiarFatorR).Abs().LessThanOrEqual(margemFatorR) {
		// A small payroll swing could flip the annex next period.
		alertas = append(alertas, AlertaFatorRProximoLimiar)
	}

	// Deterministic group order regardless of map iteration.
	anexos := make([]simples.Anexo, 0, len(notasPorAnexo))
	for anexo := range notasPorAnexo {
		if !simples.AnexoValido(anexo) {
			return nil, nil, fmt.Errorf("%w: %q", ErrAnexoDesconhecido, anexo)
		}
		anexos = append(anexos, anexo)
	}
	sort.Slice(anexos, func(i, j int) bool { return anexos[i] < anexos[j] })

	grupos := make([]models.GrupoAnexo, 0, len(anexos))
	receitaTotal := decimal.Zero
	impostoTotal := decimal.Zero
	alertaFaixa := false

	for _, anexo := range anexos {
		notas := notasPorAnexo[anexo]

		usaFatorR := simples.UsaFatorR(anexo)
		anexoEfetivo := anexo
		if usaFatorR {
			anexoEfetivo = fatorR.AnexoSelecionado
		}
		tabela, ok := s.tabelas[anexoEfetivo]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q", ErrAnexoDesconhecido, anexoEfetivo)
		}

		faixa, err := simples.BuscarFaixa(tabela, receita12m)
		if err != nil {
			return nil, nil, fmt.Errorf("anexo %s: %w", anexoEfetivo, err)
		}
		aliquota, err := simples.AliquotaEfetivaDaFaixa(faixa, receita12m)
		if err != nil {
			return nil, nil, fmt.Errorf("anexo %s: %w", anexoEfetivo, err)
		}

		receitaGrupo := decimal.Zero
		for _, nota := range notas {
			if nota.Valor.IsNegative() {
				return nil, nil, ErrValorNegativo
			}
			receitaGrupo = receitaGrupo.Add(nota.Valor)
		}
		imposto := receitaGrupo.Mul(aliquota).Div(cem).RoundBank(2)

		if proximaDeLimiteDeFaixa(tabela, faixa, aliquota, receita12m) {
			alertaFaixa = true
		}

		notasJSON, err := json.Marshal(notas)
		if err != nil {
			return nil, nil, fmt.Errorf("falha ao serializar notas do anexo %s: %w", anexo, err)
		}

		grupos = append(grupos, models.GrupoAnexo{
			Anexo:           anexo,
			UsaFatorR:       usaFatorR,
			AnexoEfetivo:    anexoEfetivo,
			QuantidadeNotas: len(notas),
			ReceitaBruta:    receitaGrupo,
			AliquotaEfetiva: aliquota,
			ImpostoApurado:  imposto,
			Notas:           datatypes.JSON(notasJSON),
		})

		receitaTotal = receitaTotal.Add(receitaGrupo)
		impostoTotal = impostoTotal.Add(imposto)
	}

	if alertaFaixa {
		alertas = append(alertas, AlertaAliquotaProximaFaixa)
	}

	aliquotaMedia := decimal.Zero
	if !receitaTotal.IsZero() {
		aliquotaMedia = impostoTotal.Div(receitaTotal).Mul(cem).RoundBank(4)
	}

	a := &models.Apuracao{
		TenantID: tenantID,
		ClientID: clientID,
		Periodo:  periodo,
		Status:   models.StatusApuracaoCalculada,
		Version:  1,
		FatorR: models.FatorRSnapshot{
			FolhaPagamento12m: folha12m,
			Receita12m:        receita12m,
			RazaoPercentual:   fatorR.RazaoPercentual,
			AnexoSelecionado:  fatorR.AnexoSelecionado,
		},
		ReceitaBrutaTotal:    receitaTotal,
		ImpostoTotal:         impostoTotal,
		AliquotaEfetivaMedia: aliquotaMedia,
		HistoricoReceita:     historicoArr,
		Alertas:              alertas,
		CalculadaEm:          s.agora(),
	}
	return a, grupos, nil
}

// proximaDeLimiteDeFaixa flags effective rates within half a point of the
// rate at either edge of the current bracket.
func proximaDeLimiteDeFaixa(tabela simples.Tabela, faixa simples.Faixa, aliquota, receita12m decimal.Decimal) bool {
	for _, limite := range []decimal.Decimal{faixa.ReceitaMin, faixa.ReceitaMax} {
		if limite.IsZero() {
			continue
		}
		naBorda, err := simples.AliquotaEfetivaDaFaixa(faixa, limite)
		if err != nil {
			continue
		}
		if naBorda.Sub(aliquota).Abs().LessThanOrEqual(margemFaixa) && !receita12m.Equal(limite) {
			return true
		}
	}
	return false
}

// --- Lifecycle ---

// Validar moves calculada → validada.
func (s *ApuracaoService) Validar(ctx context.Context, tenantID string, id uuid.UUID) (*models.Apuracao, error) {
	return s.transicionar(ctx, tenantID, id, models.EventoValidar, nil, func(a *models.Apuracao) {
		s.publisher.PublishApuracaoValidada(ctx, a)
	})
}

// Transmitir moves validada → transmitida. Only local state flips; the
// actual submission to the tax authority is an external collaborator.
func (s *ApuracaoService) Transmitir(ctx context.Context, tenantID string, id uuid.UUID) (*models.Apuracao, error) {
	return s.transicionar(ctx, tenantID, id, models.EventoTransmitir, nil, func(a *models.Apuracao) {
		s.publisher.PublishApuracaoTransmitida(ctx, a)
	})
}

// Cancelar is the logical delete: terminal, audit-preserving. An apuração
// whose DAS was already paid cannot be cancelled (the DAS must go first).
func (s *ApuracaoService) Cancelar(ctx context.Context, tenantID string, id uuid.UUID, motivo string) (*models.Apuracao, error) {
	if motivo == "" {
		return nil, ErrMotivoObrigatorio
	}
	agora := s.agora()
	updates := map[string]interface{}{
		"cancelada_em":   agora,
		"motivo_cancela": motivo,
	}
	return s.transicionar(ctx, tenantID, id, models.EventoCancelar, updates, func(a *models.Apuracao) {
		a.CanceladaEm = &agora
		a.MotivoCancela = motivo
		s.publisher.PublishApuracaoCancelada(ctx, a, motivo)
	})
}

// MarcarPaga is driven by the DAS lifecycle when the linked document is paid.
func (s *ApuracaoService) MarcarPaga(ctx context.Context, tenantID string, id uuid.UUID) (*models.Apuracao, error) {
	return s.transicionar(ctx, tenantID, id, models.EventoPagar, nil, nil)
}

// RegistrarDASGerado links a freshly generated DAS to its apuração.
func (s *ApuracaoService) RegistrarDASGerado(ctx context.Context, a *models.Apuracao, dasID uuid.UUID) error {
	novo, ok := a.Status.ProximoStatus(models.EventoGerarDAS)
	if !ok {
		return ErrTransicaoInvalida
	}
	updates := map[string]interface{}{
		"das_gerado": true,
		"das_ref":    dasID,
	}
	if err := s.atualizarComRetry(ctx, a, novo, updates); err != nil {
		return err
	}
	a.DASGerado = true
	a.DASRef = &dasID
	return nil
}

// Recalcular supersedes the figures of an existing apuração in place. The
// previous numbers are appended to the revision trail, never discarded.
func (s *ApuracaoService) Recalcular(ctx context.Context, tenantID string, id uuid.UUID, req models.RecalcularApuracaoRequest) (*models.Apuracao, error) {
	if req.Motivo == "" {
		return nil, ErrMotivoObrigatorio
	}
	if len(req.HistoricoReceita) != 12 {
		return nil, ErrHistoricoInvalido
	}

	atual, err := s.repo.GetApuracaoByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrApuracaoNaoEncontrada
		}
		return nil, err
	}
	if atual.TenantID != tenantID {
		return nil, ErrApuracaoNaoEncontrada
	}
	if _, ok := atual.Status.ProximoStatus(models.EventoRecalcular); !ok {
		return nil, ErrTransicaoInvalida
	}

	novo, grupos, err := s.montarApuracao(atual.TenantID, atual.ClientID, atual.Periodo, req.HistoricoReceita, req.FolhaPagamento12m, req.NotasPorAnexo)
	if err != nil {
		return nil, err
	}

	revisoes, err := anexarRevisao(atual, req.Motivo, s.agora())
	if err != nil {
		return nil, err
	}

	atual.Status = models.StatusApuracaoCalculada
	atual.FatorR = novo.FatorR
	atual.ReceitaBrutaTotal = novo.ReceitaBrutaTotal
	atual.ImpostoTotal = novo.ImpostoTotal
	atual.AliquotaEfetivaMedia = novo.AliquotaEfetivaMedia
	atual.HistoricoReceita = novo.HistoricoReceita
	atual.Alertas = novo.Alertas
	atual.Revisoes = revisoes
	atual.CalculadaEm = novo.CalculadaEm

	if err := s.repo.ReplaceApuracaoFigures(ctx, atual, grupos); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, ErrModificacaoConcorrente
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"apuracaoId": atual.ID,
		"motivo":     req.Motivo,
	}).Info("apuracao recalculada")
	s.publisher.PublishApuracaoRecalculada(ctx, atual, req.Motivo)

	return atual, nil
}

// GetByID fetches one apuração.
func (s *ApuracaoService) GetByID(ctx context.Context, id uuid.UUID) (*models.Apuracao, error) {
	a, err := s.repo.GetApuracaoByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrApuracaoNaoEncontrada
	}
	return a, err
}

// List pages the tenant's apurações, optionally by status.
func (s *ApuracaoService) List(ctx context.Context, tenantID, status string, limit, offset int) ([]models.Apuracao, int64, error) {
	return s.repo.ListApuracoes(ctx, tenantID, status, limit, offset)
}

// transicionar validates legality against the transition table and applies
// the CAS write, retrying once on a stale read before giving up.
func (s *ApuracaoService) transicionar(ctx context.Context, tenantID string, id uuid.UUID, ev models.EventoApuracao, updates map[string]interface{}, depois func(*models.Apuracao)) (*models.Apuracao, error) {
	a, err := s.repo.GetApuracaoByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrApuracaoNaoEncontrada
		}
		return nil, err
	}
	if a.TenantID != tenantID {
		// Cross-tenant access reads as absence, never as forbidden.
		return nil, ErrApuracaoNaoEncontrada
	}

	novo, ok := a.Status.ProximoStatus(ev)
	if !ok {
		return nil, ErrTransicaoInvalida
	}

	if err := s.atualizarComRetry(ctx, a, novo, updates); err != nil {
		return nil, err
	}

	if depois != nil {
		depois(a)
	}
	return a, nil
}

// atualizarComRetry performs the compare-and-swap: on a version conflict the
// aggregate is re-read once and the event re-validated against the fresh
// status; a second conflict surfaces as ErrModificacaoConcorrente.
func (s *ApuracaoService) atualizarComRetry(ctx context.Context, a *models.Apuracao, novo models.StatusApuracao, updates map[string]interface{}) error {
	err := s.repo.UpdateApuracaoStatus(ctx, a, novo, updates)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrVersionConflict) {
		return err
	}

	recarregada, err := s.repo.GetApuracaoByID(ctx, a.ID)
	if err != nil {
		return err
	}
	if eventoParaStatus(recarregada.Status, novo) == EventoInvalido {
		// The concurrent writer moved the aggregate somewhere the requested
		// transition no longer applies from.
		return ErrTransicaoInvalida
	}
	*a = *recarregada
	if err := s.repo.UpdateApuracaoStatus(ctx, a, novo, updates); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return ErrModificacaoConcorrente
		}
		return err
	}
	return nil
}

// eventoParaStatus recovers which event leads from the current status to the
// already-resolved target, for re-validation after a conflicting write.
func eventoParaStatus(atual models.StatusApuracao, alvo models.StatusApuracao) models.EventoApuracao {
	for _, ev := range []models.EventoApuracao{
		models.EventoValidar, models.EventoTransmitir, models.EventoGerarDAS,
		models.EventoCancelar, models.EventoRecalcular, models.EventoPagar,
	} {
		if novo, ok := atual.ProximoStatus(ev); ok && novo == alvo {
			return ev
		}
	}
	return EventoInvalido
}

// EventoInvalido never appears in the transition table.
const EventoInvalido models.EventoApuracao = "invalido"

func anexarRevisao(a *models.Apuracao, motivo string, quando time.Time) (datatypes.JSON, error) {
	var trilha []models.RevisaoApuracao
	if len(a.Revisoes) > 0 {
		if err := json.Unmarshal(a.Revisoes, &trilha); err != nil {
			return nil, fmt.Errorf("trilha de revisoes corrompida: %w", err)
		}
	}
	trilha = append(trilha, models.RevisaoApuracao{
		RecalculadaEm:        quando,
		Motivo:               motivo,
		StatusAnterior:       a.Status,
		ReceitaBrutaAnterior: a.ReceitaBrutaTotal,
		ImpostoAnterior:      a.ImpostoTotal,
		AliquotaAnterior:     a.AliquotaEfetivaMedia,
		FatorRAnterior:       a.FatorR,
	})
	data, err := json.Marshal(trilha)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}
