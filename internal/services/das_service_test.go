package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"apuracao-service/internal/models"
	"apuracao-service/internal/repository"
	"apuracao-service/internal/simples"
)

func novoDASServicoTeste(repo *MockApuracaoRepository) *DASService {
	apuracoes := NewApuracaoService(repo, nil, nil, testLogger())
	return NewDASService(repo, apuracoes, nil, nil, testLogger())
}

func apuracaoComGrupos(status models.StatusApuracao) *models.Apuracao {
	a := apuracaoExistente(status)
	a.Grupos = []models.GrupoAnexo{
		{
			Anexo:           simples.AnexoI,
			AnexoEfetivo:    simples.AnexoI,
			QuantidadeNotas: 3,
			ReceitaBruta:    decimal.NewFromInt(20000),
			AliquotaEfetiva: decimal.NewFromInt(4),
			ImpostoApurado:  decimal.NewFromInt(800),
		},
		{
			Anexo:           simples.AnexoIII,
			UsaFatorR:       true,
			AnexoEfetivo:    simples.AnexoIII,
			QuantidadeNotas: 2,
			ReceitaBruta:    decimal.NewFromInt(50000),
			AliquotaEfetiva: decimal.NewFromFloat(8.6),
			ImpostoApurado:  decimal.NewFromInt(4300),
		},
	}
	a.ImpostoTotal = decimal.NewFromInt(5100)
	return a
}

// ===========================================
// Gerar de apuração
// ===========================================

func TestGerarDeApuracao_Sucesso(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockApuracaoRepository)
	service := novoDASServicoTeste(mockRepo)
	a := apuracaoComGrupos(models.StatusApuracaoValidada)

	mockRepo.On("GetApuracaoByID", ctx, a.ID).Return(a, nil)
	mockRepo.On("CreateDAS", ctx, mock.AnythingOfType("*models.DAS")).Return(nil)
	mockRepo.On("UpdateApuracaoStatus", ctx, a, models.StatusApuracaoDASGerado, mock.Anything).
		Return(nil)

	d, err := service.GerarDeApuracao(ctx, "tenant-1", a.ID, models.GerarDASRequest{
		CNPJ: "12.345.678/0001-90",
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusDASGerado, d.Status)
	assert.Equal(t, models.AmbienteProducao, d.Ambiente)
	assert.Equal(t, "202501", d.Periodo)
	assert.True(t, d.ValorPrincipal.Equal(decimal.NewFromInt(5100)))
	assert.True(t, d.ValorMulta.IsZero())
	assert.True(t, d.ValorTotal.Equal(d.ValorPrincipal))
	require.NotNil(t, d.ApuracaoRef)
	assert.Equal(t, a.ID, *d.ApuracaoRef)
	assert.Regexp(t, `^DAS-202501-[0-9A-F]{8}$`, d.NumeroDoc)

	// Um item por grupo, somando exatamente o principal.
	require.Len(t, d.Detalhamento, 2)
	soma := decimal.Zero
	for _, item := range d.Detalhamento {
		soma = soma.Add(item.Valor)
	}
	assert.True(t, soma.Equal(d.ValorPrincipal))

	// Competencia 2025-01 vence em 20/02/2025 (quinta-feira, sem ajuste).
	assert.Equal(t, time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC), d.Vencimento)

	// A apuração avançou junto.
	assert.Equal(t, models.StatusApuracaoDASGerado, a.Status)
	assert.True(t, a.DASGerado)
	require.NotNil(t, a.DASRef)
	assert.Equal(t, d.ID, *a.DASRef)
	mockRepo.AssertExpectations(t)
}

func TestGerarDeApuracao_StatusNaoPermite(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockApuracaoRepository)
	service := novoDASServicoTeste(mockRepo)

	for _, status := range []models.StatusApuracao{
		models.StatusApuracaoDASGerado,
		models.StatusApuracaoPaga,
		models.StatusApuracaoCancelada,
	} {
		a := apuracaoComGrupos(status)
		mockRepo.On("GetApuracaoByID", ctx, a.ID).Return(a, nil)

		_, err := service.GerarDeApuracao(ctx, "tenant-1", a.ID, models.GerarDASRequest{CNPJ: "123"})
		assert.ErrorIs(t, err, ErrApuracaoStatusInvalido, "status %s", status)
	}
}

func TestGerarDeApuracao_SemImposto(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockApuracaoRepository)
	service := novoDASServicoTeste(mockRepo)

	a := apuracaoComGrupos(models.StatusApuracaoCalculada)
	a.ImpostoTotal = decimal.Zero

	mockRepo.On("GetApuracaoByID", ctx, a.ID).Return(a, nil)

	_, err := service.GerarDeApuracao(ctx, "tenant-1", a.ID, models.GerarDASRequest{CNPJ: "123"})
	assert.ErrorIs(t, err, ErrApuracaoSemImposto)
}

func TestGerarDeApuracao_NaoEncontrada(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockApuracaoRepository)
	service := novoDASServicoTeste(mockRepo)
	id := uuid.New()

	mockRepo.On("GetApuracaoByID", ctx, id).Return(nil, repository.ErrNotFound)

	_, err := service.GerarDeApuracao(ctx, "tenant-1", id, models.GerarDASRequest{CNPJ: "123"})
	assert.ErrorIs(t, err, ErrApuracaoNaoEncontrada)
}

func TestGerarDeApuracao_OutroTenantNaoEnxergaAApuracao(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockApuracaoRepository)
	service := novoDASServicoTeste(mockRepo)
	a := apuracaoComGrupos(models.StatusApuracaoValidada)

	mockRepo.On("GetApuracaoByID", ctx, a.ID).Return(a, nil)

	_, err := service.GerarDeApuracao(ctx, "tenant-2", a.ID, models.GerarDASRequest{CNPJ: "123"})
	assert.ErrorIs(t, err, ErrApuracaoNaoEncontrada)
	mockRepo.AssertNotCalled(t, "CreateDAS", mock.Anything, mock.Anything)
}

func TestGerarDeApuracao_DesfazDocumentoQuandoApuracaoNaoAvanca(t *testing.T) {
	// A escrita concorrente impede o avanço da apuração duas vezes; o
	// documento recem criado e cancelado para que a retentativa nao
	// produza um segundo DAS ativo.
	ctx := context.Background()
	mockRepo := new(MockApuracaoRepository)
	service := novoDASServicoTeste(mockRepo)
	a := apuracaoComGrupos(models.StatusApuracaoValidada)

	var criado *models.DAS
	mockRepo.On("GetApuracaoByID", ctx, a.ID).Return(a, nil)
	mockRepo.On("CreateDAS", ctx, mock.AnythingOfType("*models.DAS")).
		Run(func(args mock.Arguments) {
			criado = args.Get(1).(*models.DAS)
		}).Return(nil)
	mockRepo.On("UpdateApuracaoStatus", ctx, a, models.StatusApuracaoDASGerado, mock.Anything).
		Return(repository.ErrVersionConflict).Twice()
	mockRepo.On("UpdateDASStatus", ctx, mock.AnythingOfType("*models.DAS"), models.StatusDASCancelado, mock.Anything).
		Return(nil)

	_, err := service.GerarDeApuracao(ctx, "tenant-1", a.ID, models.GerarDASRequest{CNPJ: "123"})

	assert.ErrorIs(t, err, ErrModificacaoConcorrente)
	require.NotNil(t, criado)
	assert.Equal(t, models.StatusDASCancelado, criado.Status)
	assert.False(t, a.DASGerado)
	mockRepo.AssertExpectations(t)
}

func TestDetalharPorGrupo_AbsorveRestoDoArredondamento(t *testing.T) {
	// Three half-cent figures round down to 10.00 each; the missing cent
	// lands on the largest entry and the column still sums to the principal.
	grupos := []models.GrupoAnexo{
		{Anexo: simples.AnexoI, ImpostoApurado: decimal.NewFromFloat(10.005)},
		{Anexo: simples.AnexoII, ImpostoApurado: decimal.NewFromFloat(10.005)},
		{Anexo: simples.AnexoIII, ImpostoApurado: decimal.NewFromFloat(10.005)},
	}
	principal := decimal.NewFromFloat(30.01)

	itens, err := detalharPorGrupo(grupos, principal)

	require.NoError(t, err)
	require.Len(t, itens, 3)
	soma := decimal.Zero
	for _, item := range itens {
		soma = soma.Add(item.Valor)
	}
	assert.True(t, soma.Equal(principal), "soma %s, principal %s", soma, principal)
}

// ===========================================
// Geração direta
// ===========================================

func requisicaoDireta() models.GerarDASDiretoRequest {
	return models.GerarDASDiretoRequest{
		ClientID:       uuid.New(),
		CNPJ:           "12.345.678/0001-90",
		Periodo:        "202503",
		ValorPrincipal: decimal.NewFromInt(1000),
		ValorMulta:     decimal.NewFromInt(20),
		ValorJuros:     decimal.NewFromInt(5),
		Detalhamento: []models.ItemDetalhamentoInput{
			{Codigo: "SIMPLES-ANEXO-I", Valor: decimal.NewFromInt(600)},
			{Codigo: "SIMPLES-ANEXO-III", Valor: decimal.NewFromInt(400)},
		},
	}
}

func TestGerarDireto_Sucesso(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockApuracaoRepository)
	service := novoDASServicoTeste(mockRepo)

	mockRepo.On("CreateDAS", ctx, mock.AnythingOfType("*models.DAS")).Return(nil)

	d, err := service.GerarDireto(ctx, "tenant-1", requisicaoDireta())

	require.NoError(t, err)
	assert.Equal(t, "tenant-1", d.TenantID)
	assert.Nil(t, d.ApuracaoRef)
	// Total = principal + multa + juros.
	assert.True(t, d.ValorTotal.Equal(decimal.NewFromInt(1025)), "veio %s", d.ValorTotal)
	assert.Regexp(t, `^DAS-202503-[0-9A-F]{8}$`, d.NumeroDoc)
	mockRepo.AssertExpectations(t)
}

func TestGerarDireto_DetalhamentoDivergente(t *testing.T) {
	service := novoDASServicoTeste(new(MockApuracaoRepository))

	req := requisicaoDireta()
	req.Detalhamento[1].Valor = decimal.NewFromInt(399)

	_, err := service.GerarDireto(context.Background(), "tenant-1", req)
	assert.ErrorIs(t, err, ErrDetalhamentoDivergente)
}

func TestGerarDireto_DetalhamentoVazio(t *testing.T) {
	service := novoDASServicoTeste(new(MockApuracaoRepository))

	req := requisicaoDireta()
	req.Detalhamento = nil

	_, err := service.GerarDireto(context.Background(), "tenant-1", req)
	assert.ErrorIs(t, err, ErrDetalhamentoVazio)
}

func TestGerarDireto_ValoresNegativos(t *testing.T) {
	service := novoDASServicoTeste(new(MockApuracaoRepository))

	req := requisicaoDireta()
	req.ValorMulta = decimal.NewFromInt(-1)

	_, err := service.GerarDireto(context.Background(), "tenant-1", req)
	assert.ErrorIs(t, err, ErrValorNegativo)
}

func TestGerarDireto_PeriodoInvalido(t *testing.T) {
	service := novoDASServicoTeste(new(MockApuracaoRepository))

	req := requisicaoDireta()
	req.Periodo = "2025/03"

	_, err := service.GerarDireto(context.Background(), "tenant-1", req)
	assert.ErrorIs(t, err, ErrPeriodoInvalido)
}

// ===========================================
// Pagamento
// ===========================================

func dasExistente(status models.StatusDAS) *models.DAS {
	return &models.DAS{
		ID:             uuid.New(),
		TenantID:       "tenant-1",
		ClientID:       uuid.New(),
		CNPJ:           "12.345.678/0001-90",
		Ambiente:       models.AmbienteProducao,
		Periodo:        "202501",
		NumeroDoc:      "DAS-202501-AB12CD34",
		Vencimento:     time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC),
		ValorPrincipal: decimal.NewFromInt(5100),
		ValorMulta:     decimal.Zero,
		ValorJuros:     decimal.Zero,
		ValorTotal:     decimal.NewFromInt(5100),
		Status:         status,
		Version:        1,
		EmitidoEm:      time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestMarcarComoPago_Sucesso(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockApuracaoRepository)
	service := novoDASServicoTeste(mockRepo)

	d := dasExistente(models.StatusDASGerado)
	a := apuracaoComGrupos(models.StatusApuracaoDASGerado)
	d.ApuracaoRef = &a.ID

	mockRepo.On("GetDASByID", ctx, d.ID).Return(d, nil)
	mockRepo.On("UpdateDASStatus", ctx, d, models.StatusDASPago, mock.Anything).Return(nil)
	mockRepo.On("GetApuracaoByID", ctx, a.ID).Return(a, nil)
	mockRepo.On("UpdateApuracaoStatus", ctx, a, models.StatusApuracaoPaga, mock.Anything).
		Return(nil)

	pago, err := service.MarcarComoPago(ctx, "tenant-1", d.ID, models.PagarDASRequest{
		ReferenciaPagamento: "PIX-2025-0001",
		DataPagamento:       time.Date(2025, 2, 18, 0, 0, 0, 0, time.UTC),
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusDASPago, pago.Status)
	assert.Equal(t, "PIX-2025-0001", pago.ReferenciaPagamento)
	require.NotNil(t, pago.PagoEm)
	// A apuração de origem acompanhou o pagamento.
	assert.Equal(t, models.StatusApuracaoPaga, a.Status)
	mockRepo.AssertExpectations(t)
}

func TestMarcarComoPago_VencidoAindaAceitaPagamento(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockApuracaoRepository)
	service := novoDASServicoTeste(mockRepo)

	d := dasExistente(models.StatusDASVencido)
	mockRepo.On("GetDASByID", ctx, d.ID).Return(d, nil)
	mockRepo.On("UpdateDASStatus", ctx, d, models.StatusDASPago, mock.Anything).Return(nil)

	pago, err := service.MarcarComoPago(ctx, "tenant-1", d.ID, models.PagarDASRequest{
		ReferenciaPagamento: "BOLETO-9981",
		DataPagamento:       time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusDASPago, pago.Status)
}

func TestMarcarComoPago_SemReferencia(t *testing.T) {
	service := novoDASServicoTeste(new(MockApuracaoRepository))

	_, err := service.MarcarComoPago(context.Background(), "tenant-1", uuid.New(), models.PagarDASRequest{
		ReferenciaPagamento: "   ",
		DataPagamento:       time.Now(),
	})
	assert.ErrorIs(t, err, ErrReferenciaObrigatoria)
}

func TestMarcarComoPago_DataAnteriorAEmissao(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockApuracaoRepository)
	service := novoDASServicoTeste(mockRepo)

	d := dasExistente(models.StatusDASGerado)
	mockRepo.On("GetDASByID", ctx, d.ID).Return(d, nil)

	_, err := service.MarcarComoPago(ctx, "tenant-1", d.ID, models.PagarDASRequest{
		ReferenciaPagamento: "PIX-001",
		DataPagamento:       time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, ErrPagamentoAnteriorEmissao)
}

func TestMarcarComoPago_JaPago(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockApuracaoRepository)
	service := novoDASServicoTeste(mockRepo)

	d := dasExistente(models.StatusDASPago)
	mockRepo.On("GetDASByID", ctx, d.ID).Return(d, nil)

	_, err := service.MarcarComoPago(ctx, "tenant-1", d.ID, models.PagarDASRequest{
		ReferenciaPagamento: "PIX-002",
		DataPagamento:       time.Now(),
	})
	assert.ErrorIs(t, err, ErrTransicaoInvalida)
}

func TestMarcarComoPago_OutroTenantNaoEnxergaODocumento(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockApuracaoRepository)
	service := novoDASServicoTeste(mockRepo)

	d := dasExistente(models.StatusDASGerado)
	mockRepo.On("GetDASByID", ctx, d.ID).Return(d, nil)

	_, err := service.MarcarComoPago(ctx, "tenant-2", d.ID, models.PagarDASRequest{
		ReferenciaPagamento: "PIX-003",
		DataPagamento:       time.Date(2025, 2, 18, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, ErrDASNaoEncontrado)
	mockRepo.AssertNotCalled(t, "UpdateDASStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// ===========================================
// Cancelamento e vencimento
// ===========================================

func TestCancelarDAS_Sucesso(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockApuracaoRepository)
	service := novoDASServicoTeste(mockRepo)

	d := dasExistente(models.StatusDASGerado)
	mockRepo.On("GetDASByID", ctx, d.ID).Return(d, nil)
	mockRepo.On("UpdateDASStatus", ctx, d, models.StatusDASCancelado, mock.Anything).Return(nil)

	cancelado, err := service.Cancelar(ctx, "tenant-1", d.ID, "valor incorreto, sera reemitido")

	require.NoError(t, err)
	assert.Equal(t, models.StatusDASCancelado, cancelado.Status)
	assert.Equal(t, "valor incorreto, sera reemitido", cancelado.MotivoCancela)
	require.NotNil(t, cancelado.CanceladoEm)
}

func TestCancelarDAS_PagoEImutavel(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockApuracaoRepository)
	service := novoDASServicoTeste(mockRepo)

	d := dasExistente(models.StatusDASPago)
	mockRepo.On("GetDASByID", ctx, d.ID).Return(d, nil)

	_, err := service.Cancelar(ctx, "tenant-1", d.ID, "tentativa tardia")
	assert.ErrorIs(t, err, ErrTransicaoInvalida)
}

func TestCancelarDAS_OutroTenantNaoEnxergaODocumento(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockApuracaoRepository)
	service := novoDASServicoTeste(mockRepo)

	d := dasExistente(models.StatusDASGerado)
	mockRepo.On("GetDASByID", ctx, d.ID).Return(d, nil)

	_, err := service.Cancelar(ctx, "tenant-2", d.ID, "motivo qualquer")
	assert.ErrorIs(t, err, ErrDASNaoEncontrado)
	mockRepo.AssertNotCalled(t, "UpdateDASStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMarcarVencido_SomenteDeGerado(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockApuracaoRepository)
	service := novoDASServicoTeste(mockRepo)

	gerado := dasExistente(models.StatusDASGerado)
	mockRepo.On("UpdateDASStatus", ctx, gerado, models.StatusDASVencido, mock.Anything).
		Return(nil)

	require.NoError(t, service.MarcarVencido(ctx, gerado))
	assert.Equal(t, models.StatusDASVencido, gerado.Status)

	pago := dasExistente(models.StatusDASPago)
	assert.ErrorIs(t, service.MarcarVencido(ctx, pago), ErrTransicaoInvalida)
}

// ===========================================
// Vencimento
// ===========================================

func TestResolverVencimento_Dia20DoMesSeguinte(t *testing.T) {
	service := novoDASServicoTeste(new(MockApuracaoRepository))

	vencimento, err := service.resolverVencimento("202501", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC), vencimento)
}

func TestResolverVencimento_PulaFimDeSemana(t *testing.T) {
	service := novoDASServicoTeste(new(MockApuracaoRepository))

	// 20/09/2025 e sabado; rola para segunda 22/09.
	vencimento, err := service.resolverVencimento("202508", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 9, 22, 0, 0, 0, 0, time.UTC), vencimento)
}

func TestResolverVencimento_Override(t *testing.T) {
	service := novoDASServicoTeste(new(MockApuracaoRepository))

	custom := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	vencimento, err := service.resolverVencimento("202501", &custom)
	require.NoError(t, err)
	assert.Equal(t, custom, vencimento)
}
