package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"apuracao-service/internal/services"
	"apuracao-service/internal/simples"
)

// respondError maps service errors onto HTTP statuses. Validation problems
// are 400, missing aggregates 404, lifecycle/concurrency refusals 409 and
// domain invariant violations 422.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"

	switch {
	case errors.Is(err, services.ErrPeriodoInvalido),
		errors.Is(err, services.ErrHistoricoInvalido),
		errors.Is(err, services.ErrAnexoDesconhecido),
		errors.Is(err, services.ErrValorNegativo),
		errors.Is(err, services.ErrMotivoObrigatorio),
		errors.Is(err, services.ErrReferenciaObrigatoria),
		errors.Is(err, services.ErrDetalhamentoVazio):
		status = http.StatusBadRequest
		code = "VALIDATION_ERROR"

	case errors.Is(err, services.ErrApuracaoNaoEncontrada),
		errors.Is(err, services.ErrDASNaoEncontrado):
		status = http.StatusNotFound
		code = "NOT_FOUND"

	case errors.Is(err, services.ErrApuracaoJaExiste):
		status = http.StatusConflict
		code = "DUPLICATE_APURACAO"

	case errors.Is(err, services.ErrTransicaoInvalida),
		errors.Is(err, services.ErrApuracaoStatusInvalido):
		status = http.StatusConflict
		code = "INVALID_TRANSITION"

	case errors.Is(err, services.ErrModificacaoConcorrente):
		status = http.StatusConflict
		code = "CONCURRENT_MODIFICATION"

	case errors.Is(err, services.ErrApuracaoSemImposto),
		errors.Is(err, services.ErrDetalhamentoDivergente),
		errors.Is(err, services.ErrPagamentoAnteriorEmissao),
		errors.Is(err, simples.ErrReceitaForaDaFaixa),
		errors.Is(err, simples.ErrLacunaNaTabela),
		errors.Is(err, simples.ErrReceitaNegativa),
		errors.Is(err, simples.ErrAliquotaNegativa):
		status = http.StatusUnprocessableEntity
		code = "DOMAIN_RULE_VIOLATION"
	}

	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": err.Error(),
		},
	})
}

// paginacao reads limit/offset query params with sane bounds.
func paginacao(c *gin.Context) (limit, offset int) {
	limit = 50
	offset = 0
	if n, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil && n > 0 && n <= 200 {
		limit = n
	}
	if n, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil && n >= 0 {
		offset = n
	}
	return limit, offset
}
