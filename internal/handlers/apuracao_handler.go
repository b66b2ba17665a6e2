package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"apuracao-service/internal/middleware"
	"apuracao-service/internal/models"
	"apuracao-service/internal/services"
)

// ApuracaoHandler handles apuração HTTP requests
type ApuracaoHandler struct {
	service *services.ApuracaoService
}

// NewApuracaoHandler creates a new apuração handler
func NewApuracaoHandler(service *services.ApuracaoService) *ApuracaoHandler {
	return &ApuracaoHandler{service: service}
}

// Calcular handles POST /api/v1/apuracoes
func (h *ApuracaoHandler) Calcular(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)

	var req models.CalcularApuracaoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"message": err.Error(),
		})
		return
	}

	apuracao, err := h.service.Calcular(c.Request.Context(), tenantID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, apuracao)
}

// Get handles GET /api/v1/apuracoes/:id
func (h *ApuracaoHandler) Get(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	apuracao, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if apuracao.TenantID != middleware.GetTenantID(c) {
		respondError(c, services.ErrApuracaoNaoEncontrada)
		return
	}

	c.JSON(http.StatusOK, apuracao)
}

// List handles GET /api/v1/apuracoes
func (h *ApuracaoHandler) List(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	status := c.Query("status")
	limit, offset := paginacao(c)

	apuracoes, total, err := h.service.List(c.Request.Context(), tenantID, status, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":  apuracoes,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Validar handles POST /api/v1/apuracoes/:id/validar
func (h *ApuracaoHandler) Validar(c *gin.Context) {
	h.transicao(c, h.service.Validar)
}

// Transmitir handles POST /api/v1/apuracoes/:id/transmitir
func (h *ApuracaoHandler) Transmitir(c *gin.Context) {
	h.transicao(c, h.service.Transmitir)
}

// Cancelar handles POST /api/v1/apuracoes/:id/cancelar
func (h *ApuracaoHandler) Cancelar(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	var req models.MotivoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"message": err.Error(),
		})
		return
	}

	apuracao, err := h.service.Cancelar(c.Request.Context(), middleware.GetTenantID(c), id, req.Motivo)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, apuracao)
}

// Recalcular handles POST /api/v1/apuracoes/:id/recalcular
func (h *ApuracaoHandler) Recalcular(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	var req models.RecalcularApuracaoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"message": err.Error(),
		})
		return
	}

	apuracao, err := h.service.Recalcular(c.Request.Context(), middleware.GetTenantID(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, apuracao)
}

func (h *ApuracaoHandler) transicao(c *gin.Context, fn func(ctx context.Context, tenantID string, id uuid.UUID) (*models.Apuracao, error)) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	apuracao, err := fn(c.Request.Context(), middleware.GetTenantID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, apuracao)
}

func (h *ApuracaoHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid apuração ID",
			"message": err.Error(),
		})
		return uuid.Nil, false
	}
	return id, true
}
