package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"apuracao-service/internal/middleware"
	"apuracao-service/internal/models"
	"apuracao-service/internal/services"
)

// DASHandler handles DAS document HTTP requests
type DASHandler struct {
	service *services.DASService
}

// NewDASHandler creates a new DAS handler
func NewDASHandler(service *services.DASService) *DASHandler {
	return &DASHandler{service: service}
}

// GerarDeApuracao handles POST /api/v1/apuracoes/:id/das
func (h *DASHandler) GerarDeApuracao(c *gin.Context) {
	apuracaoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid apuração ID",
			"message": err.Error(),
		})
		return
	}

	var req models.GerarDASRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"message": err.Error(),
		})
		return
	}

	das, err := h.service.GerarDeApuracao(c.Request.Context(), middleware.GetTenantID(c), apuracaoID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, das)
}

// GerarDireto handles POST /api/v1/das
func (h *DASHandler) GerarDireto(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)

	var req models.GerarDASDiretoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"message": err.Error(),
		})
		return
	}

	das, err := h.service.GerarDireto(c.Request.Context(), tenantID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, das)
}

// Get handles GET /api/v1/das/:id
func (h *DASHandler) Get(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	das, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if das.TenantID != middleware.GetTenantID(c) {
		respondError(c, services.ErrDASNaoEncontrado)
		return
	}

	c.JSON(http.StatusOK, das)
}

// List handles GET /api/v1/das
func (h *DASHandler) List(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	status := c.Query("status")
	limit, offset := paginacao(c)

	documentos, total, err := h.service.List(c.Request.Context(), tenantID, status, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":  documentos,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Pagar handles POST /api/v1/das/:id/pagar
func (h *DASHandler) Pagar(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	var req models.PagarDASRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"message": err.Error(),
		})
		return
	}

	das, err := h.service.MarcarComoPago(c.Request.Context(), middleware.GetTenantID(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, das)
}

// Cancelar handles POST /api/v1/das/:id/cancelar
func (h *DASHandler) Cancelar(c *gin.Context) {
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

	das, err := h.service.Cancelar(c.Request.Context(), middleware.GetTenantID(c), id, req.Motivo)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, das)
}

// PDF handles GET /api/v1/das/:id/pdf. Rendering lives in a separate
// document service; this endpoint returns the stored reference.
func (h *DASHandler) PDF(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	das, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if das.TenantID != middleware.GetTenantID(c) {
		respondError(c, services.ErrDASNaoEncontrado)
		return
	}
	if das.PDFRef == "" {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "PDF_NOT_AVAILABLE",
				"message": "PDF ainda nao gerado para este documento",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dasId":           das.ID,
		"numeroDocumento": das.NumeroDoc,
		"pdfRef":          das.PDFRef,
	})
}

func (h *DASHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid DAS ID",
			"message": err.Error(),
		})
		return uuid.Nil, false
	}
	return id, true
}
