package escrow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/homeflowhq/homeflow/internal/auth"
	"github.com/homeflowhq/homeflow/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up escrow routes. All escrow routes require auth;
// status updates are seller-only.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/escrows/:id", h.GetEscrow)
	r.GET("/escrows/:id/documents", h.ListDocuments)
	r.POST("/escrows/:id/documents", h.AddDocument)
	r.PUT("/escrows/:id/status", auth.RequireRole(auth.RoleSeller), h.SetStatus)
}

// GetEscrow handles GET /v1/escrows/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	e, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// GetByOffer handles GET /v1/offers/:id/escrow. Responds 200 with a null
// body field when the offer has no escrow, so clients can distinguish
// "not accepted yet" from "offer does not exist".
func (h *Handler) GetByOffer(c *gin.Context) {
	e, err := h.service.GetByOffer(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrow": e})
}

// AddDocument handles POST /v1/escrows/:id/documents
func (h *Handler) AddDocument(c *gin.Context) {
	var req AddDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.MaxLength("name", req.Name, 255),
		validation.Required("s3_key", req.S3Key),
		validation.MaxLength("s3_key", req.S3Key, 1024),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	actor := auth.ActorFrom(c)
	doc, err := h.service.AddDocument(c.Request.Context(), c.Param("id"), actor.UserID, req)
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// ListDocuments handles GET /v1/escrows/:id/documents
func (h *Handler) ListDocuments(c *gin.Context) {
	docs, err := h.service.ListDocuments(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	if docs == nil {
		docs = []*Document{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// SetStatus handles PUT /v1/escrows/:id/status
func (h *Handler) SetStatus(c *gin.Context) {
	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	e, err := h.service.SetStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		respondEscrowError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func respondEscrowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrEscrowNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "escrow_not_found",
			"message": "Escrow not found",
		})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_status",
			"message": "Status must be one of OPEN, IN_PROGRESS, CLOSED",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
	}
}
