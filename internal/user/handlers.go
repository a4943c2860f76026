package user

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/homeflowhq/homeflow/internal/auth"
	"github.com/homeflowhq/homeflow/internal/validation"
)

// Handler provides HTTP endpoints for user accounts.
type Handler struct {
	service *Service
}

// NewHandler creates a new user handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes sets up registration, which needs no token.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/users", h.Upsert)
}

// RegisterProtectedRoutes sets up authenticated account routes. Accounts
// may erase themselves; admins may erase anyone.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/users/me", h.Me)
	r.DELETE("/users/me", h.AnonymizeSelf)
	r.DELETE("/users/:id", auth.RequireRole(auth.RoleAdmin), h.Anonymize)
}

// Upsert handles POST /v1/users. Registers a new account or refreshes an
// existing one, returning the account and a bearer token.
func (h *Handler) Upsert(c *gin.Context) {
	var req UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("email", req.Email),
		validation.Required("full_name", req.FullName),
		validation.MaxLength("full_name", req.FullName, 255),
	); len(errs) > 0 || !validation.IsValidEmail(req.Email) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "email must be valid and full_name present",
		})
		return
	}

	u, token, err := h.service.Upsert(c.Request.Context(), req)
	if err != nil {
		respondUserError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u, "token": token})
}

// Me handles GET /v1/users/me
func (h *Handler) Me(c *gin.Context) {
	actor := auth.ActorFrom(c)
	u, err := h.service.Get(c.Request.Context(), actor.UserID)
	if err != nil {
		respondUserError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// AnonymizeSelf handles DELETE /v1/users/me
func (h *Handler) AnonymizeSelf(c *gin.Context) {
	actor := auth.ActorFrom(c)
	if err := h.service.Anonymize(c.Request.Context(), actor.UserID); err != nil {
		respondUserError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Anonymize handles DELETE /v1/users/:id (admin only)
func (h *Handler) Anonymize(c *gin.Context) {
	if err := h.service.Anonymize(c.Request.Context(), c.Param("id")); err != nil {
		respondUserError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func respondUserError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "user_not_found",
			"message": "User not found",
		})
	case errors.Is(err, ErrInvalidRole):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_role",
			"message": "Role must be one of BUYER, SELLER, SERVICE_PROVIDER, ADMIN",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
	}
}
