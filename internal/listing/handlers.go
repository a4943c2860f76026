package listing

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/homeflowhq/homeflow/internal/auth"
	"github.com/homeflowhq/homeflow/internal/pagination"
	"github.com/homeflowhq/homeflow/internal/validation"
)

// Handler provides HTTP endpoints for listings.
type Handler struct {
	service *Service
}

// NewHandler creates a new listing handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes sets up unauthenticated listing reads.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/listings", h.Search)
	r.GET("/listings/:id", h.GetListing)
}

// RegisterProtectedRoutes sets up seller-only listing writes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/listings", auth.RequireRole(auth.RoleSeller), h.CreateListing)
	r.PUT("/listings/:id", auth.RequireRole(auth.RoleSeller), h.UpdateListing)
	r.DELETE("/listings/:id", auth.RequireRole(auth.RoleSeller), h.DeleteListing)
}

// Search handles GET /v1/listings?q=&min=&max=&cursor=&limit=
func (h *Handler) Search(c *gin.Context) {
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Cursor is malformed",
		})
		return
	}

	q := Query{
		Text:     validation.SanitizeString(c.Query("q"), 200),
		MinPrice: parseInt64(c.Query("min")),
		MaxPrice: parseInt64(c.Query("max")),
		Cursor:   cursor,
		Limit:    int(parseInt64(c.Query("limit"))),
	}

	items, next, more, err := h.service.Search(c.Request.Context(), q)
	if err != nil {
		respondListingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"listings":    items,
		"next_cursor": next,
		"has_more":    more,
	})
}

// GetListing handles GET /v1/listings/:id
func (h *Handler) GetListing(c *gin.Context) {
	l, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondListingError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

// CreateListing handles POST /v1/listings
func (h *Handler) CreateListing(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("title", req.Title),
		validation.MaxLength("title", req.Title, 255),
		validation.Required("description", req.Description),
		validation.MaxLength("description", req.Description, validation.MaxStringLength),
		validation.NonNegativeAmount("price", req.Price),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	actor := auth.ActorFrom(c)
	l, err := h.service.Create(c.Request.Context(), actor.UserID, req)
	if err != nil {
		respondListingError(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

// UpdateListing handles PUT /v1/listings/:id
func (h *Handler) UpdateListing(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	actor := auth.ActorFrom(c)
	l, err := h.service.Update(c.Request.Context(), c.Param("id"), actor.UserID, req)
	if err != nil {
		respondListingError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

// DeleteListing handles DELETE /v1/listings/:id
func (h *Handler) DeleteListing(c *gin.Context) {
	actor := auth.ActorFrom(c)
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), actor.UserID); err != nil {
		respondListingError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func respondListingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "listing_not_found",
			"message": "Listing not found",
		})
	case errors.Is(err, ErrInvalidPrice):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_price",
			"message": "Price must not be negative",
		})
	case errors.Is(err, ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Listing belongs to another seller",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
	}
}
