package offer

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/homeflowhq/homeflow/internal/auth"
	"github.com/homeflowhq/homeflow/internal/escrow"
	"github.com/homeflowhq/homeflow/internal/validation"
)

// Handler provides HTTP endpoints for the offer lifecycle.
type Handler struct {
	service *Service
}

// NewHandler creates a new offer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up offer routes. Buyers submit; sellers respond;
// both parties may read offers and history.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/offers", auth.RequireRole(auth.RoleBuyer), h.Submit)
	r.GET("/offers", h.List)
	r.GET("/offers/:id", h.GetOffer)
	r.POST("/offers/:id/respond", auth.RequireRole(auth.RoleSeller), h.Respond)
	r.GET("/offers/:id/history", auth.RequireRole(auth.RoleBuyer, auth.RoleSeller), h.History)
}

// Submit handles POST /v1/offers
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidID("listing_id", req.ListingID),
		validation.NonNegativeAmount("amount", req.Amount),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	actor := auth.ActorFrom(c)
	o, err := h.service.Submit(c.Request.Context(), actor.UserID, req)
	if err != nil {
		respondOfferError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

// List handles GET /v1/offers. Buyers see their own offers; a listing_id
// query narrows to offers on one listing.
func (h *Handler) List(c *gin.Context) {
	var (
		offers []*Offer
		err    error
	)
	if listingID := c.Query("listing_id"); listingID != "" {
		offers, err = h.service.ListByListing(c.Request.Context(), listingID)
	} else {
		actor := auth.ActorFrom(c)
		offers, err = h.service.ListByBuyer(c.Request.Context(), actor.UserID)
	}
	if err != nil {
		respondOfferError(c, err)
		return
	}
	if offers == nil {
		offers = []*Offer{}
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers})
}

// GetOffer handles GET /v1/offers/:id
func (h *Handler) GetOffer(c *gin.Context) {
	o, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondOfferError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// Respond handles POST /v1/offers/:id/respond
func (h *Handler) Respond(c *gin.Context) {
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	actor := auth.ActorFrom(c)
	o, err := h.service.Respond(c.Request.Context(), c.Param("id"), actor, req)
	if err != nil {
		respondOfferError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// History handles GET /v1/offers/:id/history
func (h *Handler) History(c *gin.Context) {
	entries, err := h.service.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondOfferError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

func respondOfferError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrOfferNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "offer_not_found",
			"message": "Offer not found",
		})
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "Offer amount must not be negative",
		})
	case errors.Is(err, ErrCounterAmountRequired):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "counter_amount_required",
			"message": "Counter requires a positive amount",
		})
	case errors.Is(err, ErrInvalidAction):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_action",
			"message": "Action must be one of accept, decline, counter",
		})
	case errors.Is(err, ErrOfferResolved):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "offer_resolved",
			"message": "Offer has already been accepted or declined",
		})
	case errors.Is(err, escrow.ErrEscrowExists):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "escrow_exists",
			"message": "An escrow already exists for this offer",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
	}
}
