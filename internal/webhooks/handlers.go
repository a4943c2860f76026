package webhooks

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/homeflowhq/homeflow/internal/auth"
	"github.com/homeflowhq/homeflow/internal/idgen"
	"github.com/homeflowhq/homeflow/internal/notify"
)

// Handler provides HTTP endpoints for managing webhook subscriptions.
type Handler struct {
	store Store
}

// NewHandler creates a new webhooks handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up subscription management routes. Users manage
// only their own subscriptions.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.CreateSubscription)
	r.GET("/webhooks", h.ListSubscriptions)
	r.DELETE("/webhooks/:id", h.DeleteSubscription)
}

// CreateSubscriptionRequest contains the parameters for a new subscription.
type CreateSubscriptionRequest struct {
	URL    string   `json:"url" binding:"required"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

var knownEvents = map[string]bool{
	notify.EventOfferAccepted:       true,
	notify.EventOfferDeclined:       true,
	notify.EventOfferCountered:      true,
	notify.EventEscrowDocumentAdded: true,
	notify.EventEscrowStatusChanged: true,
	notify.EventListingCreated:      true,
}

// CreateSubscription handles POST /v1/webhooks
func (h *Handler) CreateSubscription(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": "URL must be an absolute http(s) URL",
		})
		return
	}

	for _, ev := range req.Events {
		if !knownEvents[ev] {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "unknown_event",
				"message": "Unknown event type: " + ev,
			})
			return
		}
	}

	actor := auth.ActorFrom(c)
	sub := &Subscription{
		ID:        idgen.WithPrefix("whk"),
		UserID:    actor.UserID,
		URL:       req.URL,
		Secret:    req.Secret,
		Events:    req.Events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create subscription",
		})
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// ListSubscriptions handles GET /v1/webhooks
func (h *Handler) ListSubscriptions(c *gin.Context) {
	actor := auth.ActorFrom(c)
	subs, err := h.store.ListByUser(c.Request.Context(), actor.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list subscriptions",
		})
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

// DeleteSubscription handles DELETE /v1/webhooks/:id
func (h *Handler) DeleteSubscription(c *gin.Context) {
	actor := auth.ActorFrom(c)

	sub, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondSubError(c, err)
		return
	}
	if sub.UserID != actor.UserID && actor.Role != auth.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Subscription belongs to another user",
		})
		return
	}

	if err := h.store.Delete(c.Request.Context(), sub.ID); err != nil {
		respondSubError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func respondSubError(c *gin.Context, err error) {
	if errors.Is(err, ErrSubscriptionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "subscription_not_found",
			"message": "Subscription not found",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Something went wrong",
	})
}
