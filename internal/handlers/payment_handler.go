package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/payment"
)

type dismissRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

// RegisterPaymentRoutes registers the widget callback routes. The storefront
// client relays the widget's handler, payment.failed and ondismiss events
// here, keyed by the gateway order reference it was given at launch. A
// callback for a widget opened on another instance is applied to the buyer's
// persisted session instead; success payloads are signature-checked first
// either way.
func RegisterPaymentRoutes(r *gin.Engine, cfg HandlerConfig) {
	g := r.Group("/payments/callback")

	g.POST("/success", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		var resp payment.SuccessResponse
		if err := c.ShouldBindJSON(&resp); err != nil || resp.PaymentID == "" || resp.OrderID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body"})
			return
		}
		ctx := c.Request.Context()
		err := cfg.Widget.Succeed(ctx, resp)
		if errors.Is(err, payment.ErrUnknownSession) {
			err = cfg.Sessions.For(ctx, userID).OnPaymentSuccess(ctx, resp)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, cfg.Sessions.For(ctx, userID).Status())
	})

	g.POST("/failure", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		var resp payment.FailureResponse
		if err := c.ShouldBindJSON(&resp); err != nil || resp.OrderID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body"})
			return
		}
		ctx := c.Request.Context()
		err := cfg.Widget.Fail(ctx, resp.OrderID, resp)
		if errors.Is(err, payment.ErrUnknownSession) {
			err = cfg.Sessions.For(ctx, userID).OnPaymentFailure(ctx, resp)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, cfg.Sessions.For(ctx, userID).Status())
	})

	g.POST("/dismiss", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		var req dismissRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
			return
		}
		ctx := c.Request.Context()
		err := cfg.Widget.Dismiss(ctx, req.OrderID)
		if errors.Is(err, payment.ErrUnknownSession) {
			err = cfg.Sessions.For(ctx, userID).OnPaymentDismiss(ctx, req.OrderID)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, cfg.Sessions.For(ctx, userID).Status())
	})
}
