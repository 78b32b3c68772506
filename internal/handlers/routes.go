package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/apperr"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/cart"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/checkout"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/payment"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/validation"
)

// UserHeader carries the authenticated buyer id, set by the storefront's auth layer.
const UserHeader = "X-User-Id"

// HandlerConfig groups dependencies for the API handlers.
type HandlerConfig struct {
	Sessions  *checkout.Sessions
	Carts     *cart.Store
	Orders    checkout.Backend
	Widget    *payment.HostedWidget
	Ledger    checkout.Ledger // Idempotency-Key dedup for POST /checkout
	Validator *validatorv10.Validate
}

// RegisterRoutes registers every checkout API route on r.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	if cfg.Validator == nil {
		cfg.Validator = validation.New()
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	RegisterCartRoutes(r, cfg)
	RegisterCheckoutRoutes(r, cfg)
	RegisterPaymentRoutes(r, cfg)
	RegisterOrdersRoutes(r, cfg)
}

// requireUser reads the buyer id or writes a 401.
func requireUser(c *gin.Context) (string, bool) {
	userID := c.GetHeader(UserHeader)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_user_id"})
		return "", false
	}
	return userID, true
}

func writeError(c *gin.Context, err error) {
	body := gin.H{"error": apperr.Kind(err), "detail": err.Error()}
	var ve *validation.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
	}
	c.JSON(apperr.HTTPStatus(err), body)
}
