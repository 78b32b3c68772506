package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/idempotency"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/payment"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/validation"
)

type beginResponse struct {
	OrderID  string `json:"order_id"`
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
	Step     string `json:"step"`
}

type launchResponse struct {
	OrderID string          `json:"order_id"`
	Step    string          `json:"step"`
	Options payment.Options `json:"options"`
}

// RegisterCheckoutRoutes registers begin/launch/status routes.
func RegisterCheckoutRoutes(r *gin.Engine, cfg HandlerConfig) {
	r.POST("/checkout", func(c *gin.Context) {
		ctx := c.Request.Context()
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		// validation happens in the orchestrator so no backend call is made
		// for an invalid form
		var in validation.ShippingInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
			return
		}

		// Optional Idempotency-Key: a double-submitted form returns the first draft.
		var dedupKey string
		if k := c.GetHeader("Idempotency-Key"); k != "" && cfg.Ledger != nil {
			dedupKey = fmt.Sprintf("checkout:%s:%s", userID, k)
			claimed, err := cfg.Ledger.Claim(ctx, dedupKey, "")
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
				return
			}
			if !claimed {
				rec, err := cfg.Ledger.Get(ctx, dedupKey)
				if err != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
					return
				}
				switch {
				case rec == nil:
					// expired between claim and read; proceed
				case rec.Status == idempotency.StatusDone && rec.Result != "":
					c.Data(http.StatusOK, "application/json", []byte(rec.Result))
					return
				case rec.Status == idempotency.StatusInProgress:
					c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
					return
				}
				// FAILED: let the client retry under the same key
			}
		}

		snap, err := cfg.Carts.Snapshot(ctx, userID)
		if err != nil {
			writeError(c, err)
			return
		}

		o := cfg.Sessions.For(ctx, userID)
		orderID, err := o.BeginCheckout(ctx, snap, in)
		if err != nil {
			if dedupKey != "" {
				if ferr := cfg.Ledger.Fail(ctx, dedupKey, err.Error()); ferr != nil {
					log.Printf("[api] idempotency fail key=%s: %v", dedupKey, ferr)
				}
			}
			writeError(c, err)
			return
		}

		resp := beginResponse{OrderID: orderID, Step: o.Step().String()}
		if a := o.ActiveOrder(); a != nil {
			resp.Total, resp.Currency = a.Total, a.Currency
		}
		if dedupKey != "" {
			body, _ := json.Marshal(resp)
			if err := cfg.Ledger.Complete(ctx, dedupKey, string(body)); err != nil {
				log.Printf("[api] idempotency complete key=%s: %v", dedupKey, err)
			}
		}

		c.Header("Location", fmt.Sprintf("/orders/%s", orderID))
		c.JSON(http.StatusCreated, resp)
	})

	r.POST("/checkout/:orderId/payment", func(c *gin.Context) {
		ctx := c.Request.Context()
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		orderID := c.Param("orderId")
		o := cfg.Sessions.For(ctx, userID)

		buyer := o.Buyer()
		if c.Request.ContentLength > 0 {
			var contact validation.BuyerContact
			if err := validation.BindAndValidate(c, &contact, cfg.Validator); err != nil {
				return
			}
			if contact.Name != "" {
				buyer.Name = contact.Name
			}
			if contact.Email != "" {
				buyer.Email = contact.Email
			}
			if contact.Phone != "" {
				buyer.Contact = validation.Digits(contact.Phone)
			}
		}

		var amount int64
		if a := o.ActiveOrder(); a != nil && a.ID == orderID {
			amount = a.Total
		}
		if err := o.LaunchPayment(ctx, orderID, amount, buyer); err != nil {
			writeError(c, err)
			return
		}

		st := o.Status()
		opts, err := cfg.Widget.Options(st.OrderRef)
		if err != nil {
			// settled synchronously, e.g. already timed out
			c.JSON(http.StatusConflict, gin.H{"error": "payment_not_awaited", "status": st})
			return
		}
		c.JSON(http.StatusOK, launchResponse{OrderID: orderID, Step: st.Step.String(), Options: opts})
	})

	r.GET("/checkout/status", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, cfg.Sessions.For(c.Request.Context(), userID).Status())
	})
}
