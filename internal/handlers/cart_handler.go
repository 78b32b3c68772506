package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/cart"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/validation"
)

type cartResponse struct {
	Items    []cart.Item `json:"items"`
	Subtotal int64       `json:"subtotal"`
}

func writeCart(c *gin.Context, s cart.Snapshot) {
	items := s.Items
	if items == nil {
		items = []cart.Item{}
	}
	sub, err := s.Subtotal()
	if err != nil {
		writeError(c, &validation.ValidationError{Field: "items", Tag: "overflow", Message: "subtotal is too large"})
		return
	}
	c.JSON(http.StatusOK, cartResponse{Items: items, Subtotal: sub})
}

// RegisterCartRoutes registers the buyer's cart routes.
func RegisterCartRoutes(r *gin.Engine, cfg HandlerConfig) {
	r.GET("/cart", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		snap, err := cfg.Carts.Snapshot(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		writeCart(c, snap)
	})

	r.PUT("/cart/items", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		var req validation.CartItemRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			return
		}
		snap, err := cfg.Carts.Put(c.Request.Context(), userID, cart.Item{
			ProductID: req.ProductID,
			Name:      req.Name,
			Variant:   req.Variant,
			UnitPrice: req.UnitPrice,
			Quantity:  req.Quantity,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		writeCart(c, snap)
	})

	r.DELETE("/cart/items/:productId", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		snap, err := cfg.Carts.Remove(c.Request.Context(), userID, c.Param("productId"))
		if err != nil {
			writeError(c, err)
			return
		}
		writeCart(c, snap)
	})
}
