package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/orders"
)

// RegisterOrdersRoutes registers order lookups.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	r.GET("/orders/:id", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		order, err := cfg.Orders.GetOrderByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		// other buyers' orders are reported as missing
		if order.UserID != userID {
			writeError(c, orders.ErrNotFound)
			return
		}
		c.JSON(http.StatusOK, order)
	})

	r.GET("/users/:userId/orders", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		if c.Param("userId") != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		list, err := cfg.Orders.GetUserOrders(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		if list == nil {
			list = []orders.Order{}
		}
		c.JSON(http.StatusOK, gin.H{"orders": list})
	})
}
