package api

import (
	"context"
	"net/http"
	"time"

	"lending-service/internal/errs"
	"lending-service/internal/models"
	"lending-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OrdersHandler exposes the cart, order and delivery-plan HTTP APIs.
type OrdersHandler struct {
	carts    *service.CartService
	orders   *service.OrderService
	delivery *service.DeliveryService
}

// NewOrdersHandler creates the orders-side HTTP handler.
func NewOrdersHandler(carts *service.CartService, orders *service.OrderService, delivery *service.DeliveryService) *OrdersHandler {
	return &OrdersHandler{
		carts:    carts,
		orders:   orders,
		delivery: delivery,
	}
}

// SetupRoutes sets up HTTP routes
func (h *OrdersHandler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/carts", h.createOrAppendCart)
		v1.GET("/carts/:id", h.getCart)
		v1.PUT("/carts/:id/items", h.replaceCartItems)
		v1.DELETE("/carts/:id", h.abandonCart)
		v1.GET("/users/:id/cart", h.getActiveCart)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/users/:id/orders", h.listOrders)
		v1.GET("/orders/:id/mutations", h.listOrderMutations)
		v1.POST("/orders/:id/approve", h.transition(h.orders.Approve))
		v1.POST("/orders/:id/request-cancellation", h.transition(h.orders.RequestCancellation))
		v1.POST("/orders/:id/cancel", h.transition(h.orders.Cancel))
		v1.POST("/orders/:id/dispatch", h.transition(h.orders.Dispatch))
		v1.POST("/orders/:id/confirm-received", h.transition(h.orders.ConfirmReceived))
		v1.POST("/orders/:id/return", h.transition(h.orders.Return))

		v1.PUT("/users/:id/delivery-plan", h.upsertDeliveryPlan)
		v1.GET("/users/:id/delivery-plan", h.getDeliveryPlan)
	}
}

type cartRequest struct {
	UserID int64                 `json:"user_id" binding:"required"`
	Items  []service.ItemRequest `json:"items" binding:"required,min=1"`
}

func (h *OrdersHandler) createOrAppendCart(c *gin.Context) {
	var req cartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Wrap(errs.KindInvalidRequest, err, "invalid request body"))
		return
	}

	view, err := h.carts.CreateOrAppend(c.Request.Context(), req.UserID, req.Items)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *OrdersHandler) getCart(c *gin.Context) {
	cartID, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.carts.Get(c.Request.Context(), cartID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *OrdersHandler) replaceCartItems(c *gin.Context) {
	cartID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Items []service.ItemRequest `json:"items" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Wrap(errs.KindInvalidRequest, err, "invalid request body"))
		return
	}

	view, err := h.carts.ReplaceItems(c.Request.Context(), cartID, req.Items)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *OrdersHandler) abandonCart(c *gin.Context) {
	cartID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.carts.Abandon(c.Request.Context(), cartID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OrdersHandler) getActiveCart(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.carts.GetActiveForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *OrdersHandler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Wrap(errs.KindInvalidRequest, err, "invalid request body"))
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *OrdersHandler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	order, items, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

func (h *OrdersHandler) listOrders(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	orders, err := h.orders.ListOrdersForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// listOrderMutations exposes an order's ledger mutation log so
// operators can reconcile a partially applied transition.
func (h *OrdersHandler) listOrderMutations(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	mutations, err := h.orders.MutationLog(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mutations": mutations})
}

// transition adapts a state-transition method into a handler. Each
// endpoint is idempotent in the sense that replaying a completed
// transition fails with INVALID_TRANSITION instead of double-applying.
func (h *OrdersHandler) transition(fn func(ctx context.Context, orderID int64) (*models.Order, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := pathID(c, "id")
		if !ok {
			return
		}
		order, err := fn(c.Request.Context(), orderID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func (h *OrdersHandler) upsertDeliveryPlan(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		DeliveryDay int `json:"delivery_day"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Wrap(errs.KindInvalidRequest, err, "invalid request body"))
		return
	}

	plan, err := h.delivery.UpsertPlan(c.Request.Context(), userID, time.Weekday(req.DeliveryDay))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h *OrdersHandler) getDeliveryPlan(c *gin.Context) {
	userID, ok := pathID(c, "id")
	if !ok {
		return
	}
	plan, err := h.delivery.GetPlan(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}
