package api

import (
	"context"
	"net/http"
	"time"

	"lending-service/internal/errs"
	"lending-service/internal/ledger"
	"lending-service/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LedgerHandler exposes the Book Stock Ledger HTTP API.
type LedgerHandler struct {
	ledger *ledger.Service
}

// NewLedgerHandler creates the ledger HTTP handler.
func NewLedgerHandler(svc *ledger.Service) *LedgerHandler {
	return &LedgerHandler{ledger: svc}
}

// SetupRoutes sets up HTTP routes
func (h *LedgerHandler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/books/:id/stock", h.createStock)
		v1.GET("/books/:id/stock", h.getStock)
		v1.PATCH("/books/:id/stock/adjust", h.adjustQuantities)
		v1.PUT("/books/:id/stock/total", h.setTotal)
		v1.PUT("/books/:id/stock/available", h.setAvailable)
		v1.PUT("/books/:id/stock/lost", h.setLost)
		v1.GET("/books/:id/schools", h.listSchoolStock)
		v1.POST("/books/:id/schools/:schoolId", h.assignToSchool)
		v1.PUT("/books/:id/schools/:schoolId", h.resizeSchoolTotal)
		v1.DELETE("/books/:id/schools/:schoolId", h.softDeleteSchoolStock)
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *LedgerHandler) createStock(c *gin.Context) {
	bookID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		TotalQuantity int `json:"total_quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Wrap(errs.KindInvalidRequest, err, "invalid request body"))
		return
	}

	stock, err := h.ledger.CreateStock(c.Request.Context(), bookID, req.TotalQuantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stock)
}

func (h *LedgerHandler) getStock(c *gin.Context) {
	bookID, ok := pathID(c, "id")
	if !ok {
		return
	}
	stock, err := h.ledger.GetBook(c.Request.Context(), bookID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stock)
}

func (h *LedgerHandler) adjustQuantities(c *gin.Context) {
	bookID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var deltas ledger.Deltas
	if err := c.ShouldBindJSON(&deltas); err != nil {
		respondError(c, errs.Wrap(errs.KindInvalidRequest, err, "invalid request body"))
		return
	}

	stock, err := h.ledger.AdjustQuantities(c.Request.Context(), bookID, deltas)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stock)
}

func (h *LedgerHandler) setTotal(c *gin.Context) {
	h.setQuantity(c, h.ledger.SetTotalQuantity)
}

func (h *LedgerHandler) setAvailable(c *gin.Context) {
	h.setQuantity(c, h.ledger.SetAvailableQuantity)
}

func (h *LedgerHandler) setLost(c *gin.Context) {
	h.setQuantity(c, h.ledger.SetLostCount)
}

func (h *LedgerHandler) setQuantity(c *gin.Context, set func(ctx context.Context, bookID int64, v int) (*models.BookStock, error)) {
	bookID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Wrap(errs.KindInvalidRequest, err, "invalid request body"))
		return
	}

	stock, err := set(c.Request.Context(), bookID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stock)
}

func (h *LedgerHandler) listSchoolStock(c *gin.Context) {
	bookID, ok := pathID(c, "id")
	if !ok {
		return
	}
	schools, err := h.ledger.ListSchoolStock(c.Request.Context(), bookID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schools": schools})
}

func (h *LedgerHandler) assignToSchool(c *gin.Context) {
	bookID, schoolID, ok := pathPair(c)
	if !ok {
		return
	}
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Wrap(errs.KindInvalidRequest, err, "invalid request body"))
		return
	}

	school, err := h.ledger.AssignToSchool(c.Request.Context(), bookID, schoolID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, school)
}

func (h *LedgerHandler) resizeSchoolTotal(c *gin.Context) {
	bookID, schoolID, ok := pathPair(c)
	if !ok {
		return
	}
	var req struct {
		TotalQuantity int `json:"total_quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errs.Wrap(errs.KindInvalidRequest, err, "invalid request body"))
		return
	}

	school, err := h.ledger.ResizeSchoolTotal(c.Request.Context(), bookID, schoolID, req.TotalQuantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, school)
}

func (h *LedgerHandler) softDeleteSchoolStock(c *gin.Context) {
	bookID, schoolID, ok := pathPair(c)
	if !ok {
		return
	}
	if err := h.ledger.SoftDeleteSchoolStock(c.Request.Context(), bookID, schoolID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func pathPair(c *gin.Context) (bookID, schoolID int64, ok bool) {
	bookID, ok = pathID(c, "id")
	if !ok {
		return 0, 0, false
	}
	schoolID, ok = pathID(c, "schoolId")
	if !ok {
		return 0, 0, false
	}
	return bookID, schoolID, true
}
