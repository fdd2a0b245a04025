package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shelfscout/backend/internal/domain"
	"github.com/shelfscout/backend/internal/logging"
)

const (
	serviceName    = "shelfscout-backend"
	serviceVersion = "1.0.0"
)

// RunController is the run service surface exposed over HTTP
type RunController interface {
	Start(ctx context.Context) (string, error)
	Latest() (*domain.RunReport, bool)
	Running() bool
	LowestEver(ctx context.Context, product string, priceType domain.PriceType, retailer string) (domain.HistoricalPrice, bool, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	runs RunController
	// runs started over HTTP outlive the request, so they are bound to the server's context
	baseCtx context.Context
}

// NewHandler creates a new HTTP handler. A nil controller makes the run endpoints answer 503.
func NewHandler(baseCtx context.Context, runs RunController) *Handler {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Handler{runs: runs, baseCtx: baseCtx}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
		"version": serviceVersion,
		"running": h.runs != nil && h.runs.Running(),
	})
}

// StartRun launches a basket run in the background
func (h *Handler) StartRun(c *gin.Context) {
	if !h.configured(c) {
		return
	}

	id, err := h.runs.Start(h.baseCtx)
	if errors.Is(err, domain.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in progress"})
		return
	}
	if err != nil {
		logging.From(c.Request.Context()).Error("[HTTP] failed to start run", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start run"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "started"})
}

// LatestRun returns the report of the most recent finished run
func (h *Handler) LatestRun(c *gin.Context) {
	if !h.configured(c) {
		return
	}

	report, ok := h.runs.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run has finished yet", "running": h.runs.Running()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// LowestPrice answers ?product=&type=&retailer= with the historical low. An empty retailer searches all of them.
func (h *Handler) LowestPrice(c *gin.Context) {
	if !h.configured(c) {
		return
	}

	product := strings.TrimSpace(c.Query("product"))
	if product == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product is required"})
		return
	}

	priceType := domain.PriceRegular
	if raw := c.Query("type"); raw != "" {
		t, ok := domain.ParsePriceType(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "type must be regular or membership"})
			return
		}
		priceType = t
	}

	low, found, err := h.runs.LowestEver(c.Request.Context(), product, priceType, strings.TrimSpace(c.Query("retailer")))
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, domain.ErrUnknownRetailer):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown retailer"})
		return
	case err != nil:
		logging.From(c.Request.Context()).Error("[HTTP] history lookup failed", "product", product, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}

	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no price history for product"})
		return
	}
	c.JSON(http.StatusOK, low)
}

func (h *Handler) configured(c *gin.Context) bool {
	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run service not configured"})
		return false
	}
	return true
}
