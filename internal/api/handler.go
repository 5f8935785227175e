package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"release-tracker/internal/ingest"
	"release-tracker/internal/models"
	"release-tracker/internal/store"
	"release-tracker/internal/util"
)

// IngestService is the batch entry point the HTTP layer drives
type IngestService interface {
	IngestBatch(ctx context.Context, src models.SourceContext, records []models.RawRecord) (*models.BatchResult, error)
	MaxBatchSize() int
}

// ReleaseReader serves read endpoints from the relational store
type ReleaseReader interface {
	GetReleaseByIdentityKey(ctx context.Context, key string) (*models.Release, error)
	GetSnapshots(ctx context.Context, identityKey string, limit int) ([]models.StockSnapshot, error)
	GetRetailer(ctx context.Context, retailerID string) (*models.Retailer, error)
	GetDailyStats(ctx context.Context, date string) (*models.DailyStats, error)
}

// Handler contains HTTP handlers
type Handler struct {
	ingestService IngestService
	reader        ReleaseReader
}

// NewHandler creates a new HTTP handler
func NewHandler(ingestService IngestService, reader ReleaseReader) *Handler {
	return &Handler{
		ingestService: ingestService,
		reader:        reader,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/releases/batch", h.ingestBatch)
		v1.GET("/releases/:key", h.getRelease)
		v1.GET("/releases/:key/snapshots", h.getSnapshots)
		v1.GET("/retailers/:id", h.getRetailer)
		v1.GET("/stats/:date", h.getDailyStats)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// BatchRequest is the POST body for a batch ingest
type BatchRequest struct {
	Source  models.SourceContext `json:"source"`
	Records []models.RawRecord   `json:"records"`
}

// ingestBatch handles a batch of raw records from a source adapter
func (h *Handler) ingestBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.Source.SourceID == "" || req.Source.RetailerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "source.source_id and source.retailer_id are required",
		})
		return
	}

	if len(req.Records) > h.ingestService.MaxBatchSize() {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":          "Batch exceeds maximum size",
			"max_batch_size": h.ingestService.MaxBatchSize(),
			"got":            len(req.Records),
		})
		return
	}

	result, err := h.ingestService.IngestBatch(c.Request.Context(), req.Source, req.Records)
	if err != nil {
		if errors.Is(err, ingest.ErrBatchTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to ingest batch",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// getRelease handles get release by identity key
func (h *Handler) getRelease(c *gin.Context) {
	key := c.Param("key")

	release, err := h.reader.GetReleaseByIdentityKey(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrReleaseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Release not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load release",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, release)
}

// getSnapshots handles the stock snapshot history for a release, most
// recent first
func (h *Handler) getSnapshots(c *gin.Context) {
	key := c.Param("key")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	snapshots, err := h.reader.GetSnapshots(c.Request.Context(), key, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load snapshots",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"identity_key": key,
		"snapshots":    snapshots,
	})
}

// getRetailer handles get retailer by slug
func (h *Handler) getRetailer(c *gin.Context) {
	retailer, err := h.reader.GetRetailer(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrRetailerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Retailer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load retailer",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, retailer)
}

// getDailyStats handles daily stats by UTC date (YYYY-MM-DD)
func (h *Handler) getDailyStats(c *gin.Context) {
	date := c.Param("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date, expected YYYY-MM-DD"})
		return
	}

	stats, err := h.reader.GetDailyStats(c.Request.Context(), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load stats",
			"details": err.Error(),
		})
		return
	}
	if stats == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No stats for date"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
