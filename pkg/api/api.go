package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	svcerrors "github.com/lucid-vigil/threatcluster/pkg/errors"
	"github.com/lucid-vigil/threatcluster/pkg/events"
	"github.com/lucid-vigil/threatcluster/pkg/fcm"
	"github.com/lucid-vigil/threatcluster/pkg/features"
	"github.com/lucid-vigil/threatcluster/pkg/jobs"
	"github.com/lucid-vigil/threatcluster/pkg/metrics"
	"github.com/lucid-vigil/threatcluster/pkg/service"
)

// JobReporter is implemented by every scheduled job.
type JobReporter interface {
	Status() jobs.Status
}

// Handler serves the classifier over HTTP.
type Handler struct {
	Classifier *service.Classifier
	Metrics    *metrics.Metrics
	Bus        *events.EventBus        // optional
	Recorder   *events.Recorder        // optional
	Errors     *svcerrors.ErrorHandler // optional
	Jobs       []JobReporter
}

type eventsRequest struct {
	Events []features.Event `json:"events"`
	Fit    bool             `json:"fit"`
}

// NewRouter returns a gin engine with the handler's routes registered.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the health, metrics and v1 API routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.handleHealthz)
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", h.handleStatus)
		v1.POST("/classify", h.handleClassify)
		v1.POST("/summary", h.handleSummary)
		v1.POST("/train", h.handleTrain)
		v1.POST("/retrain", h.handleRetrain)
		v1.POST("/evaluate", h.handleEvaluate)
		v1.GET("/history", h.handleHistory)
		v1.GET("/events", h.handleEvents)
		v1.GET("/jobs", h.handleJobs)
	}
}

// StartAPIServer serves router on port until ctx is cancelled, then shuts
// down gracefully.
func StartAPIServer(ctx context.Context, port string, router http.Handler) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("API server starting on :%s", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info().Msg("API server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (h *Handler) handleHealthz(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (h *Handler) handleStatus(c *gin.Context) {
	resp := gin.H{"model": h.Classifier.Status()}
	if h.Bus != nil {
		resp["event_bus"] = h.Bus.GetMetrics()
	}
	if h.Errors != nil {
		resp["errors"] = h.Errors.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleClassify(c *gin.Context) {
	var req eventsRequest
	if !bindEvents(c, &req) {
		return
	}
	ctx := c.Request.Context()

	if req.Fit {
		results, stats, err := h.Classifier.ClassifyAndFit(ctx, req.Events)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": len(results), "classifications": results, "training": stats})
		return
	}

	results, err := h.Classifier.Classify(ctx, req.Events)
	if err != nil {
		writeError(c, err)
		return
	}
	if results == nil {
		results = []fcm.Classification{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(results), "classifications": results})
}

func (h *Handler) handleSummary(c *gin.Context) {
	var req eventsRequest
	if !bindEvents(c, &req) {
		return
	}
	summary, err := h.Classifier.Summary(c.Request.Context(), req.Events)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// handleTrain trains on the posted events, or on the configured dataset when
// the body is empty or carries no events.
func (h *Handler) handleTrain(c *gin.Context) {
	var req eventsRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}
	ctx := c.Request.Context()

	var (
		stats *fcm.TrainingStats
		err   error
	)
	if len(req.Events) == 0 {
		stats, err = h.Classifier.TrainOnDataset(ctx)
	} else {
		stats, err = h.Classifier.Train(ctx, req.Events)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"training": stats, "model": h.Classifier.Status()})
}

func (h *Handler) handleRetrain(c *gin.Context) {
	res, err := h.Classifier.Retrain(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) handleEvaluate(c *gin.Context) {
	report, err := h.Classifier.Evaluate()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) handleHistory(c *gin.Context) {
	records, err := h.Classifier.History(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"model_name": h.Classifier.ModelName(), "history": records})
}

func (h *Handler) handleEvents(c *gin.Context) {
	recent := []events.ClusterEvent{}
	if h.Recorder != nil {
		recent = h.Recorder.Recent()
	}
	c.JSON(http.StatusOK, gin.H{"events": recent})
}

func (h *Handler) handleJobs(c *gin.Context) {
	statuses := make([]jobs.Status, 0, len(h.Jobs))
	for _, j := range h.Jobs {
		statuses = append(statuses, j.Status())
	}
	c.JSON(http.StatusOK, gin.H{"jobs": statuses})
}

func bindEvents(c *gin.Context, req *eventsRequest) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return false
	}
	return true
}

// writeError maps classifier errors to status codes with a message the
// caller can act on.
func writeError(c *gin.Context, err error) {
	var (
		insufficient *fcm.InsufficientDataError
		dimension    *fcm.DimensionError
		rejected     *service.RejectedEventError
		invalid      *events.ValidationError
	)
	switch {
	case errors.Is(err, fcm.ErrNotTrained):
		c.JSON(http.StatusConflict, gin.H{
			"error": "model is not trained; POST /api/v1/train or /api/v1/classify with \"fit\": true first",
		})
	case errors.As(err, &insufficient):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":    err.Error(),
			"samples":  insufficient.Samples,
			"required": insufficient.Required,
		})
	case errors.Is(err, events.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.As(err, &rejected):
		resp := gin.H{"error": err.Error(), "index": rejected.Index}
		if errors.As(err, &invalid) {
			resp["field"] = invalid.Field
		}
		c.JSON(http.StatusBadRequest, resp)
	case errors.As(err, &invalid), errors.As(err, &dimension):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		var ev *zerolog.Event
		switch status := c.Writer.Status(); {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		default:
			ev = log.Debug()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}
