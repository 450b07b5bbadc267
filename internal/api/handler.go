package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djlord-it/formrelay/internal/dispatcher"
	"github.com/djlord-it/formrelay/internal/domain"
	"github.com/djlord-it/formrelay/internal/eventlog"
	"github.com/djlord-it/formrelay/internal/logger"
	"github.com/djlord-it/formrelay/internal/template"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

type ConfigStore interface {
	Save(ctx context.Context, key domain.ConfigKey, enabled bool, settings domain.ChannelSettings) (domain.IntegrationConfig, error)
	Get(ctx context.Context, key domain.ConfigKey) (domain.IntegrationConfig, error)
	Delete(ctx context.Context, key domain.ConfigKey) error
	ListEnabled(ctx context.Context, formID string) ([]domain.IntegrationConfig, error)
	ListAll(ctx context.Context) ([]domain.IntegrationConfig, error)
}

type EventReader interface {
	List(ctx context.Context, integrationID string) ([]domain.IntegrationEvent, error)
	Stats(ctx context.Context, integrationID string) (eventlog.Stats, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, sub domain.Submission) (dispatcher.Result, error)
}

// Enqueuer hands a submission to the async intake bus.
type Enqueuer interface {
	Emit(ctx context.Context, sub domain.Submission) error
}

// HealthCheck reports the health of one backend component.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	store      ConfigStore
	events     EventReader
	dispatcher Dispatcher
	enqueuer   Enqueuer // optional, nil = synchronous dispatch
	checks     map[string]HealthCheck
	router     *gin.Engine
	log        *zap.Logger
	clock      func() time.Time
}

func NewHandler(store ConfigStore, events EventReader, d Dispatcher, log *zap.Logger) *Handler {
	h := &Handler{
		store:      store,
		events:     events,
		dispatcher: d,
		checks:     map[string]HealthCheck{},
		router:     gin.New(),
		log:        logger.OrNop(log),
		clock:      time.Now,
	}

	h.router.Use(gin.Recovery(), h.requestLogger())
	h.registerRoutes()

	return h
}

// WithEnqueuer switches submission intake to asynchronous mode.
func (h *Handler) WithEnqueuer(e Enqueuer) *Handler {
	h.enqueuer = e
	return h
}

// WithHealthCheck registers a component checked by GET /health?verbose=true.
func (h *Handler) WithHealthCheck(name string, check HealthCheck) *Handler {
	h.checks[name] = check
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.health)

	forms := h.router.Group("/forms/:formId")
	forms.GET("/integrations", h.listEnabled)
	forms.PUT("/integrations/:type", h.saveIntegration)
	forms.GET("/integrations/:type", h.getIntegration)
	forms.DELETE("/integrations/:type", h.deleteIntegration)
	forms.POST("/submissions", h.submit)

	h.router.GET("/integrations", h.listAll)
	h.router.GET("/integrations/:id/events", h.listEvents)
	h.router.GET("/integrations/:id/stats", h.stats)

	h.router.POST("/templates/preview", h.preview)

	h.router.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "not found")
	})
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Debug("api: request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(c *gin.Context) {
	verbose := c.Query("verbose") == "true"
	if !verbose || len(h.checks) == 0 {
		c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string, len(h.checks)),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[name] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, resp)
}

func (h *Handler) configKey(c *gin.Context) (domain.ConfigKey, bool) {
	t, err := parseChannelType(c.Param("type"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return domain.ConfigKey{}, false
	}
	return domain.ConfigKey{FormID: c.Param("formId"), Type: t}, true
}

func (h *Handler) saveIntegration(c *gin.Context) {
	key, ok := h.configKey(c)
	if !ok {
		return
	}

	var req SaveIntegrationRequest
	if !h.bindJSON(c, &req) {
		return
	}

	settings, err := decodeSettings(key.Type, req.Config)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	cfg, err := h.store.Save(c.Request.Context(), key, enabled, settings)
	if err != nil {
		h.fail(c, "save integration", err)
		return
	}
	h.log.Info("api: integration saved",
		zap.String("integration_id", cfg.ID),
		zap.String("form_id", cfg.FormID),
		zap.String("channel", string(cfg.Type)),
		zap.Bool("enabled", cfg.Enabled))
	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) getIntegration(c *gin.Context) {
	key, ok := h.configKey(c)
	if !ok {
		return
	}
	cfg, err := h.store.Get(c.Request.Context(), key)
	if err != nil {
		h.fail(c, "get integration", err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) deleteIntegration(c *gin.Context) {
	key, ok := h.configKey(c)
	if !ok {
		return
	}
	if err := h.store.Delete(c.Request.Context(), key); err != nil {
		h.fail(c, "delete integration", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listEnabled(c *gin.Context) {
	configs, err := h.store.ListEnabled(c.Request.Context(), c.Param("formId"))
	if err != nil {
		h.fail(c, "list enabled integrations", err)
		return
	}
	c.JSON(http.StatusOK, ListIntegrationsResponse{Integrations: nonNil(configs)})
}

func (h *Handler) listAll(c *gin.Context) {
	configs, err := h.store.ListAll(c.Request.Context())
	if err != nil {
		h.fail(c, "list integrations", err)
		return
	}
	c.JSON(http.StatusOK, ListIntegrationsResponse{Integrations: nonNil(configs)})
}

func (h *Handler) listEvents(c *gin.Context) {
	id := c.Param("id")
	events, err := h.events.List(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "list events", err)
		return
	}
	if events == nil {
		events = []domain.IntegrationEvent{}
	}
	c.JSON(http.StatusOK, ListEventsResponse{IntegrationID: id, Events: events})
}

func (h *Handler) stats(c *gin.Context) {
	id := c.Param("id")
	stats, err := h.events.Stats(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "integration stats", err)
		return
	}
	c.JSON(http.StatusOK, StatsResponse{IntegrationID: id, Stats: stats})
}

func (h *Handler) submit(c *gin.Context) {
	var req SubmissionRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if err := validateSubmission(req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	sub := h.buildSubmission(c, req)

	if h.enqueuer != nil {
		if err := h.enqueuer.Emit(c.Request.Context(), sub); err != nil {
			h.log.Warn("api: enqueue failed",
				zap.String("submission_id", sub.SubmissionID),
				zap.Error(err))
			writeError(c, http.StatusServiceUnavailable, "submission queue unavailable")
			return
		}
		c.JSON(http.StatusAccepted, DispatchResponse{SubmissionID: sub.SubmissionID, Status: "accepted"})
		return
	}

	res, err := h.dispatcher.Dispatch(c.Request.Context(), sub)
	if err != nil {
		h.fail(c, "dispatch submission", err)
		return
	}
	c.JSON(http.StatusOK, DispatchResponse{SubmissionID: sub.SubmissionID, Status: "dispatched", Result: &res})
}

// buildSubmission fills the fields a caller may omit.
func (h *Handler) buildSubmission(c *gin.Context, req SubmissionRequest) domain.Submission {
	sub := domain.Submission{
		FormID:       c.Param("formId"),
		SubmissionID: req.SubmissionID,
		Data:         req.Data,
		Metadata:     req.Metadata,
	}
	if sub.SubmissionID == "" {
		sub.SubmissionID = uuid.NewString()
	}
	if req.Timestamp != nil {
		sub.Timestamp = req.Timestamp.UTC()
	} else {
		sub.Timestamp = h.clock().UTC()
	}
	if sub.Metadata == nil {
		sub.Metadata = &domain.Metadata{
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}
	}
	return sub
}

func (h *Handler) preview(c *gin.Context) {
	var req PreviewRequest
	if !h.bindJSON(c, &req) {
		return
	}
	sub := domain.Submission{
		FormID:       req.FormID,
		SubmissionID: "preview",
		Timestamp:    h.clock().UTC(),
		Data:         req.Data,
	}
	now := h.clock()
	c.JSON(http.StatusOK, PreviewResponse{
		Rendered:     template.RenderAt(req.Template, sub, now),
		Placeholders: template.Placeholders(req.Template),
	})
}

// bindJSON decodes the request body, writing the error response on failure.
func (h *Handler) bindJSON(c *gin.Context, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) ||
			errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			writeError(c, http.StatusBadRequest, "invalid json")
			return false
		}
		writeError(c, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// fail maps a store or dispatcher error onto a status code.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrConfigNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidConfig):
		writeError(c, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("api: "+op+" failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "failed to "+op)
	}
}

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg})
}

func nonNil(configs []domain.IntegrationConfig) []domain.IntegrationConfig {
	if configs == nil {
		return []domain.IntegrationConfig{}
	}
	return configs
}
