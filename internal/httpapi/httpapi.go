// Package httpapi is a thin demo transport over internal/orchestrator: a
// single synchronous translate endpoint and a health check, adapted from
// the teacher's internal/http router and handler package. It carries none
// of the teacher's page generation, theming, or SSE broadcasting surface.
package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dddepg/subtrans/internal/logger"
	"github.com/dddepg/subtrans/internal/model"
	"github.com/dddepg/subtrans/internal/orchestrator"
)

// NewRouter builds the echo.Echo instance serving the demo surface.
func NewRouter(o *orchestrator.Orchestrator) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	h := &translateHandler{orchestrator: o}
	e.GET("/healthz", h.Healthz)
	e.POST("/translate", h.Translate)

	return e
}

type translateHandler struct {
	orchestrator *orchestrator.Orchestrator
}

type errorResponse struct {
	Error string `json:"error"`
}

// translateRequest is the wire shape of POST /translate. Source is
// base64-encoded so arbitrary subtitle bytes survive JSON transport.
type translateRequest struct {
	RequestID          string `json:"requestId"`
	Source             string `json:"source"`
	SourceFormat       string `json:"sourceFormat"`
	SourceLang         string `json:"sourceLang"`
	TargetLang         string `json:"targetLang"`
	Provider           string `json:"provider"`
	SecondaryProvider  string `json:"secondaryProvider"`
	ModelID            string `json:"modelId"`
	Workflow           string `json:"workflow"`
	Prompt             string `json:"prompt"`
	APIKeys            []string `json:"apiKeys"`
	Force              bool   `json:"force"`
	WorkerConcurrency  int    `json:"workerConcurrency"`
	TokenBudget        int    `json:"tokenBudget"`
	ContextSize        int    `json:"contextSize"`
	MaxEntriesPerBatch int    `json:"maxEntriesPerBatch"`
	SingleBatchMode    bool   `json:"singleBatchMode"`
}

type translateResponse struct {
	Output     string `json:"output"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Cached     bool   `json:"cached"`
	EntryCount int    `json:"entryCount"`
	DurationMs int64  `json:"durationMs"`
}

// Healthz reports process liveness. It does not probe the cache backend
// or provider reachability; the orchestrator surfaces those failures
// per-request instead.
func (h *translateHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Translate runs one synchronous translation. There is no streaming or
// job-queue surface here; a caller wanting progress on a long document
// polls by resubmitting the same request, which replays the partial state
// cached under its fingerprint.
func (h *translateHandler) Translate(c echo.Context) error {
	var req translateRequest
	if err := c.Bind(&req); err != nil {
		logger.Debug("translate invalid request", "module", "httpapi", "action", "request", "resource", "translate", "result", "failed", "error", err)
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request"})
	}

	source, err := base64.StdEncoding.DecodeString(req.Source)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "source must be base64-encoded"})
	}

	format := model.Format(req.SourceFormat)
	if !format.Valid() {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "unsupported sourceFormat"})
	}

	workflow := model.Workflow(req.Workflow)
	if workflow == "" {
		workflow = model.WorkflowRebuildTimestamps
	}
	if !workflow.Valid() {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "unsupported workflow"})
	}

	orchReq := orchestrator.Request{
		RequestID:          req.RequestID,
		SourceBytes:        source,
		SourceFormat:       format,
		SourceLang:         req.SourceLang,
		TargetLang:         req.TargetLang,
		Provider:           req.Provider,
		SecondaryProvider:  req.SecondaryProvider,
		ModelID:            req.ModelID,
		Workflow:           workflow,
		Prompt:             req.Prompt,
		APIKeyPool:         req.APIKeys,
		Force:              req.Force,
		WorkerConcurrency:  req.WorkerConcurrency,
		TokenBudget:        req.TokenBudget,
		ContextSize:        req.ContextSize,
		MaxEntriesPerBatch: req.MaxEntriesPerBatch,
		SingleBatchMode:    req.SingleBatchMode,
	}

	ctx, cancel := withRequestDeadline(c)
	defer cancel()

	result, err := h.orchestrator.Translate(ctx, orchReq)
	if err != nil {
		return writeTranslateError(c, err)
	}

	return c.JSON(http.StatusOK, translateResponse{
		Output:     base64.StdEncoding.EncodeToString(result.Bytes),
		Provider:   result.Provider,
		Model:      result.Model,
		Cached:     result.Cached,
		EntryCount: result.EntryCount,
		DurationMs: result.DurationMs,
	})
}

// withRequestDeadline bounds a translate call so a slow provider cannot
// hold the HTTP connection open indefinitely. It is deliberately generous
// since a large document can take many sequential batch rounds.
func withRequestDeadline(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), 30*time.Minute)
}

func writeTranslateError(c echo.Context, err error) error {
	var terr *orchestrator.TranslateError
	if errors.As(err, &terr) {
		switch terr.Kind {
		case orchestrator.Unparseable, orchestrator.InvalidRequest:
			return c.JSON(http.StatusBadRequest, errorResponse{Error: terr.Error()})
		case orchestrator.Cancelled:
			return c.JSON(http.StatusRequestTimeout, errorResponse{Error: terr.Error()})
		case orchestrator.ProviderExhausted:
			return c.JSON(http.StatusBadGateway, errorResponse{Error: terr.Error()})
		case orchestrator.AlignmentUnrecoverable:
			return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: terr.Error()})
		case orchestrator.StorageUnavailable:
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: terr.Error()})
		}
	}
	logger.Error("translate failed", "module", "httpapi", "action", "translate", "resource", "translate", "result", "failed", "error", err)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}
