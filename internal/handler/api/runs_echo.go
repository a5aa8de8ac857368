package api

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"SignalGate/internal/domain/models"
	"SignalGate/internal/services/decision"
	"SignalGate/internal/usecase"
	xhttp "SignalGate/pkg/http"
	xlogger "SignalGate/pkg/logger"
	"SignalGate/pkg/util"
)

// Runner starts background runs.
type Runner interface {
	Submit(req usecase.RunRequest) (string, error)
}

// RunLookup reads recent run summaries.
type RunLookup interface {
	Get(runID string) (models.RunSummary, bool)
}

// CacheAdmin drops cached verdicts, e.g. after a profile change.
type CacheAdmin interface {
	Invalidate(ctx context.Context, profile string) error
}

// RunsEchoHandler serves the run trigger and status endpoints.
type RunsEchoHandler struct {
	logger *xlogger.Logger
	runner Runner
	runs   RunLookup
	cache  CacheAdmin
}

func NewRunsEchoHandler(logger *xlogger.Logger, runner Runner, runs RunLookup, cache CacheAdmin) *RunsEchoHandler {
	return &RunsEchoHandler{logger: logger, runner: runner, runs: runs, cache: cache}
}

func (h *RunsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/runs", h.StartRun)
	g.GET("/runs/:id", h.GetRun)
	g.DELETE("/cache/:profile", h.InvalidateCache)
}

func init() {
	_ = xhttp.RegisterValidation("timeframe", func(s string) bool {
		_, err := models.ParseTimeframe(s)
		return err == nil
	})
}

type startRunRequest struct {
	RunID             string   `json:"run_id" validate:"omitempty,max=64"`
	Profile           string   `json:"profile" validate:"omitempty,max=64"`
	Symbols           []string `json:"symbols" validate:"required,min=1,dive,symbol"`
	DryRun            bool     `json:"dry_run"`
	Workers           int      `json:"workers" validate:"gte=0,lte=256"`
	Timeframe         string   `json:"tf" validate:"omitempty,timeframe"`
	AutoSwitchInvalid bool     `json:"auto_switch_invalid"`
	SwitchDuration    string   `json:"switch_duration" validate:"omitempty,duration"`
}

// StartRun accepts a run and returns its ID; the run continues in the background.
func (h *RunsEchoHandler) StartRun(c echo.Context) error {
	req := &startRunRequest{}
	if appErr := xhttp.BindAndValidate(c, req); appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}

	run := usecase.RunRequest{
		RunID:             req.RunID,
		Profile:           req.Profile,
		Symbols:           req.Symbols,
		DryRun:            req.DryRun,
		Workers:           req.Workers,
		Timeframe:         models.Timeframe(req.Timeframe),
		AutoSwitchInvalid: req.AutoSwitchInvalid,
	}
	if req.SwitchDuration != "" {
		d, err := util.ParseDuration(req.SwitchDuration)
		if err != nil {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid switch_duration %q", req.SwitchDuration).WithError(err))
		}
		run.SwitchDuration = d
	}

	id, err := h.runner.Submit(run)
	if err != nil {
		h.logger.Warn("run rejected", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, runError(err))
	}
	h.logger.Info("run accepted", xlogger.String("run_id", id), xlogger.Int("symbols", len(req.Symbols)))
	return xhttp.AcceptedResponse(c, map[string]string{"run_id": id})
}

func runError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, usecase.ErrRunActive):
		return xhttp.ConflictErrorf("%v", err)
	case errors.Is(err, decision.ErrProfileNotFound):
		return xhttp.NotFoundErrorf("%v", err)
	default:
		return xhttp.BadRequestErrorf("%v", err)
	}
}

type runView struct {
	models.RunSummary
	DurationMs int64 `json:"duration_ms"`
}

func (h *RunsEchoHandler) GetRun(c echo.Context) error {
	id := c.Param("id")
	run, ok := h.runs.Get(id)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("run %s not found", id))
	}
	return xhttp.SuccessResponse(c, runView{RunSummary: run, DurationMs: run.Duration.Milliseconds()})
}

func (h *RunsEchoHandler) InvalidateCache(c echo.Context) error {
	profile := c.Param("profile")
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()
	if err := h.cache.Invalidate(ctx, profile); err != nil {
		h.logger.Error("cache invalidation failed", xlogger.String("profile", profile), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("cache invalidation failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, map[string]string{"profile": profile})
}

var _ xhttp.Handler = (*RunsEchoHandler)(nil)
