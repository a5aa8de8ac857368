package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"SignalGate/internal/domain/models"
	xhttp "SignalGate/pkg/http"
	xlogger "SignalGate/pkg/logger"
	"SignalGate/pkg/util"
)

// SwitchAdmin reads and writes kill-switches.
type SwitchAdmin interface {
	Get(ctx context.Context, key models.SwitchKey) (models.Switch, error)
	Engage(ctx context.Context, key models.SwitchKey, reason string, d time.Duration) (models.Switch, error)
	Clear(ctx context.Context, key models.SwitchKey) error
}

// SwitchesEchoHandler exposes kill-switches under /api/switches/:key where key
// is GLOBAL, SYMBOL:<symbol> or SYMBOL_TF:<symbol>:<tf>.
type SwitchesEchoHandler struct {
	logger   *xlogger.Logger
	switches SwitchAdmin
}

func NewSwitchesEchoHandler(logger *xlogger.Logger, switches SwitchAdmin) *SwitchesEchoHandler {
	return &SwitchesEchoHandler{logger: logger, switches: switches}
}

func (h *SwitchesEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/switches")
	g.GET("/:key", h.Get)
	g.PUT("/:key", h.Engage)
	g.DELETE("/:key", h.Clear)
}

type engageRequest struct {
	Reason   string `json:"reason" default:"manual" validate:"max=128"`
	Duration string `json:"duration" validate:"omitempty,duration"`
}

func (h *SwitchesEchoHandler) Get(c echo.Context) error {
	key, err := parseSwitchKey(c.Param("key"))
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("%v", err))
	}
	sw, err := h.switches.Get(c.Request().Context(), key)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("read switch").WithError(err))
	}
	return xhttp.SuccessResponse(c, sw)
}

// Engage turns a switch on. An empty duration keeps it on until cleared.
func (h *SwitchesEchoHandler) Engage(c echo.Context) error {
	key, err := parseSwitchKey(c.Param("key"))
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("%v", err))
	}
	req := &engageRequest{}
	if appErr := xhttp.BindAndValidate(c, req); appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}
	var d time.Duration
	if req.Duration != "" {
		if d, err = util.ParseDuration(req.Duration); err != nil {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid duration %q", req.Duration))
		}
	}

	sw, err := h.switches.Engage(c.Request().Context(), key, req.Reason, d)
	if err != nil {
		h.logger.Error("engage switch failed", xlogger.String("key", string(key)), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("engage switch").WithError(err))
	}
	h.logger.Info("switch engaged",
		xlogger.String("key", string(key)),
		xlogger.String("reason", req.Reason),
		xlogger.Duration("duration_ms", d),
	)
	return xhttp.SuccessResponse(c, sw)
}

func (h *SwitchesEchoHandler) Clear(c echo.Context) error {
	key, err := parseSwitchKey(c.Param("key"))
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("%v", err))
	}
	if err := h.switches.Clear(c.Request().Context(), key); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("clear switch").WithError(err))
	}
	h.logger.Info("switch cleared", xlogger.String("key", string(key)))
	return xhttp.SuccessResponse(c, models.Switch{Key: key})
}

func parseSwitchKey(raw string) (models.SwitchKey, error) {
	parts := strings.Split(strings.ToUpper(raw), ":")
	switch {
	case len(parts) == 1 && parts[0] == string(models.GlobalSwitch):
		return models.GlobalSwitch, nil
	case len(parts) == 2 && parts[0] == "SYMBOL" && parts[1] != "":
		return models.SymbolSwitch(parts[1]), nil
	case len(parts) == 3 && parts[0] == "SYMBOL_TF" && parts[1] != "":
		tf, err := models.ParseTimeframe(strings.ToLower(parts[2]))
		if err != nil {
			return "", err
		}
		return models.SymbolTFSwitch(parts[1], tf), nil
	}
	return "", fmt.Errorf("unknown switch key %q", raw)
}

var _ xhttp.Handler = (*SwitchesEchoHandler)(nil)
