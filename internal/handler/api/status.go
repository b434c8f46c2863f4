package api

import (
	"context"
	"net/http"
	"time"

	"OBFlow/internal/domain/repository"
	"OBFlow/internal/usecase"
	"OBFlow/pkg/config"
	xhttp "OBFlow/pkg/http"
	xlogger "OBFlow/pkg/logger"
	"OBFlow/pkg/util"

	"github.com/labstack/echo/v4"
)

// StatusHandler exposes the read-only operational surface: engine and
// per-symbol state, health and readiness probes. It never mutates the
// engine; trading decisions stay inside the lanes.
type StatusHandler struct {
	cfg     *config.Config
	logger  *xlogger.Logger
	engine  *usecase.Engine
	archive repository.CandleArchive
}

func NewStatusHandler(cfg *config.Config, logger *xlogger.Logger, engine *usecase.Engine, archive repository.CandleArchive) *StatusHandler {
	return &StatusHandler{cfg: cfg, logger: logger, engine: engine, archive: archive}
}

func (h *StatusHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	e.GET("/readyz", h.Ready)
	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/status/:symbol", h.SymbolStatus)
	g.GET("/account", h.Account)
	g.GET("/candles/:symbol", h.Candles)
	g.POST("/positions/close", h.CloseAll)
}

type accountView struct {
	Equity      float64 `json:"equity"`
	FreeCapital float64 `json:"free_capital"`
	Connected   bool    `json:"connected"`
}

// Health reports process liveness only.
func (h *StatusHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

// Ready reports readiness: the market stream must be connected and the
// archive, when configured, reachable.
func (h *StatusHandler) Ready(c echo.Context) error {
	if !h.engine.IsConnected() {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, map[string]string{"status": "stream disconnected"})
	}
	if h.archive != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.archive.Health(ctx); err != nil {
			h.logger.Warn("archive health check failed", xlogger.Error(err))
			return xhttp.DataResponse(c, http.StatusServiceUnavailable, map[string]string{"status": "archive unavailable"})
		}
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ready"})
}

// Status returns the state of every symbol lane.
func (h *StatusHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.engine.Statuses(c.Request().Context()))
}

// SymbolStatus returns the state of one symbol lane.
func (h *StatusHandler) SymbolStatus(c echo.Context) error {
	symbol := c.Param("symbol")
	st, ok := h.engine.LaneStatus(c.Request().Context(), symbol)
	if !ok {
		return xhttp.NotFoundResponse(c, map[string]string{"error": "unknown symbol " + symbol})
	}
	return xhttp.SuccessResponse(c, st)
}

type candlesRequest struct {
	From  string `query:"from"`
	To    string `query:"to"`
	Limit int    `query:"limit" default:"500" validate:"gt=0,lte=5000"`
}

// Candles serves archived candles for one symbol. The range is aligned
// to the symbol's configured timeframe.
func (h *StatusHandler) Candles(c echo.Context) error {
	req := &candlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	symbol := c.Param("symbol")
	var tf int
	for _, sc := range h.cfg.Symbols {
		if sc.Name == symbol {
			tf = sc.TimeframeMinutes
			break
		}
	}
	if tf == 0 {
		return xhttp.NotFoundResponse(c, map[string]string{"error": "unknown symbol " + symbol})
	}

	now := time.Now()
	from := xhttp.ParseTimeDefault(req.From, now.Add(-24*time.Hour))
	to := xhttp.ParseTimeDefault(req.To, now)
	limit := req.Limit
	from, to = util.AlignRange(from, to, tf)

	candles, err := h.archive.LoadCandles(c.Request().Context(), symbol, from, to, limit)
	if err != nil {
		h.logger.Error("candle query failed", xlogger.String("symbol", symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, candles)
}

// CloseAll is the operator kill switch: every open position is closed
// at market and flagged as a forced exit.
func (h *StatusHandler) CloseAll(c echo.Context) error {
	n := h.engine.ForceCloseAll(c.Request().Context())
	h.logger.Warn("force close requested", xlogger.Int("positions", n))
	return xhttp.SuccessResponse(c, map[string]int{"closing": n})
}

// Account returns equity and connection state.
func (h *StatusHandler) Account(c echo.Context) error {
	return xhttp.SuccessResponse(c, accountView{
		Equity:      h.engine.Equity(),
		FreeCapital: h.engine.FreeCapital(),
		Connected:   h.engine.IsConnected(),
	})
}
