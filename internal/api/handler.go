// Package api serves the analytics over HTTP with echo.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"coinarius-analytics/internal/logger"
	"coinarius-analytics/internal/model"
)

// LatestReader returns a previously published output, used before the
// engine has produced its first one. The Redis reader and the SQLite
// store implement it.
type LatestReader interface {
	Latest(ctx context.Context) (*model.Output, error)
}

// Deps are the collaborators of the handler. Source and Universe are
// required; the rest may be nil.
type Deps struct {
	Source   model.OutputSource
	Universe *model.Universe
	Fallback LatestReader
	History  model.OutputStore
	Health   http.Handler
	Metrics  http.Handler
	Stream   http.Handler
	Log      *logger.Logger
}

// Handler implements the analytics routes.
type Handler struct {
	d Deps
}

func NewHandler(d Deps) *Handler {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	return &Handler{d: d}
}

// RegisterRoutes mounts every route on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/analytics", h.Analytics)
	g.GET("/analytics/:symbol", h.SymbolAnalytics)
	g.GET("/symbols", h.Symbols)
	g.GET("/history", h.History)

	if h.d.Health != nil {
		e.GET("/healthz", echo.WrapHandler(h.d.Health))
	}
	if h.d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.d.Metrics))
	}
	if h.d.Stream != nil {
		e.GET("/ws", echo.WrapHandler(h.d.Stream))
	}
}

// output returns the engine's output, or the fallback's before the first
// cycle. The second result reports whether the fallback served it.
func (h *Handler) output(ctx context.Context) (*model.Output, bool) {
	if out := h.d.Source.Output(); out != nil {
		return out, false
	}
	if h.d.Fallback == nil {
		return nil, false
	}
	out, err := h.d.Fallback.Latest(ctx)
	if err != nil {
		h.d.Log.WithContext(ctx).Warn("fallback read failed", logger.Error(err))
		return nil, false
	}
	return out, out != nil
}

// Analytics serves the whole current output.
func (h *Handler) Analytics(c echo.Context) error {
	out, cached := h.output(c.Request().Context())
	if out == nil {
		return unavailable(c, "analytics not ready")
	}
	markCached(c, cached)
	return ok(c, out)
}

// SymbolAnalytics serves one symbol of the current output.
func (h *Handler) SymbolAnalytics(c echo.Context) error {
	code := strings.ToUpper(c.Param("symbol"))
	if !h.d.Universe.Contains(code) {
		return notFound(c, "unknown symbol "+code)
	}
	out, cached := h.output(c.Request().Context())
	if out == nil {
		return unavailable(c, "analytics not ready")
	}
	so, found := out.Symbol(code)
	if !found {
		return notFound(c, "no analytics for "+code)
	}
	markCached(c, cached)
	return ok(c, symbolView{
		Symbol:    code,
		Version:   out.Version,
		Mode:      out.Mode,
		UpdatedAt: out.UpdatedAt.Format(rfc3339Milli),
		Analytics: so,
	})
}

const rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"

type symbolView struct {
	Symbol    string             `json:"symbol"`
	Version   uint64             `json:"version"`
	Mode      model.Mode         `json:"mode"`
	UpdatedAt string             `json:"updated_at"`
	Analytics model.SymbolOutput `json:"analytics"`
}

// Symbols lists the configured universe.
func (h *Handler) Symbols(c echo.Context) error {
	return ok(c, h.d.Universe.Symbols())
}

// HistoryRequest is the query of /api/history.
type HistoryRequest struct {
	Limit int `query:"limit" default:"20" validate:"min=1,max=500"`
}

// History lists checkpointed outputs, newest first.
func (h *Handler) History(c echo.Context) error {
	if h.d.History == nil {
		return respond(c, http.StatusNotImplemented, "history is disabled")
	}
	req := &HistoryRequest{}
	if errs := bindQuery(c, req); errs != nil {
		return respond(c, http.StatusBadRequest, errs)
	}

	ctx := c.Request().Context()
	outs, err := h.d.History.LatestOutputs(ctx, req.Limit)
	if err != nil {
		h.d.Log.WithContext(ctx).Error("history query failed", logger.Error(err))
		return internalError(c)
	}
	if outs == nil {
		outs = []*model.Output{}
	}
	return ok(c, outs)
}

func markCached(c echo.Context, cached bool) {
	if cached {
		c.Response().Header().Set("X-Analytics-Source", "cache")
	}
}
