package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"KHunter/internal/dispatch"
	"KHunter/internal/engine"
	"KHunter/internal/health"
	"KHunter/internal/service/blacklist"
	"KHunter/internal/tracker"
	pkghttp "KHunter/pkg/http"
	applogger "KHunter/pkg/logger"
)

// OpsHandler exposes the operator surface: status, positions, recent
// warnings, and the trading controls.
type OpsHandler struct {
	monitor   *health.Monitor
	tracker   *tracker.Tracker
	engine    *engine.Engine
	queue     *dispatch.Queue
	blacklist *blacklist.Store
	log       *applogger.Logger
}

func NewOpsHandler(monitor *health.Monitor, trk *tracker.Tracker, eng *engine.Engine, queue *dispatch.Queue, bl *blacklist.Store, log *applogger.Logger) *OpsHandler {
	return &OpsHandler{
		monitor:   monitor,
		tracker:   trk,
		engine:    eng,
		queue:     queue,
		blacklist: bl,
		log:       log,
	}
}

// RegisterRoutes wires the ops endpoints.
func (h *OpsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/positions", h.Positions)
	g.GET("/logs", h.Logs)
	g.POST("/trading/pause", h.Pause)
	g.POST("/trading/resume", h.Resume)
	g.POST("/trading/close-all", h.CloseAll)
	g.GET("/blacklist", h.Blacklist)
	g.POST("/blacklist", h.BlacklistAdd)
	g.DELETE("/blacklist/:code", h.BlacklistRemove)
}

type statusResponse struct {
	Health        health.Status  `json:"health"`
	QueueDepth    int            `json:"queue_depth"`
	OpenHoldings  int            `json:"open_holdings"`
	PendingOrders int            `json:"pending_orders"`
	Conditions    map[string]int `json:"condition_members"`
	MarketOpen    bool           `json:"market_open"`
	TotalValue    int64          `json:"total_value"`
	AvailableCash int64          `json:"available_cash"`
	UnrealizedPct float64        `json:"unrealized_pct"`
}

// Status reports the vital signs in one call.
func (h *OpsHandler) Status(c echo.Context) error {
	total, cash := h.tracker.Balances()

	// Cost-weighted unrealized return across all open holdings.
	var cost, value int64
	for _, hd := range h.tracker.Book().Snapshot() {
		cost += hd.AveragePrice * hd.Quantity
		value += hd.CurrentPrice * hd.Quantity
	}
	var unrealized float64
	if cost > 0 {
		unrealized = float64(value-cost) / float64(cost) * 100
	}

	return pkghttp.SuccessResponse(c, statusResponse{
		Health:        h.monitor.Status(),
		QueueDepth:    h.queue.Depth(),
		OpenHoldings:  h.tracker.Book().Count(),
		PendingOrders: h.tracker.Pending().Count(),
		Conditions:    h.engine.ConditionMembers(),
		MarketOpen:    h.engine.MarketOpen(),
		TotalValue:    total,
		AvailableCash: cash,
		UnrealizedPct: unrealized,
	})
}

type positionView struct {
	StockCode     string    `json:"stock_code"`
	StockName     string    `json:"stock_name"`
	Quantity      int64     `json:"quantity"`
	AveragePrice  int64     `json:"average_price"`
	CurrentPrice  int64     `json:"current_price"`
	UnrealizedPct float64   `json:"unrealized_pct"`
	EnteredAt     time.Time `json:"entered_at"`
	Exiting       bool      `json:"exiting"`
}

type pendingView struct {
	OrderID     string    `json:"order_id"`
	Side        string    `json:"side"`
	StockCode   string    `json:"stock_code"`
	Quantity    int64     `json:"quantity"`
	OrderType   string    `json:"order_type"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type positionsResponse struct {
	Holdings []positionView `json:"holdings"`
	Pending  []pendingView  `json:"pending_orders"`
}

// Positions dumps open holdings and in-flight orders.
func (h *OpsHandler) Positions(c echo.Context) error {
	holdings := h.tracker.Book().Snapshot()
	views := make([]positionView, 0, len(holdings))
	for _, hd := range holdings {
		views = append(views, positionView{
			StockCode:     hd.StockCode,
			StockName:     hd.StockName,
			Quantity:      hd.Quantity,
			AveragePrice:  hd.AveragePrice,
			CurrentPrice:  hd.CurrentPrice,
			UnrealizedPct: hd.UnrealizedPct(),
			EnteredAt:     hd.EnteredAt,
			Exiting:       hd.Exiting,
		})
	}

	open := h.tracker.Pending().Open()
	pend := make([]pendingView, 0, len(open))
	for _, po := range open {
		pend = append(pend, pendingView{
			OrderID:     po.OrderID,
			Side:        string(po.Side),
			StockCode:   po.StockCode,
			Quantity:    po.Quantity,
			OrderType:   string(po.OrderType),
			SubmittedAt: po.SubmittedAt,
		})
	}

	return pkghttp.SuccessResponse(c, positionsResponse{Holdings: views, Pending: pend})
}

type logsRequest struct {
	Limit int `query:"limit" default:"50" validate:"gte=1,lte=500"`
}

// Logs returns recent warn/error entries from the in-memory ring.
func (h *OpsHandler) Logs(c echo.Context) error {
	req := &logsRequest{}
	if errs := pkghttp.ReadAndValidateRequest(c, req); errs != nil {
		return pkghttp.BadRequestResponse(c, errs)
	}
	ring := h.log.Ring()
	if ring == nil {
		return pkghttp.SuccessResponse(c, []applogger.Entry{})
	}
	return pkghttp.SuccessResponse(c, ring.Recent(req.Limit))
}

type pauseRequest struct {
	Reason string `json:"reason" default:"manual pause" validate:"max=200"`
}

// Pause halts new buys. Sells keep flowing.
func (h *OpsHandler) Pause(c echo.Context) error {
	req := &pauseRequest{}
	if errs := pkghttp.ReadAndValidateRequest(c, req); errs != nil {
		return pkghttp.BadRequestResponse(c, errs)
	}
	h.monitor.Pause(req.Reason)
	return pkghttp.SuccessResponse(c, map[string]bool{"paused": true})
}

// Resume releases a manual pause.
func (h *OpsHandler) Resume(c echo.Context) error {
	h.monitor.Resume()
	return pkghttp.SuccessResponse(c, map[string]bool{"paused": false})
}

// CloseAll queues market sells for every open position.
func (h *OpsHandler) CloseAll(c echo.Context) error {
	queued := h.tracker.CloseAll("manual_close_all")
	return pkghttp.SuccessResponse(c, map[string]int{"queued": queued})
}

// Blacklist lists the current exclusion set.
func (h *OpsHandler) Blacklist(c echo.Context) error {
	return pkghttp.SuccessResponse(c, map[string]interface{}{"codes": h.blacklist.Codes()})
}

type blacklistRequest struct {
	StockCode string `json:"stock_code" validate:"required,len=6,numeric"`
}

// BlacklistAdd bars a stock from entry.
func (h *OpsHandler) BlacklistAdd(c echo.Context) error {
	req := &blacklistRequest{}
	if errs := pkghttp.ReadAndValidateRequest(c, req); errs != nil {
		return pkghttp.BadRequestResponse(c, errs)
	}
	if err := h.blacklist.Add(c.Request().Context(), req.StockCode); err != nil {
		h.log.Error("blacklist add failed", applogger.Error(err))
		return pkghttp.InternalServerErrorResponse(c)
	}
	return pkghttp.SuccessResponse(c, map[string]string{"added": req.StockCode})
}

// BlacklistRemove lifts the bar on a stock.
func (h *OpsHandler) BlacklistRemove(c echo.Context) error {
	code := c.Param("code")
	if code == "" {
		return pkghttp.BadRequestResponse(c, "code required")
	}
	if err := h.blacklist.Remove(c.Request().Context(), code); err != nil {
		h.log.Error("blacklist remove failed", applogger.Error(err))
		return pkghttp.InternalServerErrorResponse(c)
	}
	return pkghttp.SuccessResponse(c, map[string]string{"removed": code})
}
