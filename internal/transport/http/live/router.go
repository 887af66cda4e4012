package livehttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"roboai/internal/agent"
	"roboai/internal/execution"
	"roboai/internal/reconnect"
	"roboai/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const maxBodyBytes = 64 << 10

// Ledger is the persisted order and trade history.
type Ledger interface {
	Orders() store.OrderRepository
	Trades() store.TradeRepository
}

// AutoTradeSwitch is the live toggle consulted by the execution core.
type AutoTradeSwitch interface {
	AutoTrade() bool
	SetAutoTrade(on bool, source string)
}

// ConnectionFunc reports the broker connection as seen by the reconnect
// supervisor; ok is false when no supervisor is running.
type ConnectionFunc func() (st reconnect.Status, ok bool)

type Router struct {
	Registry   *agent.Registry
	Core       *execution.Core
	Ledger     Ledger
	Switch     AutoTradeSwitch
	Connection ConnectionFunc

	orderSchema *jsonschema.Schema
	log         *slog.Logger
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/agents", r.handleAgents)
	group.POST("/agents/:name/start", r.handleAgentStart)
	group.POST("/agents/:name/stop", r.handleAgentStop)

	group.GET("/positions", r.handlePositions)
	group.GET("/pnl", r.handlePnL)
	group.GET("/orders", r.handleOrders)
	group.GET("/orders/:id", r.handleOrderByID)
	group.POST("/orders", r.handlePlaceOrder)
	group.GET("/trades", r.handleTrades)

	group.GET("/trading/auto_trade", r.handleAutoTrade)
	group.PUT("/trading/auto_trade", r.handleSetAutoTrade)
	group.GET("/connection", r.handleConnection)
}

func (r *Router) handleAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": r.Registry.AllStatus(c.Request.Context())})
}

func (r *Router) handleAgentStart(c *gin.Context) {
	name := c.Param("name")
	if _, ok := r.Registry.Get(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found", "name": name})
		return
	}
	ok := r.Registry.StartOne(c.Request.Context(), name)
	r.agentResult(c, name, "started", ok)
}

func (r *Router) handleAgentStop(c *gin.Context) {
	name := c.Param("name")
	if _, ok := r.Registry.Get(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found", "name": name})
		return
	}
	ok := r.Registry.StopOne(c.Request.Context(), name)
	r.agentResult(c, name, "stopped", ok)
}

func (r *Router) agentResult(c *gin.Context, name, verb string, ok bool) {
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	body := gin.H{"name": name, verb: ok}
	if a, found := r.Registry.Get(name); found {
		if h, err := a.HealthCheck(c.Request.Context()); err == nil {
			body["state"] = h.State
		}
	}
	c.JSON(status, body)
}

func (r *Router) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": r.Core.Positions()})
}

func (r *Router) handlePnL(c *gin.Context) {
	pnl := r.Core.PnL()
	body := gin.H{"pnl": pnl, "mode": r.Core.Mode()}
	if r.Ledger != nil {
		ctx := c.Request.Context()
		trades := r.Ledger.Trades()
		stored := gin.H{}
		if total, err := trades.RealizedTotal(ctx); err == nil {
			stored["realized_total"] = total
		}
		if day, err := trades.RealizedForSession(ctx, pnl.Session); err == nil {
			stored["realized_session"] = day
		}
		body["stored"] = stored
	}
	c.JSON(http.StatusOK, body)
}

func (r *Router) handleOrders(c *gin.Context) {
	limit := queryLimit(c, 100, 1000)
	c.JSON(http.StatusOK, gin.H{"orders": r.Core.Orders(limit)})
}

func (r *Router) handleOrderByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if o, ok := r.Core.Order(id); ok {
		c.JSON(http.StatusOK, gin.H{"order": o})
		return
	}
	if r.Ledger != nil {
		rec, err := r.Ledger.Orders().FindByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if rec != nil {
			c.JSON(http.StatusOK, gin.H{"order": json.RawMessage(rec.Raw), "stored": true})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "order not found", "order_id": id})
}

func (r *Router) handlePlaceOrder(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := r.orderSchema.Validate(doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order", "detail": err.Error()})
		return
	}
	var req execution.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Source = "http"

	order, err := r.Core.PlaceOrder(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"order": order})
	case execution.IsRejection(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  err.Error(),
			"reason": execution.RejectReason(err),
		})
	case errors.Is(err, execution.ErrRecordFailed) && order.OrderID != "":
		c.JSON(http.StatusAccepted, gin.H{"order": order, "warning": err.Error()})
	case errors.Is(err, execution.ErrBrokerUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		r.log.Error("manual order failed", "symbol", req.Symbol, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func (r *Router) handleTrades(c *gin.Context) {
	if r.Ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade history not enabled"})
		return
	}
	trades, err := r.Ledger.Trades().ListRecent(c.Request.Context(), queryLimit(c, 100, 1000))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (r *Router) handleAutoTrade(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"auto_trade": r.Core.AutoTradeEnabled()})
}

func (r *Router) handleSetAutoTrade(c *gin.Context) {
	if r.Switch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "auto trade switch not configured"})
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil || !gjson.ValidBytes(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	enabled := gjson.GetBytes(raw, "enabled")
	if enabled.Type != gjson.True && enabled.Type != gjson.False {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled must be a boolean"})
		return
	}
	r.Switch.SetAutoTrade(enabled.Bool(), "http")
	r.log.Info("auto trade toggled", "enabled", enabled.Bool(), "ip", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"auto_trade": r.Switch.AutoTrade()})
}

func (r *Router) handleConnection(c *gin.Context) {
	if r.Connection == nil {
		c.JSON(http.StatusOK, gin.H{"supervised": false})
		return
	}
	st, ok := r.Connection()
	c.JSON(http.StatusOK, gin.H{"supervised": ok, "connection": st})
}

func queryLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
