package apihttp

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"txpilot/internal/engine"
	"txpilot/internal/executor"
	"txpilot/internal/metrics"
	"txpilot/internal/order"
)

// Router exposes order intake, lifecycle queries and the system status
// surface.
type Router struct {
	Engine  *engine.Engine
	Manager *order.Manager
	Exec    *executor.Executor
	Metrics *metrics.Collector
}

func NewRouter(eng *engine.Engine, mgr *order.Manager, exec *executor.Executor, collector *metrics.Collector) *Router {
	return &Router{Engine: eng, Manager: mgr, Exec: exec, Metrics: collector}
}

// Register mounts the API routes under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/orders", r.handleSubmitOrder)
	group.GET("/orders/:id", r.handleGetOrder)
	group.GET("/orders/:id/attempts", r.handleOrderAttempts)
	group.POST("/orders/:id/cancel", r.handleCancelOrder)
	group.GET("/system/status", r.handleSystemStatus)
	group.GET("/metrics", r.handleMetrics)
}

type submitOrderRequest struct {
	Action         string  `json:"action" binding:"required"`
	Market         string  `json:"market" binding:"required"`
	Size           string  `json:"size" binding:"required"`
	PriceLimit     string  `json:"price_limit"`
	Confidence     float64 `json:"confidence"`
	IdempotencyKey string  `json:"idempotency_key"`
}

func (r *Router) handleSubmitOrder(c *gin.Context) {
	var req submitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	size, err := decimal.NewFromString(req.Size)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "size is not a valid decimal"})
		return
	}
	intent := order.Intent{
		Action:     order.Action(req.Action),
		Market:     req.Market,
		Size:       size,
		Confidence: req.Confidence,
	}
	if req.PriceLimit != "" {
		limit, err := decimal.NewFromString(req.PriceLimit)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "price_limit is not a valid decimal"})
			return
		}
		intent.PriceLimit = &limit
	}

	ord, err := r.Engine.SubmitTradingSignal(c.Request.Context(), intent, req.IdempotencyKey)
	if err != nil {
		var verr *order.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
		case errors.Is(err, engine.ErrQueueFull):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution queue is full, retry later"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, ord)
}

func (r *Router) handleGetOrder(c *gin.Context) {
	ord, err := r.Manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		var nferr *order.NotFoundError
		if errors.As(err, &nferr) {
			c.JSON(http.StatusNotFound, gin.H{"error": nferr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ord)
}

func (r *Router) handleOrderAttempts(c *gin.Context) {
	id := c.Param("id")
	if _, err := r.Manager.Get(c.Request.Context(), id); err != nil {
		var nferr *order.NotFoundError
		if errors.As(err, &nferr) {
			c.JSON(http.StatusNotFound, gin.H{"error": nferr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	attempts, err := r.Manager.Attempts(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "attempts": attempts})
}

func (r *Router) handleCancelOrder(c *gin.Context) {
	res, err := r.Manager.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		var nferr *order.NotFoundError
		if errors.As(err, &nferr) {
			c.JSON(http.StatusNotFound, gin.H{"error": nferr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *Router) handleSystemStatus(c *gin.Context) {
	ctx := c.Request.Context()
	counts := gin.H{}
	for _, st := range []order.Status{
		order.StatusPending, order.StatusQueued, order.StatusExecuting,
		order.StatusConfirmed, order.StatusFailed, order.StatusTimedOut,
		order.StatusCancelled, order.StatusUnknown,
	} {
		n, err := r.Manager.CountByStatus(ctx, st)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		counts[string(st)] = n
	}
	c.JSON(http.StatusOK, gin.H{
		"queue_depth":        r.Engine.QueueDepth(),
		"active_count":       counts[string(order.StatusExecuting)],
		"orders":             counts,
		"backends":           r.Exec.BreakerSnapshots(),
		"aggregated_metrics": r.Metrics.Export(),
	})
}

func (r *Router) handleMetrics(c *gin.Context) {
	if w := c.Query("window"); w != "" {
		win := metrics.Window(w)
		known := false
		for _, candidate := range metrics.Windows {
			if win == candidate {
				known = true
				break
			}
		}
		if !known {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown window, want one of 1m 5m 1h 1d"})
			return
		}
		c.JSON(http.StatusOK, r.Metrics.Query(win))
		return
	}
	c.JSON(http.StatusOK, r.Metrics.Export())
}
