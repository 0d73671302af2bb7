package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkflowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warehouse_workflow_transitions_total",
		Help: "Status transitions of borrow requests, item requests, clearances and clearance forms.",
	}, []string{"workflow", "from", "to"})

	StockMovedUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warehouse_stock_moved_units_total",
		Help: "Units moved between stock states.",
	}, []string{"from", "to"})

	JubelioPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warehouse_jubelio_pushes_total",
		Help: "Stock relays to the ERP by result.",
	}, []string{"result"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "warehouse_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Transition records a workflow status change.
func Transition(workflow, from, to string) {
	WorkflowTransitions.WithLabelValues(workflow, from, to).Inc()
}

// Middleware observes request latency labelled by the matched route pattern.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}
		HTTPDuration.
			WithLabelValues(c.Method(), c.Route().Path, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
		return err
	}
}
