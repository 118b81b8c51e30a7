package service

import (
	"context"
	"time"

	"PPost/module/point"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const scrapeTimeout = time.Second

// metrics belong to one Service and are served from its own registry.
type metrics struct {
	reg         *prometheus.Registry
	transitions *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		reg: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ppost",
			Name:      "point_transitions_total",
			Help:      "Sweep transitions applied, by target status (removed for deletions).",
		}, []string{"to"}),
	}
	m.reg.MustRegister(m.transitions)
	return m
}

// watch registers the gauges read from s at scrape time.
func (m *metrics) watch(s *Service) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "ppost", Name: "link_connected",
			Help: "1 while the front-end link is attached.",
		}, func() float64 {
			if s.ch.Connected() {
				return 1
			}
			return 0
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "ppost", Name: "rpc_pending_calls",
			Help: "Calls to the front-end awaiting a reply.",
		}, func() float64 { return float64(s.ch.Pending()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "ppost", Name: "live_watches",
			Help: "Live watches currently registered.",
		}, func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
			defer cancel()
			n, err := s.reg.Count(ctx)
			if err != nil {
				return 0
			}
			return float64(n)
		}),
	)
}

func (m *metrics) handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
}

// countingEvents counts every transition before passing it on.
type countingEvents struct {
	next point.Events
	c    *prometheus.CounterVec
}

func (e countingEvents) Transitioned(ctx context.Context, t point.Transition) {
	to := string(t.To)
	if t.Removed {
		to = "removed"
	}
	e.c.WithLabelValues(to).Inc()
	e.next.Transitioned(ctx, t)
}
