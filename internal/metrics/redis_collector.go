package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

// KeyProcessingSessions is the Redis set of sessions with a pipeline run in flight.
const KeyProcessingSessions = "pfmea:sessions:processing"

type redisCollector struct {
	rdb    *redis.Client
	logger *slog.Logger

	processingDesc *prometheus.Desc
}

func newRedisCollector(rdb *redis.Client, logger *slog.Logger) *redisCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisCollector{
		rdb:    rdb,
		logger: logger,
		processingDesc: prometheus.NewDesc(
			"pfmea_sessions_processing",
			"Current number of sessions with a submission in progress.",
			nil,
			nil,
		),
	}
}

func (c *redisCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.processingDesc
}

func (c *redisCollector) Collect(ch chan<- prometheus.Metric) {
	if c.rdb == nil {
		return
	}

	// Keep Redis reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := c.rdb.SCard(ctx, KeyProcessingSessions).Result()
	if err != nil && err != redis.Nil {
		c.logger.Warn("prometheus redis collector failed", "err", err)
		return
	}
	m, err := prometheus.NewConstMetric(c.processingDesc, prometheus.GaugeValue, float64(n))
	if err != nil {
		return
	}
	ch <- m
}

var registerRedisCollectorOnce sync.Once

func RegisterRedisCollector(rdb *redis.Client, logger *slog.Logger) {
	registerRedisCollectorOnce.Do(func() {
		prometheus.MustRegister(newRedisCollector(rdb, logger))
	})
}
