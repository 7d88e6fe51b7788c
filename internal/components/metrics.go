package components

import (
	"context"
	"log/slog"
	"sync"

	"orbot/internal/metrics"
)

// MetricsComponent serves /metrics and /healthz when an address is set.
type MetricsComponent struct {
	addr    string
	metrics *metrics.Metrics
	server  *metrics.Server
	log     *slog.Logger

	mu     sync.RWMutex
	health func() error
}

func NewMetricsComponent(addr string, m *metrics.Metrics, log *slog.Logger) *MetricsComponent {
	return &MetricsComponent{addr: addr, metrics: m, log: log}
}

func (c *MetricsComponent) Name() string {
	return MetricsComponentName
}

func (c *MetricsComponent) Dependencies() []string {
	return []string{}
}

func (c *MetricsComponent) Validate() error {
	return nil
}

func (c *MetricsComponent) Initialize(ctx context.Context) error {
	if c.addr == "" {
		return nil
	}
	c.server = metrics.NewServer(c.addr, c.metrics, c.check, c.log)
	_, err := c.server.Start()
	return err
}

// SetHealthCheck installs the check served on /healthz.
func (c *MetricsComponent) SetHealthCheck(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = fn
}

func (c *MetricsComponent) check() error {
	c.mu.RLock()
	fn := c.health
	c.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn()
}

func (c *MetricsComponent) Close(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}
