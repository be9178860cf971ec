// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	pingTimeout = 3 * time.Second
	// maxGoroutines is far above normal load; crossing it means a leak.
	maxGoroutines = 10000
)

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker collects the checks behind /live and /ready. Check results are
// also exported as Prometheus gauges.
type Checker struct {
	handler healthcheck.Handler
	logger  *zap.Logger
}

func NewChecker(registry prometheus.Registerer, logger *zap.Logger) *Checker {
	c := &Checker{
		handler: healthcheck.NewMetricsHandler(registry, "verygoodmail"),
		logger:  logger.Named("health"),
	}
	c.handler.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(maxGoroutines))
	return c
}

// AddDatabase makes the process unhealthy when the database stops answering.
func (c *Checker) AddDatabase(db Pinger) {
	c.handler.AddLivenessCheck("database", c.logged("database", PingCheck(db)))
}

// AddRedis checks the push relay's Redis connection.
func (c *Checker) AddRedis(client *redis.Client) {
	c.handler.AddLivenessCheck("redis", c.logged("redis", PingCheck(redisPinger{client})))
}

// AddListener reports not-ready while the inbound listener has no session.
// A listener that is reconnecting does not make the process unhealthy.
func (c *Checker) AddListener(ready func() error) {
	c.handler.AddReadinessCheck("imap_listener", healthcheck.Check(ready))
}

// Handler serves /live and /ready.
func (c *Checker) Handler() http.Handler {
	return c.handler
}

func (c *Checker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	c.handler.LiveEndpoint(w, r)
}

func (c *Checker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	c.handler.ReadyEndpoint(w, r)
}

// PingCheck pings p with a bounded timeout.
func PingCheck(p Pinger) healthcheck.Check {
	return healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		return p.Ping(ctx)
	}, pingTimeout+time.Second)
}

func (c *Checker) logged(name string, check healthcheck.Check) healthcheck.Check {
	return func() error {
		err := check()
		if err != nil {
			c.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
		}
		return err
	}
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	if p.client == nil {
		return errors.New("redis client not configured")
	}
	return p.client.Ping(ctx).Err()
}
