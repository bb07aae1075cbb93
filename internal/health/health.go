// Package health provides health checking and HTTP endpoints for the
// rhythm-sentry service.
package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check result.
type Check struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// GatewayPinger is satisfied by the vector-store gateway client. Kept as a
// narrow interface here so the health package doesn't depend on the
// gateway's transport internals.
type GatewayPinger interface {
	Ping(ctx context.Context) error
}

// StorePinger is satisfied by the durable control-registry store.
type StorePinger interface {
	Ping() error
}

// Checker performs health checks against the service's two external
// dependencies: the vector-store gateway and the durable registry store.
type Checker struct {
	gateway GatewayPinger
	store   StorePinger
	logger  *zap.Logger
}

// New creates a new health checker.
func New(gateway GatewayPinger, store StorePinger, logger *zap.Logger) *Checker {
	return &Checker{
		gateway: gateway,
		store:   store,
		logger:  logger,
	}
}

// CheckAll performs all health checks.
func (c *Checker) CheckAll(ctx context.Context) (Status, []Check) {
	checks := []Check{
		c.checkRegistryStore(),
		c.checkVectorStoreConnectivity(ctx),
	}

	overallStatus := StatusHealthy
	for _, check := range checks {
		if check.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
			break
		} else if check.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	return overallStatus, checks
}

// checkRegistryStore verifies the durable SQLite registry store is reachable.
func (c *Checker) checkRegistryStore() Check {
	start := time.Now()
	check := Check{
		Name:      "registry_store",
		Timestamp: start,
	}

	err := c.store.Ping()
	check.Duration = time.Since(start)

	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("registry store unreachable: %v", err)
		c.logger.Error("Health check failed: registry_store",
			zap.Error(err),
			zap.Duration("duration", check.Duration),
		)
	} else {
		check.Status = StatusHealthy
		check.Message = "registry store reachable"
		c.logger.Debug("Health check passed: registry_store",
			zap.Duration("duration", check.Duration),
		)
	}

	return check
}

// checkVectorStoreConnectivity verifies the vector-store gateway is reachable.
func (c *Checker) checkVectorStoreConnectivity(ctx context.Context) Check {
	start := time.Now()
	check := Check{
		Name:      "vector_store_connectivity",
		Timestamp: start,
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.gateway.Ping(checkCtx)
	check.Duration = time.Since(start)

	if err != nil {
		if check.Duration > 3*time.Second {
			check.Status = StatusDegraded
			check.Message = "vector-store responding slowly"
		} else {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("vector-store unreachable: %v", err)
		}
		c.logger.Warn("Health check failed: vector_store_connectivity",
			zap.Error(err),
			zap.Duration("duration", check.Duration),
		)
	} else {
		check.Status = StatusHealthy
		check.Message = "vector-store reachable"
		c.logger.Debug("Health check passed: vector_store_connectivity",
			zap.Duration("duration", check.Duration),
		)
	}

	return check
}
