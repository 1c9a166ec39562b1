package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glimte/mmate-schema/contracts"
	"github.com/glimte/mmate-schema/registry"
	"github.com/glimte/mmate-schema/versioning"
)

// RegistryChecker re-verifies every declared version chain. A broken chain
// is unhealthy; a versioned type with no versions yet is degraded.
type RegistryChecker struct {
	reg *registry.Registry
}

// NewRegistryChecker creates a checker over reg
func NewRegistryChecker(reg *registry.Registry) *RegistryChecker {
	return &RegistryChecker{reg: reg}
}

func (c *RegistryChecker) Name() string {
	return "registry"
}

func (c *RegistryChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	records := c.reg.Records()
	broken := map[string][]string{}
	versions := make(map[string][]int, len(records))
	var empty []string
	events, commands, simple := 0, 0, 0

	for _, rec := range records {
		switch {
		case rec.Simple:
			simple++
			continue
		case rec.Kind == contracts.KindEvent:
			events++
		default:
			commands++
		}

		versions[rec.Key.String()] = rec.VersionNumbers()
		if len(rec.VersionNumbers()) == 0 {
			empty = append(empty, rec.Key.String())
			continue
		}
		if err := rec.Chain().Verify(); err != nil {
			var cerr *versioning.ChainError
			if errors.As(err, &cerr) {
				broken[rec.Key.String()] = cerr.Problems
			} else {
				broken[rec.Key.String()] = []string{err.Error()}
			}
		}
	}

	result.Details["events"] = events
	result.Details["commands"] = commands
	result.Details["simple_commands"] = simple
	result.Details["versions"] = versions

	switch {
	case len(broken) > 0:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("%d version chains are broken", len(broken))
		result.Details["broken"] = broken
	case len(empty) > 0:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d types have no versions", len(empty))
		result.Details["empty"] = empty
	default:
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("%d types declared", len(records))
	}

	result.Duration = time.Since(start)
	return result
}

// Connection is the part of an AMQP connection the checker needs
type Connection interface {
	IsClosed() bool
}

// ConnectionChecker checks that a broker connection is open
type ConnectionChecker struct {
	name string
	conn Connection
}

// NewConnectionChecker creates a checker for conn
func NewConnectionChecker(name string, conn Connection) *ConnectionChecker {
	return &ConnectionChecker{name: name, conn: conn}
}

func (c *ConnectionChecker) Name() string {
	return c.name
}

func (c *ConnectionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Status:    StatusHealthy,
		Message:   "Connection is open",
	}

	if c.conn == nil || c.conn.IsClosed() {
		result.Status = StatusUnhealthy
		result.Message = "Connection is closed"
	}

	result.Duration = time.Since(start)
	return result
}
