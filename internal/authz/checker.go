package authz

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

// Checker evaluates permission checks against the current table snapshot.
// Reload swaps the snapshot pointer; in-flight requests keep the snapshot
// they started with.
type Checker struct {
	snapshot atomic.Pointer[Snapshot]
	logger   *slog.Logger
}

// NewChecker wraps an initial snapshot.
func NewChecker(snapshot *Snapshot, logger *slog.Logger) *Checker {
	c := &Checker{logger: logger}
	c.snapshot.Store(snapshot)
	return c
}

// Snapshot returns the current table snapshot.
func (c *Checker) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

// Reload loads a new table from disk and swaps it in. On parse failure the
// previous snapshot stays active.
func (c *Checker) Reload(path string) error {
	snapshot, err := Load(path)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("routes table reload failed, keeping previous snapshot",
				"path", path, "error", err)
		}
		return err
	}
	c.snapshot.Store(snapshot)
	if c.logger != nil {
		c.logger.Info("routes table reloaded", "path", path)
	}
	return nil
}

// Check resolves the route for the request and verifies the caller holds the
// required permission. The returned error carries the full denial detail
// (required permission, roles held); the normalization stage decides how much
// of that reaches the caller.
func (c *Checker) Check(identity domain.Identity, method, path string) (Route, error) {
	snapshot := c.Snapshot()

	route, ok := snapshot.Route(method, path)
	if !ok {
		return Route{}, dErrors.New(dErrors.CodeNotFound, "no such route")
	}

	if !snapshot.Allowed(identity.Roles, route.Permission) {
		return Route{}, dErrors.New(dErrors.CodeForbidden,
			fmt.Sprintf("requires permission %q; roles held: %v", route.Permission, identity.Roles))
	}
	return route, nil
}
