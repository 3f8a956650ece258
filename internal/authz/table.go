// Package authz holds the static authorization surface: the route to
// permission table, the role hierarchy, and the backend targets routes
// forward to. The table is loaded from YAML at startup into an immutable
// snapshot; reloads swap the whole snapshot atomically so readers never
// observe a half-updated table.
package authz

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Route describes one guarded route.
type Route struct {
	Path             string `yaml:"path"`
	Method           string `yaml:"method"`
	Permission       string `yaml:"permission"`
	Backend          string `yaml:"backend"`
	RequiresGovernor bool   `yaml:"requires_governor"`
}

// tableFile is the YAML schema of the routes file.
type tableFile struct {
	Backends        map[string]string   `yaml:"backends"`
	DefaultBackend  string              `yaml:"default_backend"`
	Routes          []Route             `yaml:"routes"`
	RolePermissions map[string][]string `yaml:"role_permissions"`
	RoleHierarchy   map[string][]string `yaml:"role_hierarchy"`
}

// Snapshot is an immutable view of the authorization table. All lookups run
// against one snapshot for the lifetime of a request.
type Snapshot struct {
	backends       map[string]string
	defaultBackend string
	routes         []Route // sorted by path length, longest first

	// effective maps role -> flattened permission set, with the hierarchy
	// expanded transitively at load time so request-path lookups stay flat.
	effective map[string]map[string]bool
}

// Parse builds a snapshot from raw YAML.
func Parse(data []byte) (*Snapshot, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse routes file: %w", err)
	}

	if file.DefaultBackend != "" {
		if _, ok := file.Backends[file.DefaultBackend]; !ok {
			return nil, fmt.Errorf("default_backend %q is not a configured backend", file.DefaultBackend)
		}
	}
	for _, route := range file.Routes {
		if route.Path == "" || route.Permission == "" {
			return nil, fmt.Errorf("route %q: path and permission are required", route.Path)
		}
		if route.Backend != "" {
			if _, ok := file.Backends[route.Backend]; !ok {
				return nil, fmt.Errorf("route %q: unknown backend %q", route.Path, route.Backend)
			}
		}
	}

	effective, err := expandHierarchy(file.RolePermissions, file.RoleHierarchy)
	if err != nil {
		return nil, err
	}

	routes := make([]Route, len(file.Routes))
	copy(routes, file.Routes)
	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].Path) > len(routes[j].Path)
	})

	return &Snapshot{
		backends:       file.Backends,
		defaultBackend: file.DefaultBackend,
		routes:         routes,
		effective:      effective,
	}, nil
}

// Load reads and parses the routes file.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	return Parse(data)
}

// expandHierarchy flattens the role hierarchy: a role's effective permission
// set is its own permissions plus, transitively, those of every role it
// subsumes. Cycles are rejected at load time.
func expandHierarchy(perms map[string][]string, hierarchy map[string][]string) (map[string]map[string]bool, error) {
	roles := make(map[string]bool)
	for role := range perms {
		roles[role] = true
	}
	for role, subs := range hierarchy {
		roles[role] = true
		for _, sub := range subs {
			roles[sub] = true
		}
	}

	effective := make(map[string]map[string]bool, len(roles))
	for role := range roles {
		set := make(map[string]bool)
		if err := collect(role, perms, hierarchy, set, map[string]bool{}); err != nil {
			return nil, err
		}
		effective[role] = set
	}
	return effective, nil
}

func collect(role string, perms, hierarchy map[string][]string, out, visiting map[string]bool) error {
	if visiting[role] {
		return fmt.Errorf("role hierarchy cycle through %q", role)
	}
	visiting[role] = true
	defer delete(visiting, role)

	for _, p := range perms[role] {
		out[p] = true
	}
	for _, sub := range hierarchy[role] {
		if err := collect(sub, perms, hierarchy, out, visiting); err != nil {
			return err
		}
	}
	return nil
}

// Route finds the guarded route for a method and path. Matching is by
// longest path prefix on segment boundaries with an exact or wildcard method:
// /v1/tasks matches /v1/tasks and /v1/tasks/42, never /v1/tasks-admin.
func (s *Snapshot) Route(method, path string) (Route, bool) {
	for _, route := range s.routes {
		if !matchesPath(route.Path, path) {
			continue
		}
		if route.Method == "" || route.Method == "*" || strings.EqualFold(route.Method, method) {
			return route, true
		}
	}
	return Route{}, false
}

func matchesPath(routePath, path string) bool {
	if !strings.HasPrefix(path, routePath) {
		return false
	}
	if len(path) == len(routePath) || strings.HasSuffix(routePath, "/") {
		return true
	}
	return path[len(routePath)] == '/'
}

// Allowed reports whether any of the roles grants the permission, directly
// or through the hierarchy.
func (s *Snapshot) Allowed(roles []string, permission string) bool {
	for _, role := range roles {
		if s.effective[role][permission] {
			return true
		}
	}
	return false
}

// Backend resolves a backend name to its base URL.
func (s *Snapshot) Backend(name string) (string, bool) {
	url, ok := s.backends[name]
	return url, ok
}

// DefaultBackend returns the backend used by routes that don't name one.
func (s *Snapshot) DefaultBackend() string {
	return s.defaultBackend
}
