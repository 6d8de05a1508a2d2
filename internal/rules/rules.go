// Package rules resolves the Cerbos resource and action of a request from
// the route rules in the demo configuration.
package rules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"

	gincerbos "github.com/vyrodovalexey/gin-cerbos"
	"github.com/vyrodovalexey/gin-cerbos/cerbos"
	"github.com/vyrodovalexey/gin-cerbos/internal/config"
)

// CollectionID is the resource id used for routes without an id parameter.
const CollectionID = "*"

// Table maps method and route pattern to a rule. It is safe for concurrent
// use and can be replaced while serving.
type Table struct {
	mu    sync.RWMutex
	rules map[string]config.RouteRule
}

// NewTable creates a table holding rules.
func NewTable(rules []config.RouteRule) *Table {
	t := &Table{}
	t.Update(rules)
	return t
}

// Update replaces every rule.
func (t *Table) Update(rules []config.RouteRule) {
	m := make(map[string]config.RouteRule, len(rules))
	for _, r := range rules {
		m[r.Key()] = r
	}

	t.mu.Lock()
	t.rules = m
	t.mu.Unlock()
}

// Len returns the number of rules.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rules)
}

// Lookup returns the rule for method and route pattern.
func (t *Table) Lookup(method, path string) (config.RouteRule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rules[config.RouteRule{Method: method, Path: path}.Key()]
	return r, ok
}

// Actions returns the sorted distinct actions configured for kind.
func (t *Table) Actions(kind string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, r := range t.rules {
		if r.Kind == kind {
			seen[r.Action] = struct{}{}
		}
	}
	actions := make([]string, 0, len(seen))
	for action := range seen {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return actions
}

// Loader returns a resource loader resolving requests through the table.
// Routes without a rule are rejected.
func (t *Table) Loader() gincerbos.ResourceLoader {
	return func(c *gin.Context) (*cerbos.Resource, string, error) {
		rule, ok := t.Lookup(c.Request.Method, c.FullPath())
		if !ok {
			return nil, "", fmt.Errorf("no authorization rule for %s %s", c.Request.Method, c.FullPath())
		}

		id := CollectionID
		if rule.IDParam != "" {
			id = c.Param(rule.IDParam)
		}
		return cerbos.NewResource(rule.Kind, id), rule.Action, nil
	}
}
