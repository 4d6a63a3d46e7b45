// Package expressions holds the condition-gate grammar used by the behavior
// executor and the CEL, Expr and jq engines used by local actions.
package expressions

import (
	"context"
	"sync"
)

// Engine evaluates an expression against a data map.
// CEL backs registration rules, Expr backs pricing formulas and jq backs
// field mappings.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// programCache memoizes compiled programs by source text.
// Safe for concurrent use.
type programCache[P any] struct {
	mu    sync.RWMutex
	progs map[string]P
}

func newProgramCache[P any]() *programCache[P] {
	return &programCache[P]{progs: make(map[string]P)}
}

func (c *programCache[P]) getOrCompile(expression string, compile func(string) (P, error)) (P, error) {
	c.mu.RLock()
	if p, ok := c.progs[expression]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock.
	if p, ok := c.progs[expression]; ok {
		return p, nil
	}
	p, err := compile(expression)
	if err != nil {
		return p, err
	}
	c.progs[expression] = p
	return p, nil
}

func (c *programCache[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.progs)
}
