package platform

import (
	"context"
	"sync"
)

// Grant holds permission in memory for drivers without a native permission
// API. Prompting answers with a configured response.
type Grant struct {
	mu      sync.Mutex
	current Permission
	answer  Permission
	prompts int
}

func NewGrant(initial, promptResponse Permission) *Grant {
	if initial == "" {
		initial = PermissionDefault
	}
	if promptResponse == "" {
		promptResponse = PermissionGranted
	}
	return &Grant{current: initial, answer: promptResponse}
}

func (g *Grant) Permission(ctx context.Context) (Permission, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current, nil
}

func (g *Grant) RequestPermission(ctx context.Context) (Permission, error) {
	if err := ctx.Err(); err != nil {
		return PermissionDefault, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == PermissionDenied {
		return PermissionDenied, nil
	}
	g.prompts++
	if g.answer != PermissionDefault {
		g.current = g.answer
	}
	return g.answer, nil
}

// Prompts returns how many prompts were shown.
func (g *Grant) Prompts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts
}

// Set overrides the current permission (operator action or tests).
func (g *Grant) Set(p Permission) {
	g.mu.Lock()
	g.current = p
	g.mu.Unlock()
}
