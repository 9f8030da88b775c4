package headless

import (
	"context"
	"errors"
	"net/http"
)

// ErrNotConfigured is returned by Noop.
var ErrNotConfigured = errors.New("headless renderer not configured")

// Noop renders nothing; it stands in when Chrome is disabled.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// Render always fails with ErrNotConfigured.
func (Noop) Render(_ context.Context, _ string, _ http.Header) (Page, error) {
	return Page{}, ErrNotConfigured
}
