// Package shield provides the HTTP security middleware for the report
// server: security headers, cache suppression on HTML, body limits, flash
// messages and HEAD method handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack() {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"net/http"
)

type contextKey string

// FlashKey is the context key for flash messages.
const FlashKey contextKey = "shield_flash"

// FlashMessage represents a one-time notification shown to the user.
type FlashMessage struct {
	Type    string // "success" or "error"
	Message string
}

// GetFlash retrieves the flash message from the request context.
func GetFlash(ctx context.Context) *FlashMessage {
	v, _ := ctx.Value(FlashKey).(*FlashMessage)
	return v
}

// DefaultStack returns the standard middleware stack for the report server.
// Ordered: HeadToGet → SecurityHeaders → NoStoreHTML → MaxBody → Flash.
func DefaultStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		NoStoreHTML,
		MaxBody(256 * 1024),
		Flash,
	}
}
