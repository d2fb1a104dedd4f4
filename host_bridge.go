package authflow

import (
	"context"
	"net/url"
)

// HostChannel is one embedded-host integration point: a mechanism through
// which an embedding mobile app receives the terminal authentication
// result instead of the page navigating in-app.
//
// Available must check explicit embedded-webview markers only. A generic
// mobile user-agent string is never sufficient: an ordinary mobile browser
// must continue standard navigation, and misclassifying it would strand the
// user on a page waiting for a host that does not exist.
type HostChannel interface {
	Name() string
	Available(ctx context.Context) bool
	// Deliver hands the result to the host. Returns whether the host
	// accepted it; a false return falls through to the next channel.
	Deliver(ctx context.Context, result HandoffResult) bool
}

// SchemeRedirector performs the last-resort custom-scheme redirect (a
// full-page navigation, terminal for the current page).
type SchemeRedirector func(ctx context.Context, target string) error

// HostBridge decides between in-app navigation and embedded-host handoff.
// Channels are tried in the fixed order they were registered; the custom
// scheme is the final fallback and only fires when an embedded host was
// actually detected.
type HostBridge struct {
	channels []HostChannel
	scheme   string
	redirect SchemeRedirector
}

// NewHostBridge creates a bridge over the given channels. scheme and
// redirect may be empty/nil when no custom-scheme fallback is configured.
func NewHostBridge(channels []HostChannel, scheme string, redirect SchemeRedirector) *HostBridge {
	return &HostBridge{channels: channels, scheme: scheme, redirect: redirect}
}

// Detect reports whether any embedded-host channel is available in the
// current environment.
func (b *HostBridge) Detect(ctx context.Context) bool {
	if b == nil {
		return false
	}
	for _, ch := range b.channels {
		if ch.Available(ctx) {
			return true
		}
	}
	return false
}

// Forward attempts delivery to the embedded host: each available channel in
// priority order, then the custom scheme. Returns whether the result was
// handed off; false means the caller falls back to standard in-app
// navigation.
func (b *HostBridge) Forward(ctx context.Context, result HandoffResult) bool {
	if b == nil {
		return false
	}
	detected := false
	for _, ch := range b.channels {
		if !ch.Available(ctx) {
			continue
		}
		detected = true
		if ch.Deliver(ctx, result) {
			return true
		}
	}
	if detected && b.scheme != "" && b.redirect != nil {
		if err := b.redirect(ctx, b.schemeTarget(result)); err == nil {
			return true
		}
	}
	return false
}

func (b *HostBridge) schemeTarget(result HandoffResult) string {
	values := url.Values{}
	values.Set("token", result.Token)
	if result.Email != "" {
		values.Set("email", result.Email)
	}
	if result.Provider != "" {
		values.Set("provider", result.Provider)
	}
	return b.scheme + "?" + values.Encode()
}

// MarkerChannel is a [HostChannel] matching against the host signal carried
// in the context (see [WithHostSignal]). It models host integrations whose
// presence is announced by an injected environment marker.
type MarkerChannel struct {
	// Marker is the signal name this channel responds to.
	Marker string
	// Send delivers the payload to the host object; a nil Send declines
	// every delivery.
	Send func(ctx context.Context, result HandoffResult) bool
}

// Name returns the marker name.
func (c *MarkerChannel) Name() string {
	return c.Marker
}

// Available reports whether this channel's marker is present.
func (c *MarkerChannel) Available(ctx context.Context) bool {
	if c.Marker == "" {
		return false
	}
	for _, signal := range hostSignalsFromContext(ctx) {
		if signal == c.Marker {
			return true
		}
	}
	return false
}

// Deliver invokes Send when configured.
func (c *MarkerChannel) Deliver(ctx context.Context, result HandoffResult) bool {
	if c.Send == nil {
		return false
	}
	return c.Send(ctx, result)
}
