package authflow

import "context"

type clientIPContextKey struct{}
type hostSignalContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It is recorded on
// audit events emitted by the engine.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithHostSignal attaches the name of an embedded-host marker observed in
// the runtime environment. May be called once per marker; [MarkerChannel]
// matches against the accumulated set. A generic mobile user agent is NOT a
// host signal; only explicit embedded-webview markers qualify.
func WithHostSignal(ctx context.Context, name string) context.Context {
	existing := hostSignalsFromContext(ctx)
	signals := make([]string, 0, len(existing)+1)
	signals = append(signals, existing...)
	signals = append(signals, name)
	return context.WithValue(ctx, hostSignalContextKey{}, signals)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func hostSignalsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	signals, _ := ctx.Value(hostSignalContextKey{}).([]string)
	return signals
}
