package authflow

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// Engine is the root object of the library. It owns the shared backing
// services, token store, retry ledger, pending challenge records, the
// embedded-host bridge, audit dispatch and metrics, and mints [Flow]
// instances that run individual authentication attempts against them.
//
// An Engine is safe for concurrent use. Construct one per process via
// [Builder.Build] and share it.
type Engine struct {
	config     Config
	gateway    SessionGateway
	tokens     *TokenStore
	ledger     *RetryLedger
	challenges *challengeStore
	bridge     *HostBridge
	audit      *auditDispatcher
	metrics    *Metrics
}

// NewFlow starts a fresh authentication flow targeting the given provider.
// The returned flow is independent of any other flow; only the ledger,
// token store and challenge records are shared through the engine.
func (e *Engine) NewFlow(provider string) *Flow {
	return newFlow(e, provider)
}

// Tokens exposes the engine's session token store.
func (e *Engine) Tokens() *TokenStore {
	return e.tokens
}

// Ledger exposes the engine's retry ledger.
func (e *Engine) Ledger() *RetryLedger {
	return e.ledger
}

// Logout clears the current session token from both the in-memory and
// durable slots. It does not touch retry counters or pending challenges.
func (e *Engine) Logout(ctx context.Context) error {
	if err := e.tokens.Clear(ctx); err != nil {
		return err
	}
	e.metricInc(MetricTokenCleared)
	e.emitAudit(ctx, auditEventLogout, true, "", "", "", nil, nil)
	return nil
}

// MetricsSnapshot returns a point-in-time copy of the engine's metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped reports the number of audit events shed under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Close drains and stops the audit dispatcher. The engine must not be used
// after Close returns.
func (e *Engine) Close() error {
	if e.audit != nil {
		e.audit.Close()
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	e.metrics.Observe(id, d)
}

// emitAudit constructs and dispatches one audit event. metadataFn, when
// non-nil, is only invoked if auditing is active so callers can defer map
// allocation.
func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, flowID, provider, email string, cause error, metadataFn func() map[string]string) {
	if e.audit == nil {
		return
	}

	ev := AuditEvent{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		FlowID:    flowID,
		Provider:  provider,
		Email:     email,
		IP:        clientIPFromContext(ctx),
		Success:   success,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	if metadataFn != nil {
		ev.Metadata = metadataFn()
	}

	e.audit.Emit(ctx, ev)
}

func (e *Engine) warn(format string, args ...any) {
	log.Printf("authflow: "+format, args...)
}
