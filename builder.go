package authflow

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Zero value is not usable; start with [New].
//
// A Builder is single-use: Build may only be called once.
type Builder struct {
	config   Config
	redis    redis.UniversalClient
	gateway  SessionGateway
	channels []HostChannel
	redirect SchemeRedirector
	slot     DurableSlot
	sink     AuditSink
	built    bool
}

// New returns a Builder preloaded with default configuration.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the full configuration. Call it before the other
// With* methods if both are used; later calls win field by field only for
// what they set.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client backing the retry ledger, pending
// challenge records and the default durable token slot. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithGateway sets the backend session gateway. Required.
func (b *Builder) WithGateway(gw SessionGateway) *Builder {
	b.gateway = gw
	return b
}

// WithHostChannels sets the embedded-host delivery channels, in priority
// order.
func (b *Builder) WithHostChannels(channels ...HostChannel) *Builder {
	b.channels = channels
	return b
}

// WithSchemeRedirect sets the custom-scheme redirect fallback used when no
// host channel accepts delivery.
func (b *Builder) WithSchemeRedirect(fn SchemeRedirector) *Builder {
	b.redirect = fn
	return b
}

// WithDurableSlot overrides the durable token slot. Defaults to a
// Redis-backed slot on the configured client.
func (b *Builder) WithDurableSlot(slot DurableSlot) *Builder {
	b.slot = slot
	return b
}

// WithAuditSink sets the destination for audit events. Without a sink,
// audit events are discarded even when auditing is enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithMetricsEnabled toggles metric collection.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the dispatch-latency histogram. Implies
// nothing about counters.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and constructs the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("authflow: builder already used")
	}
	b.built = true

	if err := validateConfig(b.config); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrEngineNotReady)
	}
	if b.gateway == nil {
		return nil, fmt.Errorf("%w: session gateway is required", ErrEngineNotReady)
	}

	slot := b.slot
	if slot == nil {
		slot = NewRedisSlot(b.redis, "")
	}

	dispatcher := newAuditDispatcher(b.config.Audit, b.sink)

	e := &Engine{
		config:     b.config,
		gateway:    b.gateway,
		tokens:     NewTokenStore(slot),
		ledger:     NewRetryLedger(b.redis, b.config.Retry),
		challenges: newChallengeStore(b.redis, b.config.Challenge.RedisPrefix),
		bridge:     NewHostBridge(b.channels, b.config.Bridge.CustomScheme, b.redirect),
		audit:      dispatcher,
		metrics:    NewMetrics(b.config.Metrics),
	}

	return e, nil
}
