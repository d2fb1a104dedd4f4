package authflow

import (
	"errors"
	"time"
)

// Config groups all engine tuning parameters. Instances are configured
// during initialization and treated as immutable afterwards.
type Config struct {
	Flow      FlowConfig
	Retry     RetryConfig
	Challenge ChallengeConfig
	Bridge    BridgeConfig
	Exchange  ExchangeConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

// FlowConfig controls navigation targets and retry pacing.
type FlowConfig struct {
	// SignInPath is the entry point users are sent back to on terminal
	// failure. No failure leaves the user on a dead-end screen.
	SignInPath string
	// HomePath is the standard in-app destination after authentication.
	HomePath string
	// RetryBackoff is the constant delay before a transient failure is
	// reprocessed. Deliberately not exponential: it exists to absorb
	// double-invocation of callback handlers, not to pace a backend.
	RetryBackoff time.Duration
}

// RetryConfig controls the per-provider retry ledger.
type RetryConfig struct {
	// MaxRetries caps consecutive failures per provider. Increments beyond
	// the cap are no-ops that keep the counter exhausted.
	MaxRetries int
	// CounterTTL bounds counter lifetime; counters are session-scoped, not
	// durable bookkeeping.
	CounterTTL  time.Duration
	RedisPrefix string
}

// ChallengeConfig controls pending multi-factor challenge records.
type ChallengeConfig struct {
	TTL         time.Duration
	MaxAttempts int
	RedisPrefix string
}

// BridgeConfig controls the embedded-host bridge.
type BridgeConfig struct {
	// CustomScheme is the last-resort redirect target (e.g. "walletapp://auth")
	// tried when every host channel declines delivery. Ignored unless an
	// embedded host was actually detected.
	CustomScheme string
}

// ExchangeConfig controls authorization-code exchange.
type ExchangeConfig struct {
	// RedirectURI is passed through to the gateway's exchange operation.
	RedirectURI string
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds audit events under backpressure instead of blocking
	// the dispatching flow. Dropped counts are observable via
	// [Engine.AuditDropped].
	DropIfFull bool
}

// MetricsConfig controls in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Flow: FlowConfig{
			SignInPath:   "/signin",
			HomePath:     "/",
			RetryBackoff: 500 * time.Millisecond,
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			CounterTTL:  30 * time.Minute,
			RedisPrefix: "afr",
		},
		Challenge: ChallengeConfig{
			TTL:         3 * time.Minute,
			MaxAttempts: 3,
			RedisPrefix: "afc",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func validateConfig(cfg Config) error {
	if cfg.Flow.SignInPath == "" {
		return errors.New("authflow: Flow.SignInPath must be set")
	}
	if cfg.Flow.HomePath == "" {
		return errors.New("authflow: Flow.HomePath must be set")
	}
	if cfg.Flow.RetryBackoff <= 0 {
		return errors.New("authflow: Flow.RetryBackoff must be positive")
	}
	if cfg.Retry.MaxRetries < 1 {
		return errors.New("authflow: Retry.MaxRetries must be at least 1")
	}
	if cfg.Retry.CounterTTL <= 0 {
		return errors.New("authflow: Retry.CounterTTL must be positive")
	}
	if cfg.Challenge.TTL <= 0 {
		return errors.New("authflow: Challenge.TTL must be positive")
	}
	if cfg.Challenge.MaxAttempts < 1 {
		return errors.New("authflow: Challenge.MaxAttempts must be at least 1")
	}
	if cfg.Audit.Enabled && cfg.Audit.BufferSize < 0 {
		return errors.New("authflow: Audit.BufferSize must not be negative")
	}
	return nil
}
