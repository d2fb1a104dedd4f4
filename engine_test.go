package authflow

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeGateway is a SessionGateway with pluggable behavior and call
// counters, shared by the flow and engine tests.
type fakeGateway struct {
	signIn    func(ctx context.Context, email, password string) (*SignInResult, error)
	request   func(ctx context.Context, email, method, phone string) (*ChallengeSetup, error)
	confirm   func(ctx context.Context, email, method, code string) (*ConfirmResult, error)
	exchange  func(ctx context.Context, code, state, redirectURI string) (*ExchangeResult, error)
	signIns   int
	confirms  int
	exchanges int
}

func (g *fakeGateway) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	g.signIns++
	if g.signIn == nil {
		return &SignInResult{Status: "ok", Token: "tok-signin"}, nil
	}
	return g.signIn(ctx, email, password)
}

func (g *fakeGateway) RequestChallenge(ctx context.Context, email, method, phone string) (*ChallengeSetup, error) {
	if g.request == nil {
		return &ChallengeSetup{}, nil
	}
	return g.request(ctx, email, method, phone)
}

func (g *fakeGateway) ConfirmChallenge(ctx context.Context, email, method, code string) (*ConfirmResult, error) {
	g.confirms++
	if g.confirm == nil {
		return &ConfirmResult{Status: "ok"}, nil
	}
	return g.confirm(ctx, email, method, code)
}

func (g *fakeGateway) ExchangeCode(ctx context.Context, code, state, redirectURI string) (*ExchangeResult, error) {
	g.exchanges++
	if g.exchange == nil {
		return &ExchangeResult{Token: "tok-" + code, Email: "alice@example.com"}, nil
	}
	return g.exchange(ctx, code, state, redirectURI)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, rdb
}

func newTestEngine(t *testing.T, gw SessionGateway) (*Engine, *redis.Client, func()) {
	t.Helper()
	return newTestEngineWithConfig(t, gw, defaultConfig())
}

func newTestEngineWithConfig(t *testing.T, gw SessionGateway, cfg Config) (*Engine, *redis.Client, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithGateway(gw).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	done := func() {
		_ = engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
	return engine, rdb, done
}

func TestBuilderRequiresGatewayAndRedis(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	if _, err := New().WithRedis(rdb).Build(); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady without gateway, got %v", err)
	}
	if _, err := New().WithGateway(&fakeGateway{}).Build(); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady without redis, got %v", err)
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	b := New().WithRedis(rdb).WithGateway(&fakeGateway{})
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestLogoutClearsBothSlots(t *testing.T) {
	engine, rdb, done := newTestEngine(t, &fakeGateway{})
	defer done()

	ctx := context.Background()
	if err := engine.Tokens().Set(ctx, "tok-live"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := engine.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	token, err := engine.Tokens().Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if token != "" {
		t.Fatalf("expected empty token after logout, got %q", token)
	}
	if exists := rdb.Exists(ctx, "afs:token").Val(); exists != 0 {
		t.Fatal("expected durable slot to be cleared")
	}
	if got := engine.MetricsSnapshot().Counters[MetricTokenCleared]; got != 1 {
		t.Fatalf("expected 1 token_cleared, got %d", got)
	}
}

// A token persisted through one engine must be visible to a fresh
// TokenStore over the same durable slot, modeling a page reload.
func TestTokenSurvivesReload(t *testing.T) {
	engine, rdb, done := newTestEngine(t, &fakeGateway{})
	defer done()

	ctx := context.Background()
	flow := engine.NewFlow("google")

	instruction, err := flow.Dispatch(ctx, Event{
		Kind:  EventCallback,
		Query: queryValues(t, "code=abc&state=xyz"),
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if instruction.Kind != InstructComplete {
		t.Fatalf("expected InstructComplete, got %v", instruction.Kind)
	}

	reloaded := NewTokenStore(NewRedisSlot(rdb, ""))
	token, err := reloaded.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if token != "tok-abc" {
		t.Fatalf("expected tok-abc after reload, got %q", token)
	}
}

func TestEngineAuditEventsCarryContextIP(t *testing.T) {
	sink := NewChannelSink(16)
	mr, rdb := newTestRedis(t)

	engine, err := New().
		WithRedis(rdb).
		WithGateway(&fakeGateway{}).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer func() {
		_ = engine.Close()
		_ = rdb.Close()
		mr.Close()
	}()

	ctx := WithClientIP(context.Background(), "203.0.113.9")
	if err := engine.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	_ = engine.Close()

	select {
	case event := <-sink.Events():
		if event.EventType != "logout" {
			t.Fatalf("unexpected event type %q", event.EventType)
		}
		if event.IP != "203.0.113.9" {
			t.Fatalf("expected context IP on event, got %q", event.IP)
		}
		if event.EventID == "" {
			t.Fatal("expected a generated event ID")
		}
	default:
		t.Fatal("expected a logout audit event")
	}
}
