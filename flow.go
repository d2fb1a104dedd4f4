package authflow

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/arnevik/authflow/internal"
)

// Flow runs a single authentication attempt as a state machine. Every
// external input arrives through [Flow.Dispatch]; the flow responds with
// one [Instruction] telling the hosting surface what to do next.
//
// A Flow serializes its own dispatches with a mutex, so a callback handler
// invoked twice concurrently cannot run the token exchange twice. Shared
// state (token store, retry ledger, challenge records) lives on the Engine.
type Flow struct {
	engine   *Engine
	id       string
	provider string

	mu              sync.Mutex
	state           FlowState
	email           string
	methods         []string
	challengeID     string
	pendingEvent    *Event
	lastInstruction Instruction
	processedFP     string
	closed          bool
}

func newFlow(e *Engine, provider string) *Flow {
	id, err := internal.NewFlowID()
	if err != nil {
		e.warn("flow id generation degraded: %v", err)
	}
	return &Flow{
		engine:   e,
		id:       id.String(),
		provider: provider,
		state:    StateIdle,
	}
}

// ID returns the flow's identifier, used in audit events.
func (f *Flow) ID() string {
	return f.id
}

// Provider returns the OAuth provider this flow targets.
func (f *Flow) Provider() string {
	return f.provider
}

// State returns the current lifecycle state.
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Close marks the flow abandoned: the hosting surface navigated away and no
// further events should act. Pending retries are discarded. Dispatching to
// a closed flow returns [ErrFlowClosed].
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.pendingEvent = nil
}

// Dispatch feeds one event into the state machine and returns the
// resulting instruction.
//
// Once the flow reached a terminal state, re-dispatching the same event
// (or any retry) returns the recorded terminal instruction without
// touching the gateway or any store; a distinct event additionally returns
// [ErrFlowHandled]. This makes callback handlers safe to invoke twice.
func (f *Flow) Dispatch(ctx context.Context, event Event) (Instruction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return Instruction{}, ErrFlowClosed
	}

	fp := event.Fingerprint
	if fp == "" {
		fp = fingerprintEvent(event)
	}

	if f.terminal() {
		if fp == f.processedFP || event.Kind == EventRetry {
			return f.lastInstruction, nil
		}
		return f.lastInstruction, ErrFlowHandled
	}

	start := time.Now()
	defer func() {
		f.engine.metricObserve(MetricDispatchLatency, time.Since(start))
	}()

	switch event.Kind {
	case EventCallback:
		f.pendingEvent = nil
		return f.processCallback(ctx, event, fp)
	case EventSignIn:
		f.pendingEvent = nil
		return f.processSignIn(ctx, event, fp)
	case EventChallenge:
		return f.processChallenge(ctx, event, fp)
	case EventRetry:
		if f.pendingEvent == nil {
			// A newer event preempted the scheduled retry.
			return Instruction{Kind: InstructNone}, nil
		}
		replay := *f.pendingEvent
		f.pendingEvent = nil
		if replay.Kind == EventSignIn {
			return f.processSignIn(ctx, replay, fp)
		}
		return f.processCallback(ctx, replay, fp)
	default:
		return Instruction{}, errors.New("authflow: unknown event kind")
	}
}

func (f *Flow) terminal() bool {
	switch f.state {
	case StateAuthenticated, StateMobileHandoff, StateFailed:
		return true
	default:
		return false
	}
}

func (f *Flow) processCallback(ctx context.Context, event Event, fp string) (Instruction, error) {
	f.state = StateProcessing

	var result CallbackResult
	if event.PropsType != "" {
		result = ParseProps(event.PropsType, event.PropsDataType, event.PropsData)
	} else {
		result = ParseCallback(event.Query, event.Payload)
	}

	if result.Kind == CallbackExchange {
		f.engine.metricInc(MetricCallbackAccepted)
		f.engine.emitAudit(ctx, auditEventCallbackAccepted, true, f.id, f.provider, "", nil, nil)
		result = f.exchange(ctx, result)
	} else if result.Kind != CallbackUnrecognized {
		f.engine.metricInc(MetricCallbackAccepted)
		f.engine.emitAudit(ctx, auditEventCallbackAccepted, true, f.id, f.provider, result.Email, nil, nil)
	}

	return f.applyResult(ctx, event, result, fp)
}

// exchange swaps a code/state pair for a token through the gateway,
// translating any failure into the error variant of CallbackResult.
func (f *Flow) exchange(ctx context.Context, result CallbackResult) CallbackResult {
	exchanged, err := f.engine.gateway.ExchangeCode(
		ctx, result.AuthCode, result.State, f.engine.config.Exchange.RedirectURI,
	)
	if err != nil {
		f.engine.metricInc(MetricExchangeFailure)
		f.engine.emitAudit(ctx, auditEventExchangeFailure, false, f.id, f.provider, "", err, nil)
		return resultFromGatewayError(err)
	}

	f.engine.metricInc(MetricExchangeSuccess)
	f.engine.emitAudit(ctx, auditEventExchangeSuccess, true, f.id, f.provider, exchanged.Email, nil, nil)
	return CallbackResult{
		Kind:  CallbackSuccess,
		Token: exchanged.Token,
		Email: exchanged.Email,
	}
}

func (f *Flow) processSignIn(ctx context.Context, event Event, fp string) (Instruction, error) {
	f.state = StateProcessing

	res, err := f.engine.gateway.SignIn(ctx, event.Email, event.Password)
	if err != nil {
		f.engine.emitAudit(ctx, auditEventSignInFailure, false, f.id, f.provider, event.Email, err, nil)
		return f.applyResult(ctx, event, resultFromGatewayError(err), fp)
	}

	result := CallbackResult{
		Kind:             CallbackSuccess,
		Token:            res.Token,
		Email:            event.Email,
		ChallengeMethods: res.ChallengeMethods,
	}
	return f.applyResult(ctx, event, result, fp)
}

// applyResult turns one CallbackResult into a state transition. Every
// branch ends in exactly one of: terminal instruction, challenge prompt,
// or scheduled retry.
func (f *Flow) applyResult(ctx context.Context, event Event, result CallbackResult, fp string) (Instruction, error) {
	switch result.Kind {
	case CallbackSuccess:
		if len(result.ChallengeMethods) > 0 {
			return f.beginChallenge(ctx, result, fp)
		}
		return f.finalizeSuccess(ctx, result.Token, result.Email, fp)

	case CallbackChallengeRequired:
		return f.beginChallenge(ctx, result, fp)

	case CallbackError:
		if result.ErrorCode == ErrCodeProviderMismatch || result.SuggestedProvider != "" {
			return f.failProviderMismatch(ctx, result, fp), nil
		}
		return f.failOrRetry(ctx, event, result, fp)

	case CallbackUnrecognized:
		f.engine.metricInc(MetricCallbackMalformed)
		f.engine.emitAudit(ctx, auditEventCallbackMalformed, false, f.id, f.provider, "", nil, nil)
		// Malformed input is not retryable: replaying garbage yields
		// garbage. The failure still counts against the provider.
		if _, err := f.engine.ledger.Increment(ctx, f.provider); err != nil {
			f.engine.warn("retry ledger increment failed: %v", err)
		}
		return f.fail(ctx, "unrecognized_callback", "", fp), nil

	default:
		return f.fail(ctx, "unrecognized_callback", "", fp), nil
	}
}

// failOrRetry handles a retryable-shaped error: the ledger is always
// charged; exhaustion or a non-transient cause ends the flow, anything
// else schedules one constant-delay retry of the triggering event.
func (f *Flow) failOrRetry(ctx context.Context, event Event, result CallbackResult, fp string) (Instruction, error) {
	state, err := f.engine.ledger.Increment(ctx, f.provider)
	if err != nil {
		f.engine.warn("retry ledger increment failed: %v", err)
		// With the ledger unreachable there is no safe retry budget.
		return f.fail(ctx, result.ErrorCode, result.Message, fp), nil
	}

	if !result.Transient {
		return f.fail(ctx, result.ErrorCode, result.Message, fp), nil
	}

	if state.Exhausted {
		f.engine.metricInc(MetricRetryExhausted)
		f.engine.emitAudit(ctx, auditEventRetryExhausted, false, f.id, f.provider, "", nil, func() map[string]string {
			return map[string]string{"error_code": result.ErrorCode}
		})
		return f.fail(ctx, result.ErrorCode, result.Message, fp), nil
	}

	f.engine.metricInc(MetricRetryScheduled)
	f.engine.emitAudit(ctx, auditEventRetryScheduled, false, f.id, f.provider, "", nil, func() map[string]string {
		return map[string]string{"error_code": result.ErrorCode}
	})

	f.state = StateIdle
	replay := event
	f.pendingEvent = &replay

	return Instruction{
		Kind:             InstructRetryAfter,
		Delay:            f.engine.config.Flow.RetryBackoff,
		Reason:           messageOr(result.Message, result.ErrorCode),
		RetriesRemaining: state.remaining(f.engine.ledger.MaxRetries()),
	}, nil
}

func (f *Flow) failProviderMismatch(ctx context.Context, result CallbackResult, fp string) Instruction {
	f.engine.metricInc(MetricProviderMismatch)
	f.engine.emitAudit(ctx, auditEventProviderMismatch, false, f.id, f.provider, "", nil, func() map[string]string {
		return map[string]string{"suggested_provider": result.SuggestedProvider}
	})
	if _, err := f.engine.ledger.Increment(ctx, f.provider); err != nil {
		f.engine.warn("retry ledger increment failed: %v", err)
	}

	instruction := Instruction{
		Kind:              InstructNavigate,
		Path:              f.engine.config.Flow.SignInPath,
		Reason:            messageOr(result.Message, ErrCodeProviderMismatch),
		SuggestedProvider: result.SuggestedProvider,
	}
	f.markTerminal(StateFailed, instruction, fp)
	f.engine.emitAudit(ctx, auditEventFlowFailed, false, f.id, f.provider, "", nil, nil)
	return instruction
}

// fail ends the flow on the sign-in screen. No failure strands the user on
// a dead-end page.
func (f *Flow) fail(ctx context.Context, code, message, fp string) Instruction {
	instruction := Instruction{
		Kind:   InstructNavigate,
		Path:   f.engine.config.Flow.SignInPath,
		Reason: messageOr(message, code),
	}
	f.markTerminal(StateFailed, instruction, fp)
	f.engine.emitAudit(ctx, auditEventFlowFailed, false, f.id, f.provider, f.email, nil, func() map[string]string {
		return map[string]string{"error_code": code}
	})
	return instruction
}

// finalizeSuccess persists the session token and only then decides
// navigation. Ordering matters: a page reload racing the navigation must
// already observe the stored token.
func (f *Flow) finalizeSuccess(ctx context.Context, token, email, fp string) (Instruction, error) {
	if token == "" {
		return f.fail(ctx, "missing_token", "", fp), nil
	}

	if err := f.engine.tokens.Set(ctx, token); err != nil {
		f.engine.warn("token persistence degraded: %v", err)
		return f.fail(ctx, "token_store_unavailable", "", fp), nil
	}
	f.engine.metricInc(MetricTokenPersisted)

	if err := f.engine.ledger.Reset(ctx, f.provider); err != nil {
		f.engine.warn("retry ledger reset failed: %v", err)
	}

	f.email = email
	f.engine.metricInc(MetricFlowAuthenticated)
	f.engine.emitAudit(ctx, auditEventFlowAuthenticated, true, f.id, f.provider, email, nil, nil)

	handoff := HandoffResult{Token: token, Email: email, Provider: f.provider}
	if f.engine.bridge.Forward(ctx, handoff) {
		f.engine.metricInc(MetricHandoffForwarded)
		f.engine.emitAudit(ctx, auditEventHandoffForwarded, true, f.id, f.provider, email, nil, nil)
		instruction := Instruction{Kind: InstructHandoff, Email: email}
		f.markTerminal(StateMobileHandoff, instruction, fp)
		return instruction, nil
	}

	instruction := Instruction{
		Kind:  InstructComplete,
		Path:  f.engine.config.Flow.HomePath,
		Email: email,
	}
	f.markTerminal(StateAuthenticated, instruction, fp)
	return instruction, nil
}

// beginChallenge opens the multi-factor sub-flow. The pre-MFA token is
// parked in the challenge record; the token store stays untouched until
// confirmation succeeds.
func (f *Flow) beginChallenge(ctx context.Context, result CallbackResult, fp string) (Instruction, error) {
	id, err := internal.NewFlowID()
	if err != nil {
		return Instruction{}, err
	}
	challengeID := id.String()

	ttl := f.engine.config.Challenge.TTL
	record := &challengeRecord{
		Email:        result.Email,
		Provider:     f.provider,
		PendingToken: result.Token,
		Methods:      result.ChallengeMethods,
		ExpiresAt:    time.Now().Add(ttl).Unix(),
	}
	if err := f.engine.challenges.Save(ctx, challengeID, record, ttl); err != nil {
		f.engine.warn("challenge record save failed: %v", err)
		return Instruction{}, mapChallengeStoreError(err)
	}

	f.state = StateChallengePending
	f.email = result.Email
	f.methods = result.ChallengeMethods
	f.challengeID = challengeID

	f.engine.metricInc(MetricChallengeRequired)
	f.engine.emitAudit(ctx, auditEventChallengeRequired, true, f.id, f.provider, result.Email, nil, func() map[string]string {
		return map[string]string{"methods": joinMethods(result.ChallengeMethods)}
	})

	return Instruction{
		Kind:    InstructPromptChallenge,
		Email:   result.Email,
		Methods: result.ChallengeMethods,
	}, nil
}

func (f *Flow) processChallenge(ctx context.Context, event Event, fp string) (Instruction, error) {
	if f.state != StateChallengePending {
		return Instruction{}, ErrChallengeNotPending
	}

	// Exhausted retry budgets reject the attempt locally; the gateway is
	// never consulted for a flow that already ran out of chances.
	exhausted, err := f.engine.ledger.Exhausted(ctx, f.provider)
	if err != nil {
		return Instruction{}, err
	}
	if exhausted {
		f.engine.metricInc(MetricRetryExhausted)
		f.engine.emitAudit(ctx, auditEventRetryExhausted, false, f.id, f.provider, f.email, nil, nil)
		return f.fail(ctx, "retries_exhausted", "", fp), nil
	}

	record, err := f.engine.challenges.Get(ctx, f.challengeID)
	if err != nil {
		if errors.Is(err, errChallengeBackend) {
			return Instruction{}, mapChallengeStoreError(err)
		}
		// A challenge record that vanished mid-flow is a failed
		// authentication, never a crash.
		return f.fail(ctx, "challenge_expired", "", fp), nil
	}

	method := event.Method
	if method == "" && len(record.Methods) > 0 {
		method = record.Methods[0]
	}
	if !methodOffered(record.Methods, method) {
		return Instruction{}, ErrChallengeInvalid
	}

	if event.Code == "" {
		return f.requestChallengeSetup(ctx, record, method, event.Phone)
	}

	confirm, err := f.engine.gateway.ConfirmChallenge(ctx, record.Email, method, event.Code)
	if err != nil {
		var gwErr *GatewayError
		if !errors.As(err, &gwErr) || gwErr.Transient {
			// Transport fault, not a wrong code. No attempt is consumed
			// and the challenge stays pending.
			return Instruction{}, err
		}
		return f.failChallengeAttempt(ctx, event, record, err, fp)
	}

	return f.completeChallenge(ctx, record, confirm, fp)
}

// requestChallengeSetup asks the gateway to deliver or provision the
// selected method. A method that still needs configuration is a setup
// branch, not a failure: the prompt is re-issued with the provisioning
// payload and no attempt is consumed.
func (f *Flow) requestChallengeSetup(ctx context.Context, record *challengeRecord, method, phone string) (Instruction, error) {
	setup, err := f.engine.gateway.RequestChallenge(ctx, record.Email, method, phone)
	if err != nil {
		return Instruction{}, err
	}

	instruction := Instruction{
		Kind:    InstructPromptChallenge,
		Email:   record.Email,
		Methods: record.Methods,
	}
	if setup != nil {
		instruction.Setup = setup.SetupPayload
	}
	return instruction, nil
}

func (f *Flow) completeChallenge(ctx context.Context, record *challengeRecord, confirm *ConfirmResult, fp string) (Instruction, error) {
	deleted, err := f.engine.challenges.Delete(ctx, f.challengeID)
	if err != nil {
		f.engine.warn("challenge record delete failed: %v", err)
		deleted = true
	}

	token := record.PendingToken
	if confirm != nil && confirm.Token != "" {
		token = confirm.Token
	}

	if !deleted && (confirm == nil || confirm.Token == "") {
		// The record expired between the read and the confirmation and no
		// fresh token was issued; the parked token can no longer be
		// trusted.
		return f.fail(ctx, "challenge_expired", "", fp), nil
	}
	if token == "" {
		return f.fail(ctx, "missing_token", "", fp), nil
	}

	f.engine.metricInc(MetricChallengeSuccess)
	f.engine.emitAudit(ctx, auditEventChallengeSuccess, true, f.id, f.provider, record.Email, nil, nil)

	if err := f.engine.tokens.Set(ctx, token); err != nil {
		f.engine.warn("token persistence degraded: %v", err)
		return f.fail(ctx, "token_store_unavailable", "", fp), nil
	}
	f.engine.metricInc(MetricTokenPersisted)

	if err := f.engine.ledger.Reset(ctx, f.provider); err != nil {
		f.engine.warn("retry ledger reset failed: %v", err)
	}

	f.email = record.Email
	f.engine.metricInc(MetricFlowAuthenticated)
	f.engine.emitAudit(ctx, auditEventFlowAuthenticated, true, f.id, f.provider, record.Email, nil, nil)

	instruction := Instruction{
		Kind:  InstructComplete,
		Path:  f.engine.config.Flow.HomePath,
		Email: record.Email,
	}
	f.markTerminal(StateAuthenticated, instruction, fp)
	return instruction, nil
}

func (f *Flow) failChallengeAttempt(ctx context.Context, event Event, record *challengeRecord, cause error, fp string) (Instruction, error) {
	f.engine.metricInc(MetricChallengeFailure)
	f.engine.emitAudit(ctx, auditEventChallengeFailure, false, f.id, f.provider, record.Email, cause, nil)

	exceeded, err := f.engine.challenges.RecordFailure(
		ctx, f.challengeID, f.engine.config.Challenge.MaxAttempts,
	)
	if err != nil {
		if errors.Is(err, errChallengeBackend) {
			return Instruction{}, mapChallengeStoreError(err)
		}
		return f.fail(ctx, "challenge_expired", "", fp), nil
	}

	state, lerr := f.engine.ledger.Increment(ctx, f.provider)
	if lerr != nil {
		f.engine.warn("retry ledger increment failed: %v", lerr)
	}

	if exceeded {
		f.engine.metricInc(MetricChallengeExceeded)
		f.engine.emitAudit(ctx, auditEventChallengeExceeded, false, f.id, f.provider, record.Email, nil, nil)
		return f.fail(ctx, "challenge_attempts_exceeded", "", fp), nil
	}
	if lerr == nil && state.Exhausted {
		f.engine.metricInc(MetricRetryExhausted)
		f.engine.emitAudit(ctx, auditEventRetryExhausted, false, f.id, f.provider, record.Email, nil, nil)
		return f.fail(ctx, "retries_exhausted", "", fp), nil
	}

	return Instruction{
		Kind:             InstructPromptChallenge,
		Email:            record.Email,
		Methods:          record.Methods,
		Reason:           "challenge_failed",
		RetriesRemaining: state.remaining(f.engine.ledger.MaxRetries()),
	}, nil
}

func (f *Flow) markTerminal(state FlowState, instruction Instruction, fp string) {
	f.state = state
	f.lastInstruction = instruction
	f.processedFP = fp
	f.pendingEvent = nil
}

// fingerprintEvent derives a stable identifier from the event content, used
// for terminal-state idempotence.
func fingerprintEvent(event Event) string {
	h := sha256.New()
	h.Write([]byte{byte(event.Kind)})
	for _, part := range []string{
		event.Provider,
		event.Query.Encode(),
		event.Payload,
		event.PropsType,
		event.PropsDataType,
		event.PropsData,
		event.Email,
		event.Method,
		event.Code,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}

func methodOffered(methods []string, method string) bool {
	if method == "" {
		return false
	}
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}

func joinMethods(methods []string) string {
	return strings.Join(methods, ",")
}
