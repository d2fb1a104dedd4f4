package authflow

import "errors"

var (
	// ErrEngineNotReady is returned by [Builder.Build] when a required
	// dependency (Redis client, session gateway) was not provided.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrFlowClosed is returned when an event is dispatched to a flow whose
	// hosting surface has navigated away. Late completions are ignored.
	ErrFlowClosed = errors.New("flow closed")
	// ErrFlowHandled is returned when a distinct event reaches a flow that
	// already produced a terminal instruction.
	ErrFlowHandled = errors.New("flow already reached a terminal state")
	// ErrChallengeNotPending is returned when a challenge confirmation is
	// dispatched outside the ChallengePending state.
	ErrChallengeNotPending = errors.New("no challenge pending")
	// ErrChallengeInvalid is returned for a challenge record that does not
	// exist or no longer matches the flow.
	ErrChallengeInvalid = errors.New("challenge invalid")
	// ErrChallengeExpired is returned when the pending challenge outlived
	// its TTL before confirmation.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrChallengeAttemptsExceeded is returned when confirmation failures
	// reached the configured cap.
	ErrChallengeAttemptsExceeded = errors.New("challenge attempts exceeded")
	// ErrChallengeUnavailable is returned when the challenge backend cannot
	// be reached.
	ErrChallengeUnavailable = errors.New("challenge backend unavailable")
	// ErrRetryUnavailable is returned when the retry-counter backend cannot
	// be reached.
	ErrRetryUnavailable = errors.New("retry ledger backend unavailable")
	// ErrTokenUnavailable is returned when the durable token slot cannot be
	// reached.
	ErrTokenUnavailable = errors.New("token slot backend unavailable")
	// ErrGatewayUnsupported is returned by partial gateway adapters for
	// operations they do not implement.
	ErrGatewayUnsupported = errors.New("gateway operation not supported")
)
