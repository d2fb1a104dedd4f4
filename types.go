package authflow

import (
	"net/url"
	"time"
)

// CallbackKind tags a [CallbackResult] variant.
type CallbackKind uint8

const (
	// CallbackUnrecognized marks a malformed or absent payload.
	CallbackUnrecognized CallbackKind = iota
	// CallbackSuccess carries a token; ChallengeMethods is empty if and only
	// if no further multi-factor step is required.
	CallbackSuccess
	// CallbackChallengeRequired marks an authenticated account whose
	// multi-factor step is not yet satisfied.
	CallbackChallengeRequired
	// CallbackExchange carries a code/state pair that still requires a token
	// exchange through the gateway; it is not parsed further by the parser.
	CallbackExchange
	// CallbackError carries a provider or transport error.
	CallbackError
)

// CallbackResult is the structured translation of a raw provider callback.
// It is produced once per callback event and consumed exactly once by the
// flow that receives it.
type CallbackResult struct {
	Kind CallbackKind

	Token string
	Email string
	// ChallengeMethods is ordered by display priority, not security
	// strength. Duplicates are preserved as received.
	ChallengeMethods []string

	AuthCode string
	State    string

	ErrorCode         string
	Message           string
	SuggestedProvider string
	// Transient marks errors worth retrying (transport faults). Provider
	// mismatches and malformed payloads are never transient.
	Transient bool
}

// FlowState is the lifecycle state of a [Flow].
type FlowState uint8

const (
	// StateIdle is the initial state, also re-entered while a retry of a
	// transient failure is pending.
	StateIdle FlowState = iota
	// StateProcessing covers an in-flight callback evaluation or gateway
	// call. Being in Processing prevents a second concurrent event from
	// re-entering token exchange.
	StateProcessing
	// StateChallengePending holds the multi-factor sub-flow. The pending
	// token lives in the challenge record, never in the TokenStore.
	StateChallengePending
	// StateAuthenticated is terminal: the session token is persisted and a
	// navigation instruction was issued.
	StateAuthenticated
	// StateMobileHandoff is terminal: an embedded host accepted the result
	// and no further in-app navigation occurs.
	StateMobileHandoff
	// StateFailed is terminal: retries are exhausted or the failure is not
	// retryable.
	StateFailed
)

// String implements fmt.Stringer for log and audit output.
func (s FlowState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateChallengePending:
		return "challenge_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateMobileHandoff:
		return "mobile_handoff"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventKind tags an [Event] delivered to [Flow.Dispatch].
type EventKind uint8

const (
	// EventCallback delivers provider-callback data (query parameters
	// and/or a delimited payload string).
	EventCallback EventKind = iota
	// EventSignIn delivers an explicit sign-in submission.
	EventSignIn
	// EventChallenge delivers a multi-factor confirmation code.
	EventChallenge
	// EventRetry re-delivers the event whose transient failure scheduled a
	// retry. Ignored when a newer event preempted the pending retry.
	EventRetry
)

// Event is the single input type of the flow state machine.
type Event struct {
	Kind     EventKind
	Provider string

	// Callback surface: redirect query parameters plus an optional
	// delimited payload.
	Query   url.Values
	Payload string

	// Props surface: the server-rendered type/dataType/data triple. When
	// PropsType is set it takes precedence over Query/Payload.
	PropsType     string
	PropsDataType string
	PropsData     string

	// Sign-in surface.
	Email    string
	Password string

	// Challenge surface. An event carrying a Method but no Code selects
	// the method and requests delivery or setup; Phone is forwarded for
	// methods that need a destination.
	Method string
	Code   string
	Phone  string

	// Fingerprint identifies the event for terminal-state idempotence and
	// retry preemption. Derived from the event content when empty.
	Fingerprint string
}

// InstructionKind tags an [Instruction].
type InstructionKind uint8

const (
	// InstructNone means no action; emitted when a retry was preempted.
	InstructNone InstructionKind = iota
	// InstructNavigate sends the user to Path, with Reason set on failures.
	InstructNavigate
	// InstructRetryAfter asks the caller to re-dispatch an EventRetry after
	// the constant Delay.
	InstructRetryAfter
	// InstructPromptChallenge asks the caller to collect a multi-factor
	// code for one of Methods.
	InstructPromptChallenge
	// InstructComplete marks successful authentication with standard
	// in-app navigation to Path.
	InstructComplete
	// InstructHandoff marks delivery to an embedded host; the page is done.
	InstructHandoff
)

// Instruction is the flow's side-effect output: what the hosting surface
// should do next. Ledger and token mutations always complete before an
// instruction is returned, so a reload immediately after acting on it
// observes consistent state.
type Instruction struct {
	Kind    InstructionKind
	Path    string
	Delay   time.Duration
	Email   string
	Methods []string
	// Setup carries a provisioning payload for a method that still needs
	// configuration (e.g. an authenticator enrollment blob). Not a failure.
	Setup  string
	Reason string
	// SuggestedProvider names the correct provider after a mismatch.
	SuggestedProvider string
	RetriesRemaining  int
}

// RetryState is the observable state of one provider's retry counter.
type RetryState struct {
	Provider  string
	Attempts  int
	Exhausted bool
}

// HandoffResult is the payload forwarded to an embedded host on terminal
// success.
type HandoffResult struct {
	Token    string
	Email    string
	Provider string
}
