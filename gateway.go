package authflow

import (
	"context"
	"errors"
	"fmt"
)

// SignInResult is returned by [SessionGateway.SignIn]. A non-empty
// ChallengeMethods list means the account is authenticated but the
// multi-factor step is not yet satisfied; Token then holds the temporary
// pre-MFA token, never persisted as the session token.
type SignInResult struct {
	Status           string
	Token            string
	ChallengeMethods []string
}

// ChallengeSetup is returned by [SessionGateway.RequestChallenge] when a
// method still needs configuration (e.g. an authenticator provisioning
// payload). Not an error: it feeds a setup wizard, not a failure screen.
type ChallengeSetup struct {
	SetupPayload string
}

// ConfirmResult is returned by [SessionGateway.ConfirmChallenge]. Token is
// optional; when set it replaces the pending token held by the flow.
type ConfirmResult struct {
	Status string
	Token  string
}

// ExchangeResult is returned by [SessionGateway.ExchangeCode].
type ExchangeResult struct {
	Token string
	Email string
}

// SessionGateway is the backend the engine delegates all real
// authentication work to. authflow consumes it, never implements it: token
// exchange settlement, MFA adjudication, and credential checks happen on
// the other side of this interface.
//
// Implementations must translate their transport failures into
// [GatewayError] values so the flow can distinguish retryable faults from
// terminal ones; a raw transport error is treated as transient.
type SessionGateway interface {
	SignIn(ctx context.Context, email, password string) (*SignInResult, error)
	RequestChallenge(ctx context.Context, email, method, phone string) (*ChallengeSetup, error)
	ConfirmChallenge(ctx context.Context, email, method, code string) (*ConfirmResult, error)
	ExchangeCode(ctx context.Context, code, state, redirectURI string) (*ExchangeResult, error)
}

// GatewayError is the structured failure shape gateway implementations
// should return. The flow state machine never sees a raw transport
// exception; everything is translated into a CallbackResult-shaped failure
// before it reaches a transition.
type GatewayError struct {
	Code              string
	Message           string
	SuggestedProvider string
	Transient         bool
	Err               error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway: %s: %v", e.Code, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("gateway: %s: %s", e.Code, e.Message)
	}
	return "gateway: " + e.Code
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// resultFromGatewayError maps any gateway failure into the error variant of
// [CallbackResult]. Unstructured errors default to transient so transport
// blips stay retryable.
func resultFromGatewayError(err error) CallbackResult {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return CallbackResult{
			Kind:              CallbackError,
			ErrorCode:         gwErr.Code,
			Message:           messageOr(gwErr.Message, gwErr.Code),
			SuggestedProvider: gwErr.SuggestedProvider,
			Transient:         gwErr.Transient,
		}
	}
	return CallbackResult{
		Kind:      CallbackError,
		ErrorCode: "gateway_unavailable",
		Message:   err.Error(),
		Transient: true,
	}
}
