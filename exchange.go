package authflow

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// OAuth2Gateway overrides the ExchangeCode operation of a wrapped
// [SessionGateway] with a direct authorization-code exchange against the
// provider's token endpoint. The remaining operations delegate to the
// wrapped gateway; a nil wrapped gateway rejects them with
// [ErrGatewayUnsupported].
type OAuth2Gateway struct {
	conf *oauth2.Config
	rest SessionGateway
}

// NewOAuth2Gateway creates the adapter. conf must carry the provider's
// endpoint and client credentials.
func NewOAuth2Gateway(conf *oauth2.Config, rest SessionGateway) *OAuth2Gateway {
	return &OAuth2Gateway{conf: conf, rest: rest}
}

// SignIn delegates to the wrapped gateway.
func (g *OAuth2Gateway) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	if g.rest == nil {
		return nil, ErrGatewayUnsupported
	}
	return g.rest.SignIn(ctx, email, password)
}

// RequestChallenge delegates to the wrapped gateway.
func (g *OAuth2Gateway) RequestChallenge(ctx context.Context, email, method, phone string) (*ChallengeSetup, error) {
	if g.rest == nil {
		return nil, ErrGatewayUnsupported
	}
	return g.rest.RequestChallenge(ctx, email, method, phone)
}

// ConfirmChallenge delegates to the wrapped gateway.
func (g *OAuth2Gateway) ConfirmChallenge(ctx context.Context, email, method, code string) (*ConfirmResult, error) {
	if g.rest == nil {
		return nil, ErrGatewayUnsupported
	}
	return g.rest.ConfirmChallenge(ctx, email, method, code)
}

// ExchangeCode swaps the authorization code for tokens at the provider's
// token endpoint. The account email is recovered from the id_token extra
// when present. Exchange failures are transient: the token endpoint is a
// plain HTTPS round-trip and worth retrying.
func (g *OAuth2Gateway) ExchangeCode(ctx context.Context, code, state, redirectURI string) (*ExchangeResult, error) {
	conf := *g.conf
	if redirectURI != "" {
		conf.RedirectURL = redirectURI
	}

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, &GatewayError{
			Code:      "exchange_failed",
			Message:   "token exchange failed",
			Transient: true,
			Err:       err,
		}
	}

	email := ""
	if raw, ok := token.Extra("id_token").(string); ok && raw != "" {
		email = emailFromIDToken(raw)
	}
	return &ExchangeResult{Token: token.AccessToken, Email: email}, nil
}

// emailFromIDToken extracts the email claim without verifying the token
// signature. The exchange response arrived over TLS directly from the
// provider; signature verification of session tokens is out of scope for
// this process and remains the gateway's responsibility.
func emailFromIDToken(raw string) string {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return ""
	}
	email, _ := claims["email"].(string)
	return email
}
