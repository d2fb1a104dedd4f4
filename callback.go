package authflow

import (
	"net/url"
	"strings"
)

// ErrCodeProviderMismatch is the error code reported when the account is
// registered under a different OAuth provider than the one used.
const ErrCodeProviderMismatch = "provider_mismatch"

const providerMismatchType = "PROVIDER_MISMATCH"

// ParseCallback translates a raw provider callback into exactly one
// [CallbackResult]. The input is either URL query parameters on the
// redirect path, a percent-encoded payload string of the form
// "email*method1*method2...", or both (token in the query, challenge
// payload alongside).
//
// The function is pure and deterministic: identical input always yields an
// identical result, and it performs no side effects.
func ParseCallback(query url.Values, payload string) CallbackResult {
	if len(query) > 0 {
		if errParam := query.Get("error"); errParam != "" {
			if query.Get("type") == providerMismatchType {
				return CallbackResult{
					Kind:              CallbackError,
					ErrorCode:         errParam,
					Message:           query.Get("message"),
					SuggestedProvider: query.Get("provider"),
				}
			}
			return CallbackResult{
				Kind:      CallbackError,
				ErrorCode: errParam,
				Message:   messageOr(query.Get("message"), errParam),
				Transient: true,
			}
		}
		if code := query.Get("code"); code != "" {
			return CallbackResult{
				Kind:     CallbackExchange,
				AuthCode: code,
				State:    query.Get("state"),
			}
		}
		if token := query.Get("token"); token != "" {
			email, methods, ok := splitChallengePayload(payload)
			if payload != "" && !ok {
				return CallbackResult{Kind: CallbackUnrecognized}
			}
			return CallbackResult{
				Kind:             CallbackSuccess,
				Token:            token,
				Email:            email,
				ChallengeMethods: methods,
			}
		}
	}

	if payload != "" {
		email, methods, ok := splitChallengePayload(payload)
		if !ok || email == "" {
			return CallbackResult{Kind: CallbackUnrecognized}
		}
		if len(methods) == 0 {
			// An email with no token and no methods carries nothing
			// actionable.
			return CallbackResult{Kind: CallbackUnrecognized}
		}
		return CallbackResult{
			Kind:             CallbackSuccess,
			Email:            email,
			ChallengeMethods: methods,
		}
	}

	return CallbackResult{Kind: CallbackUnrecognized}
}

// ParseProps translates the server-rendered redirect surface, where the
// payload arrives pre-split into a type/dataType/data triple, into a
// [CallbackResult]. Recognized shapes:
//
//	("success", "token", <token>)      -> Success
//	("success", "challenge", <email*m1*m2>) -> ChallengeRequired
//	("mismatch", <provider>, <message>)     -> provider-mismatch Error
//	("error", <code>, <message>)            -> generic Error
//
// Anything else is Unrecognized.
func ParseProps(typ, dataType, data string) CallbackResult {
	switch typ {
	case "success":
		switch dataType {
		case "token":
			if data == "" {
				return CallbackResult{Kind: CallbackUnrecognized}
			}
			return CallbackResult{Kind: CallbackSuccess, Token: data}
		case "challenge":
			email, methods, ok := splitChallengePayload(data)
			if !ok || email == "" || len(methods) == 0 {
				return CallbackResult{Kind: CallbackUnrecognized}
			}
			return CallbackResult{
				Kind:             CallbackChallengeRequired,
				Email:            email,
				ChallengeMethods: methods,
			}
		}
		return CallbackResult{Kind: CallbackUnrecognized}
	case "mismatch":
		return CallbackResult{
			Kind:              CallbackError,
			ErrorCode:         ErrCodeProviderMismatch,
			Message:           data,
			SuggestedProvider: dataType,
		}
	case "error":
		return CallbackResult{
			Kind:      CallbackError,
			ErrorCode: messageOr(dataType, "auth_failed"),
			Message:   data,
			Transient: true,
		}
	default:
		return CallbackResult{Kind: CallbackUnrecognized}
	}
}

// EncodeChallengePayload builds the delimited payload recovered by
// [ParseCallback]: percent-encoded "email*method1*method2...". The email
// must not contain the delimiter and methods must be non-empty strings.
func EncodeChallengePayload(email string, methods []string) string {
	parts := make([]string, 0, len(methods)+1)
	parts = append(parts, email)
	parts = append(parts, methods...)
	return url.QueryEscape(strings.Join(parts, "*"))
}

// splitChallengePayload percent-decodes the payload and splits it on "*".
// The first segment is the email; remaining non-empty segments are
// challenge methods, order-preserving and with duplicates kept.
func splitChallengePayload(payload string) (email string, methods []string, ok bool) {
	if payload == "" {
		return "", nil, true
	}
	decoded, err := url.QueryUnescape(payload)
	if err != nil {
		return "", nil, false
	}
	segments := strings.Split(decoded, "*")
	email = segments[0]
	for _, seg := range segments[1:] {
		if seg != "" {
			methods = append(methods, seg)
		}
	}
	return email, methods, true
}

func messageOr(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
