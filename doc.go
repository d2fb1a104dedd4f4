// Package authflow drives the client side of an OAuth sign-in flow with an
// optional multi-factor step: provider callback parsing, authorization-code
// exchange, challenge confirmation, bounded retries, and session-token
// persistence.
//
// The package is the public surface. It exposes [Engine], [Builder],
// [Config], [Flow], and value types (CallbackResult, Instruction,
// RetryState, etc.). Identifier generation lives under internal/ and is
// never exported.
//
// # Architecture boundaries
//
// authflow never adjudicates credentials or verifies token signatures. All
// real authentication work (password checks, MFA code validation, code
// exchange settlement) belongs to a [SessionGateway] the caller supplies.
// The engine consumes gateway results, tracks flow state, and tells the
// caller what to do next through [Instruction] values.
//
// # What this package must NOT do
//
//   - Persist a pre-MFA (pending) token as the final session token.
//   - Issue two outstanding gateway requests for the same transition.
//   - Cryptographically verify tokens; they are opaque credentials here.
//
// # Concurrency contract
//
// Engine methods are safe for concurrent use after [Builder.Build]. A [Flow]
// serializes its own dispatches; events are processed in arrival order and a
// newly arrived callback event preempts a pending retry.
package authflow
