// Package internal holds identifier helpers shared by the authflow engine.
// Nothing here is part of the public API.
package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// FlowID is a 16-byte random identifier for flows and pending challenge
// records.
type FlowID [16]byte

// NewFlowID draws a fresh random identifier.
func NewFlowID() (FlowID, error) {
	var id FlowID
	_, err := rand.Read(id[:])
	return id, err
}

// String renders the identifier as unpadded base64url.
func (id FlowID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ParseFlowID decodes a rendered identifier.
func ParseFlowID(s string) (FlowID, error) {
	var id FlowID
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid flow id size")
	}
	copy(id[:], raw)
	return id, nil
}
