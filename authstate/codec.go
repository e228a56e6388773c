// Package authstate defines the persisted authentication record and the
// codec that guards its schema.
//
// The codec never panics on malformed input: Decode returns an
// [InvalidError] classifying the failure, in judgment order parse →
// version → shape, and the caller (the atomic slot store) purges the
// record. Encode refuses incomplete records so a partial blob can never
// be produced.
package authstate

import (
	"encoding/json"
	"fmt"
)

// Reason classifies why a raw slot value failed to decode.
type Reason uint8

const (
	// ReasonParse means the raw value is not well-formed JSON.
	ReasonParse Reason = iota
	// ReasonVersion means the version tag is absent, including documents
	// that are not objects at all, or not the current SchemaVersion.
	ReasonVersion
	// ReasonSchema means the value parsed and the version matched, but a
	// required field is missing or of the wrong shape.
	ReasonSchema
)

func (r Reason) String() string {
	switch r {
	case ReasonParse:
		return "parse"
	case ReasonVersion:
		return "version"
	case ReasonSchema:
		return "schema"
	}
	return "unknown"
}

// InvalidError is the judgment Decode returns for a malformed record.
type InvalidError struct {
	Reason Reason
	Err    error
}

func (e *InvalidError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid auth state (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid auth state (%s)", e.Reason)
}

func (e *InvalidError) Unwrap() error {
	return e.Err
}

// Encode serializes s to the single JSON blob stored in the auth slot.
// It fails with ErrIncompleteState or ErrNonMonotonicExpiry before any
// serialization happens if s violates the record invariants.
func Encode(s *AuthState) ([]byte, error) {
	if err := Validate(s); err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

// Decode judges raw and returns the decoded record, or an *InvalidError
// describing why the record must be purged. It never panics.
func Decode(raw []byte) (*AuthState, error) {
	if !json.Valid(raw) {
		return nil, &InvalidError{Reason: ReasonParse}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		// well-formed JSON but not an object, so no version tag to judge
		return nil, &InvalidError{Reason: ReasonVersion, Err: err}
	}

	rawVersion, ok := fields["version"]
	if !ok {
		return nil, &InvalidError{Reason: ReasonVersion}
	}
	var version string
	if err := json.Unmarshal(rawVersion, &version); err != nil || version != SchemaVersion {
		return nil, &InvalidError{Reason: ReasonVersion}
	}

	s := new(AuthState)
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, &InvalidError{Reason: ReasonSchema, Err: err}
	}
	if err := Validate(s); err != nil {
		return nil, &InvalidError{Reason: ReasonSchema, Err: err}
	}
	return s, nil
}
