// Package chainerr classifies errors raised anywhere in the attestation
// and relay pipeline into the kinds described in the error handling
// design: Configuration, Transport, ChainProtocol, Canonicalization,
// Signing, Duplicate, Destination. Every error that crosses a package
// boundary in this module SHOULD be wrapped in a *Error so callers can
// branch on Kind without string-matching messages.
package chainerr

import "fmt"

// Kind is the error taxonomy from the error handling design.
type Kind string

const (
	// Configuration errors are missing or invalid settings, surfaced at
	// startup. Always fatal.
	Configuration Kind = "configuration"

	// Transport errors are RPC, HTTP, or WebSocket I/O failures. Retried
	// with backoff; surfaced as status degradation if persistent.
	Transport Kind = "transport"

	// ChainProtocol errors are malformed on-chain events or unexpected
	// encodings. The offending event is skipped, not retried.
	ChainProtocol Kind = "chain_protocol"

	// Canonicalization errors mean two sightings of the same MessageId
	// produced different message bytes. Fatal for the request path,
	// alarm-worthy: it indicates a canonicalization bug.
	Canonicalization Kind = "canonicalization"

	// Signing errors are key misconfiguration or self-verification
	// failure. Fatal to the attester process.
	Signing Kind = "signing"

	// Duplicate errors are recoverable: a known (message_id, attester_id)
	// pair was seen again.
	Duplicate Kind = "duplicate"

	// Destination errors come from the destination chain rejecting or
	// failing a submission. See DestinationClass for the sub-kind.
	Destination Kind = "destination"
)

// DestinationClass further classifies a Destination error.
type DestinationClass string

const (
	// AlreadyRelayed is expected and success-equivalent: another replica
	// or a prior attempt already landed the same message_id.
	AlreadyRelayed DestinationClass = "already_relayed"
	// Retryable destination errors are gas, nonce, or transient chain
	// issues.
	Retryable DestinationClass = "retryable"
	// Permanent destination errors are invalid signature bundles or
	// other un-retryable rejections.
	Permanent DestinationClass = "permanent"
)

// Error is the classified error type used across the module.
type Error struct {
	Kind    Kind
	DestCls DestinationClass // only meaningful when Kind == Destination
	Op      string           // operation that failed, e.g. "store.ensure"
	Cause   error
}

func (e *Error) Error() string {
	if e.DestCls != "" {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.DestCls, e.Op, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New wraps cause as a classified error for op.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// NewDestination wraps a destination-chain submission error with its
// sub-classification.
func NewDestination(cls DestinationClass, op string, cause error) *Error {
	return &Error{Kind: Destination, DestCls: cls, Op: op, Cause: cause}
}

// Is reports whether err is a classified error of the given kind.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*Error)
	return ok && ce.Kind == kind
}

// IsDestinationClass reports whether err is a Destination error of the
// given sub-class.
func IsDestinationClass(err error, cls DestinationClass) bool {
	ce, ok := err.(*Error)
	return ok && ce.Kind == Destination && ce.DestCls == cls
}
