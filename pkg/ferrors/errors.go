// Package ferrors defines the error taxonomy shared by every transport
// layer of fosonet. Transport-level errors never panic and never escape
// the scheduler or client pump uncaught; callers match on them with
// errors.Is/errors.As and log+count rather than propagate.
package ferrors

import "errors"

// PacketError covers header parsing, length mismatches, AEAD tag
// failures and CRC mismatches. Always treated as a silent packet drop.
type PacketError struct {
	Reason string
	Err    error
}

func (e *PacketError) Error() string {
	if e.Err != nil {
		return "packet error: " + e.Reason + ": " + e.Err.Error()
	}
	return "packet error: " + e.Reason
}

func (e *PacketError) Unwrap() error { return e.Err }

func NewPacketError(reason string, err error) *PacketError {
	return &PacketError{Reason: reason, Err: err}
}

// ProtocolError covers a duplicate sequence or an unexpected packet type
// for the current connection state.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

func NewProtocolError(reason string) *ProtocolError {
	return &ProtocolError{Reason: reason}
}

// ErrDuplicate is the sentinel a bitfield insert raises when the seq was
// already seen. It wraps ProtocolError so callers can match either way.
var ErrDuplicate = &ProtocolError{Reason: "duplicate sequence"}

// IsDuplicate reports whether err is (or wraps) ErrDuplicate.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// ErrTooOld is returned by bitfield inserts for a sequence older than the
// tracked window; callers treat this identically to a drop.
var ErrTooOld = errors.New("sequence older than tracked window")

// SignatureInvalidError is raised by the client when a SERVER_HELLO fails
// ECDSA verification against the embedded root public key.
type SignatureInvalidError struct {
	Reason string
}

func (e *SignatureInvalidError) Error() string {
	return "signature invalid: " + e.Reason
}

// PayloadTooLargeError is returned to the caller of Connection.Send when
// the payload exceeds the fragment sender's capacity.
type PayloadTooLargeError struct {
	Size    int
	MaxSize int
}

func (e *PayloadTooLargeError) Error() string {
	return "payload too large for fragmentation"
}

// DispatchError is raised by the message dispatcher for an unknown
// type id; surfaced to the application for logging, never fatal.
type DispatchError struct {
	TypeID uint16
}

func (e *DispatchError) Error() string {
	return "dispatch: no handler registered"
}
