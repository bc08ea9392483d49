package ruuvi

import "fmt"

// DecodeErrorKind classifies why a payload could not be decoded
type DecodeErrorKind string

const (
	UnsupportedFormat DecodeErrorKind = "unsupported_format"
	TruncatedPayload  DecodeErrorKind = "truncated_payload"
	ReservedMarker    DecodeErrorKind = "reserved_marker"
)

// DecodeError reports a payload that was dropped by the decoder
type DecodeError struct {
	Kind   DecodeErrorKind
	Format byte
	Len    int
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case UnsupportedFormat:
		return fmt.Sprintf("%s: format 0x%02X", e.Kind, e.Format)
	case TruncatedPayload:
		return fmt.Sprintf("%s: %d bytes, want %d", e.Kind, e.Len, PayloadLength)
	case ReservedMarker:
		return fmt.Sprintf("%s: format 0x%02X is reserved", e.Kind, e.Format)
	default:
		return string(e.Kind)
	}
}

// Is allows errors.Is to compare DecodeError values by Kind
func (e *DecodeError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrUnsupportedFormat = &DecodeError{Kind: UnsupportedFormat}
	ErrTruncatedPayload  = &DecodeError{Kind: TruncatedPayload}
	ErrReservedMarker    = &DecodeError{Kind: ReservedMarker}
)
