package wire

import (
	"errors"
	"fmt"
)

// DecodeError reports a wire value that could not be converted to its
// native representation: malformed base64, a non-numeric integer string,
// an unparsable timestamp, or a value of the wrong JSON type.
//
// Path locates the offending field within the payload, using dotted and
// array-indexed notation ("rows[2].values.fingerprint"). It is empty when
// the error comes from a bare codec call rather than a payload traversal.
type DecodeError struct {
	Path   string
	Value  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("decode %q: %s", e.Value, e.Reason)
	}
	return fmt.Sprintf("decode %s: %q: %s", e.Path, e.Value, e.Reason)
}

// EncodeError reports a native value that could not be converted to its
// wire representation, such as a timestamp outside the RFC 3339 year
// range or a value of the wrong native type for its declared kind.
type EncodeError struct {
	Path   string
	Reason string
}

func (e *EncodeError) Error() string {
	if e.Path == "" {
		return "encode: " + e.Reason
	}
	return fmt.Sprintf("encode %s: %s", e.Path, e.Reason)
}

// IsDecode checks whether an error is a DecodeError and returns it.
func IsDecode(err error) (*DecodeError, bool) {
	var d *DecodeError
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// IsEncode checks whether an error is an EncodeError and returns it.
func IsEncode(err error) (*EncodeError, bool) {
	var e *EncodeError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// at returns a copy of the error located at the given field path.
func (e *DecodeError) at(path string) *DecodeError {
	return &DecodeError{Path: path, Value: e.Value, Reason: e.Reason}
}

func (e *EncodeError) at(path string) *EncodeError {
	return &EncodeError{Path: path, Reason: e.Reason}
}
