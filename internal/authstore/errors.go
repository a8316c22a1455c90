package authstore

import (
	"errors"
	"fmt"
)

// ErrMalformedLine is wrapped by ParseError when a line is not
// "<key-type> <base64-key> <comment>".
var ErrMalformedLine = errors.New("malformed authorized key line")

// ParseError reports the authfile line that failed to parse.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("authfile line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DuplicateKeyError reports a fingerprint listed more than once.
type DuplicateKeyError struct {
	Line        int
	FirstLine   int
	Fingerprint string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("authfile line %d: key %s already listed on line %d", e.Line, e.Fingerprint, e.FirstLine)
}
