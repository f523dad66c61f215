// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidListenPort is the sentinel error wrapped by InvalidListenPortError.
	ErrInvalidListenPort = errors.New("invalid listen port")

	// ErrMalformedListenPort is returned when a port string is not a decimal integer.
	ErrMalformedListenPort = errors.New("malformed listen port")
)

type (
	// ListenPort represents a TCP port a server binds to.
	// Valid values are in the range 1-65535. There is no "auto-select" value:
	// callers map host ports onto this exact number.
	ListenPort int

	// InvalidListenPortError is returned when a ListenPort value is
	// outside the valid range (1-65535).
	InvalidListenPortError struct {
		Value ListenPort
	}
)

// ParseListenPort parses a decimal port string and validates the result.
// Surrounding whitespace is not accepted.
func ParseListenPort(s string) (ListenPort, error) {
	if s == "" || strings.TrimSpace(s) != s {
		return 0, fmt.Errorf("%w: %q", ErrMalformedListenPort, s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedListenPort, s)
	}
	p := ListenPort(n)
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return p, nil
}

// String returns the decimal string representation of the ListenPort.
func (p ListenPort) String() string { return strconv.Itoa(int(p)) }

// Validate returns an error if the ListenPort is outside 1-65535.
func (p ListenPort) Validate() error {
	if p < 1 || p > 65535 {
		return &InvalidListenPortError{Value: p}
	}
	return nil
}

// Error implements the error interface for InvalidListenPortError.
func (e *InvalidListenPortError) Error() string {
	return fmt.Sprintf("invalid listen port %d: must be 1-65535", e.Value)
}

// Unwrap returns ErrInvalidListenPort for errors.Is() compatibility.
func (e *InvalidListenPortError) Unwrap() error { return ErrInvalidListenPort }
