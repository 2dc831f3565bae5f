// Package classify implements the client-classification expression
// language: a small boolean DSL evaluated against a decoded DHCPv4 packet,
// compiled once per configured class into a closure over the packet.
package classify

import (
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
)

// Sentinel errors.
const (
	// ErrStringLiteralFormat means a quoted string literal was malformed:
	// missing its closing quote, or too short to hold the surrounding
	// quotes.
	ErrStringLiteralFormat errors.Error = "string literal format error"

	// ErrParse means the expression failed to parse as a well-formed
	// boolean expression.
	ErrParse errors.Error = "client class expression parse error"
)

// ParseError carries the file and line an expression came from, matching
// the diagnostic context the original PEGTL-based parser attached to its
// own failures.
type ParseError struct {
	Err  error
	File string
	Pos  int
	Line int
}

// Error implements the error interface.
func (e *ParseError) Error() (s string) {
	if e.File != "" {
		return fmt.Sprintf("%s:%d: %s (at byte %d)", e.File, e.Line, e.Err, e.Pos)
	}
	return fmt.Sprintf("line %d: %s (at byte %d)", e.Line, e.Err, e.Pos)
}

// Unwrap exposes the underlying sentinel for errors.Is/errors.As.
func (e *ParseError) Unwrap() (err error) { return e.Err }
