// Package grammar checks config files line by line against the directive
// grammar:
//
//	line      = "" | comment | directive
//	comment   = "#" { space | word | punct }
//	directive = ident [ space+ ( ident | '"' ident '"' ) ]
//	ident     = [A-Za-z0-9_]+
//
// Validation never mutates its input and is deterministic, so the same bytes
// may be checked while streaming and again once staged.
package grammar

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/dmitrijs2005/cfghost/internal/common"
)

const (
	ReasonTooLong = "line too long"
	ReasonSyntax  = "invalid syntax"
)

var ErrTooLarge = fmt.Errorf("%w: aggregate content limit exceeded", common.ErrTooLarge)

var lineRe = regexp.MustCompile(`^([A-Za-z0-9_]+(\s+("[A-Za-z0-9_]+"|[A-Za-z0-9_]+))?|#[\s[:word:][:punct:]]*)?$`)

// LineError describes the first offending line of a config.
type LineError struct {
	Line   int // 1-based
	Reason string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

func (e *LineError) Is(target error) bool {
	return target == common.ErrInvalidConfig
}

// Validator holds the size bounds. The zero value is not usable; use New.
type Validator struct {
	maxLine  int
	maxChars int
}

// New returns a validator with the given per-line and aggregate limits.
// Non-positive values fall back to the package defaults.
func New(maxLine, maxChars int) *Validator {
	if maxLine <= 0 {
		maxLine = common.MaxLineLength
	}
	if maxChars <= 0 {
		maxChars = common.MaxConfigChars
	}
	return &Validator{maxLine: maxLine, maxChars: maxChars}
}

// Default uses the stock limits: 128 bytes per line, 5000 in total.
func Default() *Validator {
	return New(common.MaxLineLength, common.MaxConfigChars)
}

func (v *Validator) Validate(b []byte) error {
	return v.ValidateReader(bytes.NewReader(b))
}

// ValidateReader consumes r and fails on the first bad line. Memory use is
// bounded by the line limit regardless of input size.
func (v *Validator) ValidateReader(r io.Reader) error {
	sc := bufio.NewScanner(r)
	// room for the longest legal line, a \r and one byte to detect overflow
	sc.Buffer(make([]byte, 0, v.maxLine+2), v.maxLine+2)

	var (
		n     int
		total int
	)
	for sc.Scan() {
		n++
		line := bytes.TrimSuffix(sc.Bytes(), []byte{'\r'})

		if len(line) > v.maxLine {
			return &LineError{Line: n, Reason: ReasonTooLong}
		}
		if !lineRe.Match(line) {
			return &LineError{Line: n, Reason: ReasonSyntax}
		}

		// line terminators do not count towards the aggregate
		total += len(line)
		if total > v.maxChars {
			return ErrTooLarge
		}
	}

	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return &LineError{Line: n + 1, Reason: ReasonTooLong}
		}
		return err
	}
	return nil
}

// Reason extracts the line reason from err, or "" when err is not a
// LineError.
func Reason(err error) string {
	var le *LineError
	if errors.As(err, &le) {
		return le.Reason
	}
	return ""
}
