package pi30

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCommand     = errors.New("pi30: unknown command")
	ErrMalformedFrame     = errors.New("pi30: malformed frame")
	ErrInsufficientFields = errors.New("pi30: insufficient fields")
	ErrMalformedBitfield  = errors.New("pi30: malformed bitfield")
	ErrTypeConversion     = errors.New("pi30: type conversion failed")
	ErrNotAcknowledged    = errors.New("pi30: command not acknowledged")
	ErrChecksumMismatch   = errors.New("pi30: checksum mismatch")
)

// UnknownCommandError is returned for a mnemonic missing from the schema table.
type UnknownCommandError struct {
	Command string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("pi30: unknown command %q", e.Command)
}

func (e *UnknownCommandError) Unwrap() error { return ErrUnknownCommand }

// InsufficientFieldsError reports a response with fewer tokens than the
// command's schema requires.
type InsufficientFieldsError struct {
	Command  Command
	Expected int
	Actual   int
}

func (e *InsufficientFieldsError) Error() string {
	return fmt.Sprintf("pi30: %s response has %d fields, expected at least %d", e.Command, e.Actual, e.Expected)
}

func (e *InsufficientFieldsError) Unwrap() error { return ErrInsufficientFields }

// MalformedBitfieldError reports a status token that is too short or is not
// made of '0' and '1' characters.
type MalformedBitfieldError struct {
	Field string
	Token string
	Width int
}

func (e *MalformedBitfieldError) Error() string {
	return fmt.Sprintf("pi30: field %s: bitfield %q is not %d binary digits", e.Field, e.Token, e.Width)
}

func (e *MalformedBitfieldError) Unwrap() error { return ErrMalformedBitfield }

// TypeConversionError carries the field and the offending token.
type TypeConversionError struct {
	Field string
	Token string
	Err   error
}

func (e *TypeConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pi30: field %s: cannot convert %q: %v", e.Field, e.Token, e.Err)
	}
	return fmt.Sprintf("pi30: field %s: cannot convert %q", e.Field, e.Token)
}

func (e *TypeConversionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTypeConversion}
	}
	return []error{ErrTypeConversion, e.Err}
}
