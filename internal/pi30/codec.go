// Package pi30 frames PI30 inverter queries and decodes their responses.
package pi30

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	notAvailable    = "NA"
	outOfRangeMark  = "!"
	notAcknowledged = "NAK"
)

var errUnknownEnumValue = errors.New("not a documented value")

// Encode builds the request frame for cmd: the command text, its CRC high
// byte first, and a carriage return.
func Encode(cmd Command) ([]byte, error) {
	if !cmd.Known() {
		return nil, &UnknownCommandError{Command: string(cmd)}
	}
	crc := Checksum([]byte(cmd))
	frame := make([]byte, 0, len(cmd)+3)
	frame = append(frame, cmd...)
	frame = append(frame, byte(crc>>8), byte(crc), terminator)
	return frame, nil
}

// EncodeResponse builds a response frame the way a device does: '(' and the
// payload, the CRC of both, and a carriage return.
func EncodeResponse(payload string) []byte {
	frame := make([]byte, 0, len(payload)+4)
	frame = append(frame, frameStart)
	frame = append(frame, payload...)
	crc := Checksum(frame)
	return append(frame, adjustCRCByte(byte(crc>>8)), adjustCRCByte(byte(crc)), terminator)
}

// Decode parses the response to cmd. Bytes before the opening marker and
// after the terminator are ignored. It never panics on bad input.
func Decode(cmd Command, raw []byte) (*Record, error) {
	schema, ok := schemaIndex[cmd]
	if !ok {
		return nil, &UnknownCommandError{Command: string(cmd)}
	}

	payload, complete, err := extractPayload(raw)
	if err != nil {
		return nil, err
	}
	if payload == notAcknowledged {
		return nil, fmt.Errorf("%w: %s", ErrNotAcknowledged, cmd)
	}

	tokens := strings.Fields(payload)
	if !complete && len(tokens) > 0 {
		// The read stopped before the terminator: the last token may be cut
		// short or carry CRC bytes.
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) < schema.Required {
		return nil, &InsufficientFieldsError{Command: cmd, Expected: schema.Required, Actual: len(tokens)}
	}

	n := len(tokens)
	if n > len(schema.Fields) {
		n = len(schema.Fields)
	}
	rec := newRecord(cmd, n)
	for i := 0; i < n; i++ {
		v, err := convert(schema.Fields[i], tokens[i])
		if err != nil {
			return nil, err
		}
		rec.add(v)
	}
	if len(tokens) > n {
		rec.Extra = append([]string(nil), tokens[n:]...)
	}
	return rec, nil
}

// extractPayload returns the text between the opening marker and the CRC.
// complete is false when neither the terminator nor a closing marker arrived.
func extractPayload(raw []byte) (string, bool, error) {
	start := bytes.IndexByte(raw, frameStart)
	if start < 0 {
		return "", false, fmt.Errorf("%w: no opening marker in %d bytes", ErrMalformedFrame, len(raw))
	}

	body := raw[start+1:]
	complete := false
	if end := bytes.IndexByte(body, terminator); end >= 0 {
		complete = true
		body = body[:end]
		// drop the CRC
		if len(body) >= 2 {
			body = body[:len(body)-2]
		} else {
			body = body[:0]
		}
	} else {
		body = bytes.TrimRightFunc(body, func(r rune) bool {
			return r < 0x20 || r > 0x7e
		})
	}
	if end := bytes.IndexByte(body, frameEnd); end >= 0 {
		complete = true
		body = body[:end]
	}
	return strings.TrimSpace(string(body)), complete, nil
}

func convert(f Field, token string) (Value, error) {
	v := Value{Name: f.Name, Kind: f.Kind, Unit: f.Unit, Raw: token}
	t := token
	if f.Kind == KindFloat || f.Kind == KindInt {
		t = stripOutOfRange(&v, token)
	}
	if t == notAvailable {
		v.Unavailable = true
		return v, nil
	}

	switch f.Kind {
	case KindFloat:
		x, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return Value{}, &TypeConversionError{Field: f.Name, Token: token, Err: err}
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return Value{}, &TypeConversionError{Field: f.Name, Token: token}
		}
		v.Float = x
	case KindInt:
		x, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return Value{}, &TypeConversionError{Field: f.Name, Token: token, Err: err}
		}
		v.Int = x
	case KindText:
		v.Text = strings.TrimPrefix(token, f.Prefix)
	case KindEnum:
		label, ok := f.Labels[token]
		if !ok {
			return Value{}, &TypeConversionError{Field: f.Name, Token: token, Err: errUnknownEnumValue}
		}
		v.Text = token
		v.Label = label
	case KindBitfield:
		flags, err := decodeBits(f, token)
		if err != nil {
			return Value{}, err
		}
		v.Text = token
		v.Flags = flags
	default:
		return Value{}, &TypeConversionError{Field: f.Name, Token: token}
	}
	return v, nil
}

func stripOutOfRange(v *Value, token string) string {
	if t, ok := strings.CutSuffix(token, outOfRangeMark); ok {
		v.OutOfRange = true
		return t
	}
	return token
}

func decodeBits(f Field, token string) ([]Flag, error) {
	if len(token) < len(f.Bits) {
		return nil, &MalformedBitfieldError{Field: f.Name, Token: token, Width: len(f.Bits)}
	}
	for i := 0; i < len(token); i++ {
		if token[i] != '0' && token[i] != '1' {
			return nil, &MalformedBitfieldError{Field: f.Name, Token: token, Width: len(f.Bits)}
		}
	}

	flags := make([]Flag, 0, len(f.Bits))
	for i, name := range f.Bits {
		if name == "" {
			continue
		}
		flags = append(flags, Flag{Name: name, Set: token[i] == '1'})
	}
	return flags, nil
}
