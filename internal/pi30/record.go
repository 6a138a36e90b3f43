package pi30

import (
	"fmt"
	"strconv"
	"strings"
)

// Flag is one named position of a decoded bitfield.
type Flag struct {
	Name string
	Set  bool
}

// Value is a decoded response token.
type Value struct {
	Name string
	Kind Kind
	Unit string
	Raw  string

	Float float64
	Int   int64
	Text  string
	Label string
	Flags []Flag

	// Unavailable is set when the device sent the NA sentinel; no datum is
	// populated in that case.
	Unavailable bool
	// OutOfRange is set when the device flagged the reading with a
	// trailing '!'.
	OutOfRange bool
}

// Flag returns the state of the named bit.
func (v Value) Flag(name string) (bool, bool) {
	for _, f := range v.Flags {
		if f.Name == name {
			return f.Set, true
		}
	}
	return false, false
}

func (v Value) String() string {
	if v.Unavailable {
		return "unavailable"
	}

	var s string
	switch v.Kind {
	case KindFloat:
		s = strconv.FormatFloat(v.Float, 'f', -1, 64)
	case KindInt:
		s = strconv.FormatInt(v.Int, 10)
	case KindEnum:
		s = v.Text
		if v.Label != "" {
			s = fmt.Sprintf("%s (%s)", v.Label, v.Text)
		}
	case KindBitfield:
		var set []string
		for _, f := range v.Flags {
			if f.Set {
				set = append(set, f.Name)
			}
		}
		s = v.Text
		if len(set) > 0 {
			s = fmt.Sprintf("%s [%s]", v.Text, strings.Join(set, ", "))
		}
	default:
		s = v.Text
	}

	if v.Unit != "" {
		s += " " + v.Unit
	}
	if v.OutOfRange {
		s += " (out of range)"
	}
	return s
}

// Record is the decoded response to one command. It holds exactly the
// fields the device sent; absent fields are not zero-filled.
type Record struct {
	Command Command
	Values  []Value
	// Extra holds tokens past the end of the schema.
	Extra []string

	index map[string]int
}

func newRecord(cmd Command, capacity int) *Record {
	return &Record{
		Command: cmd,
		Values:  make([]Value, 0, capacity),
		index:   make(map[string]int, capacity),
	}
}

func (r *Record) add(v Value) {
	r.index[v.Name] = len(r.Values)
	r.Values = append(r.Values, v)
}

// Get returns the named value and whether the device sent it.
func (r *Record) Get(name string) (Value, bool) {
	if r.index == nil {
		for _, v := range r.Values {
			if v.Name == name {
				return v, true
			}
		}
		return Value{}, false
	}
	i, ok := r.index[name]
	if !ok {
		return Value{}, false
	}
	return r.Values[i], true
}

// Float returns a numeric field as float64. ok is false when the field is
// absent, unavailable or not numeric.
func (r *Record) Float(name string) (float64, bool) {
	v, ok := r.Get(name)
	if !ok || v.Unavailable {
		return 0, false
	}
	switch v.Kind {
	case KindFloat:
		return v.Float, true
	case KindInt:
		return float64(v.Int), true
	}
	return 0, false
}

// Int returns an integer field. ok is false when the field is absent,
// unavailable or not an integer.
func (r *Record) Int(name string) (int64, bool) {
	v, ok := r.Get(name)
	if !ok || v.Unavailable || v.Kind != KindInt {
		return 0, false
	}
	return v.Int, true
}

// Text returns the text of a text, enum or bitfield field.
func (r *Record) Text(name string) (string, bool) {
	v, ok := r.Get(name)
	if !ok || v.Unavailable {
		return "", false
	}
	switch v.Kind {
	case KindText, KindEnum, KindBitfield:
		return v.Text, true
	}
	return "", false
}

// Flag returns one bit of a bitfield field.
func (r *Record) Flag(field, bit string) (bool, bool) {
	v, ok := r.Get(field)
	if !ok || v.Unavailable {
		return false, false
	}
	return v.Flag(bit)
}
