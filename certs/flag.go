package certs

import (
	"database/sql/driver"
	"fmt"
	"strconv"
)

// Flag is a boolean that remembers whether the source had the field at all.
// It stores as NULL, 0 or 1.
type Flag uint8

const (
	FlagAbsent Flag = iota
	FlagFalse
	FlagTrue
)

// FlagOf maps a source value to a Flag. present reports whether the key
// existed in the source object.
func FlagOf(v any, present bool) Flag {
	if !present {
		return FlagAbsent
	}
	if truthy(v) {
		return FlagTrue
	}
	return FlagFalse
}

// Known reports whether the flag carries a value.
func (f Flag) Known() bool { return f != FlagAbsent }

// Bool returns the flag value; absent reads as false.
func (f Flag) Bool() bool { return f == FlagTrue }

func (f Flag) String() string {
	switch f {
	case FlagTrue:
		return "true"
	case FlagFalse:
		return "false"
	default:
		return "absent"
	}
}

// Value implements driver.Valuer.
func (f Flag) Value() (driver.Value, error) {
	switch f {
	case FlagTrue:
		return int64(1), nil
	case FlagFalse:
		return int64(0), nil
	default:
		return nil, nil
	}
}

// Scan implements sql.Scanner.
func (f *Flag) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*f = FlagAbsent
	case int64:
		*f = boolFlag(v != 0)
	case bool:
		*f = boolFlag(v)
	case []byte:
		return f.scanString(string(v))
	case string:
		return f.scanString(v)
	default:
		return fmt.Errorf("cannot scan %T into Flag", src)
	}
	return nil
}

func (f *Flag) scanString(s string) error {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("cannot scan %q into Flag: %w", s, err)
	}
	*f = boolFlag(n != 0)
	return nil
}

func boolFlag(b bool) Flag {
	if b {
		return FlagTrue
	}
	return FlagFalse
}
