package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"github.com/mitchellh/mapstructure"
)

// Size is a byte count written as "512Mi", "4Gi" or "1Ti". A bare number is
// a count of GiB.
type Size int64

// ParseSize parses a size string.
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("invalid size: empty")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return gib(f)
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid size %q: negative", s)
	}
	return Size(n), nil
}

func gib(f float64) (Size, error) {
	if f < 0 {
		return 0, fmt.Errorf("invalid size %v: negative", f)
	}
	return Size(f * units.GiB), nil
}

// Bytes returns the size in bytes.
func (s Size) Bytes() int64 { return int64(s) }

// MiB returns the size in whole mebibytes.
func (s Size) MiB() int { return int(int64(s) / units.MiB) }

// String formats s in the largest unit that divides it exactly.
func (s Size) String() string {
	n := int64(s)
	switch {
	case n == 0:
		return "0"
	case n%units.TiB == 0:
		return fmt.Sprintf("%dTi", n/units.TiB)
	case n%units.GiB == 0:
		return fmt.Sprintf("%dGi", n/units.GiB)
	case n%units.MiB == 0:
		return fmt.Sprintf("%dMi", n/units.MiB)
	case n%units.KiB == 0:
		return fmt.Sprintf("%dKi", n/units.KiB)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

// Human returns an approximate, readable form for log lines.
func (s Size) Human() string {
	return units.BytesSize(float64(s))
}

func (s Size) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Size) UnmarshalText(text []byte) error {
	v, err := ParseSize(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

var sizeType = reflect.TypeOf(Size(0))

// sizeHookFunc decodes strings and numbers into Size.
func sizeHookFunc() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != sizeType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return ParseSize(v)
		case int:
			return gib(float64(v))
		case int64:
			return gib(float64(v))
		case float64:
			return gib(v)
		default:
			return data, nil
		}
	}
}
