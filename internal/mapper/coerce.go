package mapper

import (
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"strings"
)

// Type is the scalar type a rule coerces its value to.
type Type int

const (
	// Untyped passes the value through unchanged.
	Untyped Type = iota
	String
	Integer
	Long
	Boolean
	IP
)

// String returns the lower-case type name used in errors.
func (t Type) String() string {
	switch t {
	case Untyped:
		return "untyped"
	case String:
		return "string"
	case Integer:
		return "integer"
	case Long:
		return "long"
	case Boolean:
		return "boolean"
	case IP:
		return "ip"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Coerce converts value to t. Integer yields int32, Long yields int64, IP yields the
// validated address string unchanged.
func Coerce(value interface{}, t Type) (interface{}, error) {
	switch t {
	case Untyped:
		return value, nil
	case String:
		return toString(value)
	case Integer:
		n, err := toInt64(value, 32)
		if err != nil {
			return nil, err
		}
		return int32(n), nil
	case Long:
		return toInt64(value, 64)
	case Boolean:
		return toBool(value)
	case IP:
		return toIP(value)
	default:
		return nil, fmt.Errorf("%w: unsupported type %s", ErrConversion, t)
	}
}

func toString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", conversionError(value, String)
	}
}

func toInt64(value interface{}, bits int) (int64, error) {
	var n int64
	switch v := value.(type) {
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case uint64:
		if v > math.MaxInt64 {
			return 0, conversionError(value, typeForBits(bits))
		}
		n = int64(v)
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
		if v != math.Trunc(v) || v >= math.MaxInt64 || v < math.MinInt64 {
			return 0, conversionError(value, typeForBits(bits))
		}
		n = int64(v)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, bits)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a %s", ErrConversion, v, typeForBits(bits))
		}
		return parsed, nil
	default:
		return 0, conversionError(value, typeForBits(bits))
	}
	if bits == 32 && (n > math.MaxInt32 || n < math.MinInt32) {
		return 0, fmt.Errorf("%w: %d overflows integer", ErrConversion, n)
	}
	return n, nil
}

func toBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("%w: %q is not a boolean", ErrConversion, v)
		}
		return b, nil
	default:
		return false, conversionError(value, Boolean)
	}
}

func toIP(value interface{}) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", conversionError(value, IP)
	}
	if _, err := netip.ParseAddr(s); err != nil {
		return "", fmt.Errorf("%w: %q is not an IP address", ErrConversion, s)
	}
	return s, nil
}

func typeForBits(bits int) Type {
	if bits == 32 {
		return Integer
	}
	return Long
}

func conversionError(value interface{}, t Type) error {
	return fmt.Errorf("%w: cannot convert %T to %s", ErrConversion, value, t)
}
