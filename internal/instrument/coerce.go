package instrument

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	errNotBoolean = errors.New("not a boolean")
	errNotNumber  = errors.New("not a number")
	errNotInteger = errors.New("not an integer")
	errNotScalar  = errors.New("not a scalar value")
)

// Coerce converts raw into the Go type used for kind: bool, float64, int64 or
// string. Display parameters reject every input.
func Coerce(kind Kind, raw any) (any, error) {
	switch kind {
	case KindBool:
		return coerceBool(raw)
	case KindFloat:
		return coerceFloat(raw)
	case KindInt:
		return coerceInt(raw)
	case KindString:
		return coerceString(raw)
	case KindDisplay:
		return nil, ErrReadOnly
	default:
		return nil, fmt.Errorf("unsupported kind %d", kind)
	}
}

func coerceBool(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "on", "yes":
			return true, nil
		case "false", "0", "off", "no":
			return false, nil
		}
		return nil, errNotBoolean
	}
	if f, ok := toFloat(raw); ok {
		return f != 0, nil
	}

	return nil, errNotBoolean
}

func coerceFloat(raw any) (any, error) {
	if s, ok := raw.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, errNotNumber
		}
		raw = f
	}
	f, ok := toFloat(raw)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, errNotNumber
	}

	return f, nil
}

func coerceInt(raw any) (any, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return uintToInt64(uint64(v))
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return uintToInt64(v)
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errNotInteger
		}
		raw = f
	}
	f, ok := toFloat(raw)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, errNotInteger
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, errNotInteger
	}

	return int64(f), nil
}

func uintToInt64(v uint64) (any, error) {
	if v > math.MaxInt64 {
		return nil, errNotInteger
	}

	return int64(v), nil
}

func coerceString(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	}
	if _, ok := toFloat(raw); ok {
		return fmt.Sprint(raw), nil
	}

	return nil, errNotScalar
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}
