// Package codec translates between typed commands/telemetry and the textual
// wire payloads exchanged with the device backends.
package codec

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// Tuple is a command in the (mode, [channel], value) shape used by the
// backends, e.g. ('set', 1, 5.0) or ('pulse', 100).
type Tuple struct {
	Mode       string
	Channel    int
	HasChannel bool
	Value      float64
	// Integer renders Value without a fractional part.
	Integer bool
}

// Encode renders the tuple exactly as the backends expect it.
func (t Tuple) Encode() []byte {
	var b strings.Builder
	b.WriteString("('")
	b.WriteString(t.Mode)
	b.WriteString("', ")
	if t.HasChannel {
		b.WriteString(strconv.Itoa(t.Channel))
		b.WriteString(", ")
	}
	if t.Integer {
		b.WriteString(strconv.FormatInt(int64(t.Value), 10))
	} else {
		b.WriteString(FormatFloat(t.Value))
	}
	b.WriteString(")")

	return []byte(b.String())
}

func (t Tuple) String() string {
	return string(t.Encode())
}

// DecodeTuple parses a textual command tuple. Arity 2 is (mode, value), arity 3
// is (mode, channel, value).
func DecodeTuple(payload []byte) (Tuple, error) {
	raw := strings.TrimSpace(string(payload))
	if len(raw) < 2 || raw[0] != '(' || raw[len(raw)-1] != ')' {
		return Tuple{}, decodeErr(payload, "command tuple must be parenthesised", nil)
	}

	fields := splitFields(raw[1 : len(raw)-1])
	if len(fields) != 2 && len(fields) != 3 {
		return Tuple{}, decodeErr(payload, "command tuple arity must be 2 or 3, got "+strconv.Itoa(len(fields)), nil)
	}

	mode, ok := unquote(fields[0])
	if !ok || mode == "" {
		return Tuple{}, decodeErr(payload, "mode must be a quoted string", nil)
	}

	out := Tuple{Mode: mode}
	valueField := fields[1]
	if len(fields) == 3 {
		ch, err := parseNumber(fields[1])
		if err != nil {
			return Tuple{}, decodeErr(payload, "channel is not numeric", err)
		}
		if ch != math.Trunc(ch) {
			return Tuple{}, decodeErr(payload, "channel is not an integer", nil)
		}
		if ch < 0 || ch > math.MaxInt32 {
			return Tuple{}, decodeErr(payload, "channel is out of range", nil)
		}
		out.Channel = int(ch)
		out.HasChannel = true
		valueField = fields[2]
	}

	value, err := parseNumber(valueField)
	if err != nil {
		return Tuple{}, decodeErr(payload, "value is not numeric", err)
	}
	out.Value = value
	out.Integer = isIntegerLiteral(valueField)

	return out, nil
}

// splitFields splits a tuple body on commas and tolerates one trailing comma.
func splitFields(body string) []string {
	parts := strings.Split(body, ",")
	if len(parts) > 1 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	return parts
}

func unquote(field string) (string, bool) {
	if len(field) < 2 {
		return "", false
	}
	q := field[0]
	if (q != '\'' && q != '"') || field[len(field)-1] != q {
		return "", false
	}

	return field[1 : len(field)-1], true
}

func parseNumber(field string) (float64, error) {
	switch field {
	case "True":
		return 1, nil
	case "False":
		return 0, nil
	}

	return parseDecimal(field)
}

var (
	errNotDecimal = errors.New("not a decimal literal")
	errNotFinite  = errors.New("not a finite number")
)

// parseDecimal accepts finite decimal literals only: no hex floats, no
// underscores, no nan or inf.
func parseDecimal(field string) (float64, error) {
	digits := strings.TrimLeft(field, "+-")
	if len(digits) > 1 && digits[0] == '0' && strings.ContainsRune("xXbBoO", rune(digits[1])) {
		return 0, errNotDecimal
	}
	if strings.ContainsRune(field, '_') {
		return 0, errNotDecimal
	}
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotFinite
	}

	return v, nil
}

func isIntegerLiteral(field string) bool {
	if field == "True" || field == "False" {
		return true
	}
	if field == "" {
		return false
	}

	return !strings.ContainsAny(field, ".eEnN")
}

// FormatFloat renders v the way Python's repr does, so integral floats keep
// their ".0" suffix.
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}

	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}

	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}

	return s
}
