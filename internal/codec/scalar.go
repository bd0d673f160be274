package codec

import (
	"strconv"
	"strings"

	"github.com/cortexlab/cortex/internal/topic"
)

// Scalar is a decoded telemetry value. Timestamp is informational only and is
// zero for plain payloads.
type Scalar struct {
	Timestamp    float64
	HasTimestamp bool
	Value        float64
	// Text is the value as it appeared on the wire.
	Text string
}

// DecodeScalar parses "(timestamp, value)" or "[timestamp, value]". Both
// delimiter styles decode identically.
func DecodeScalar(payload []byte) (Scalar, error) {
	raw := strings.TrimSpace(string(payload))
	body, ok := stripEnvelope(raw)
	if !ok {
		return Scalar{}, decodeErr(payload, "scalar telemetry must be bracketed", nil)
	}

	fields := splitFields(body)
	if len(fields) != 2 {
		return Scalar{}, decodeErr(payload, "scalar telemetry must be a (timestamp, value) pair", nil)
	}

	ts, err := parseDecimal(fields[0])
	if err != nil {
		return Scalar{}, decodeErr(payload, "timestamp is not numeric", err)
	}
	value, err := parseDecimal(fields[1])
	if err != nil {
		return Scalar{}, decodeErr(payload, "value is not numeric", err)
	}

	return Scalar{Timestamp: ts, HasTimestamp: true, Value: value, Text: fields[1]}, nil
}

// DecodePlain parses a single number sent without an envelope.
func DecodePlain(payload []byte) (Scalar, error) {
	raw := strings.TrimSpace(string(payload))
	value, err := parseDecimal(raw)
	if err != nil {
		return Scalar{}, decodeErr(payload, "plain scalar is not numeric", err)
	}

	return Scalar{Value: value, Text: raw}, nil
}

// DecodeAny accepts either an enveloped pair or a plain number.
func DecodeAny(payload []byte) (Scalar, error) {
	raw := strings.TrimSpace(string(payload))
	if _, ok := stripEnvelope(raw); ok {
		return DecodeScalar(payload)
	}

	return DecodePlain(payload)
}

func stripEnvelope(raw string) (string, bool) {
	if len(raw) < 2 {
		return "", false
	}
	open, closing := raw[0], raw[len(raw)-1]
	if (open == '(' && closing == ')') || (open == '[' && closing == ']') {
		return raw[1 : len(raw)-1], true
	}

	return "", false
}

// ChannelIndex returns the trailing integer segment of a per-channel topic,
// e.g. 3 for HFWM/8731/sigma/3. Value and sigma streams are correlated through
// this index, never through arrival order.
func ChannelIndex(t string) (int, bool) {
	segments := topic.Segments(t)
	last := segments[len(segments)-1]
	ch, err := strconv.Atoi(last)
	if err != nil {
		return 0, false
	}

	return ch, true
}

// EncodePlain renders a plain scalar payload, as used by setpoint writes.
func EncodePlain(v float64) []byte {
	return []byte(FormatFloat(v))
}
