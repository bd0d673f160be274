package codec

import "fmt"

// DecodeError reports a malformed inbound payload. The message carrying it is
// dropped; delivery to other subscribers continues.
type DecodeError struct {
	Payload string
	Reason  string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %q: %s: %v", e.Payload, e.Reason, e.Err)
	}

	return fmt.Sprintf("decode %q: %s", e.Payload, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(payload []byte, reason string, err error) *DecodeError {
	const maxPreview = 96
	preview := string(payload)
	if len(preview) > maxPreview {
		preview = preview[:maxPreview] + "..."
	}

	return &DecodeError{Payload: preview, Reason: reason, Err: err}
}
