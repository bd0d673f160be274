package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

const (
	lineTerminator = '\n'
	maxLineLength  = 4096
)

type readByteFunc func(ctx context.Context) (byte, error)

func encodeLine(payload []byte) ([]byte, error) {
	if bytes.ContainsAny(payload, "\r\n") {
		return nil, fmt.Errorf("payload must be a single line: %q", payload)
	}
	if len(payload) >= maxLineLength {
		return nil, fmt.Errorf("payload too large: %d", len(payload))
	}

	line := make([]byte, 0, len(payload)+1)
	line = append(line, payload...)

	return append(line, lineTerminator), nil
}

// readLine collects bytes up to the terminator and drops a trailing carriage
// return.
func readLine(ctx context.Context, next readByteFunc) ([]byte, error) {
	var buf []byte
	for {
		b, err := next(ctx)
		if err != nil {
			return nil, err
		}
		if b == lineTerminator {
			return bytes.TrimSuffix(buf, []byte{'\r'}), nil
		}
		buf = append(buf, b)
		if len(buf) > maxLineLength {
			return nil, fmt.Errorf("line exceeds %d bytes", maxLineLength)
		}
	}
}

func writeFull(ctx context.Context, w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.Write(buf[written:])
		if err != nil {
			return err
		}
		written += n
	}

	return nil
}
