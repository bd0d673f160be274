package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

const defaultDialTimeout = 6 * time.Second

// TCPTransport talks to a LAN instrument over a raw SCPI socket.
type TCPTransport struct {
	host string
	port int

	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

func NewTCPTransport(host string, port int) *TCPTransport {
	return &TCPTransport{host: host, port: port}
}

func (t *TCPTransport) Name() string {
	return "tcp"
}

func (t *TCPTransport) StatusTarget() string {
	if t.host == "" {
		return ""
	}

	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

func (t *TCPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	target := t.StatusTarget()
	logger := slog.With("component", "transport", "link", "tcp", "target", target)
	if t.conn != nil {
		logger.Debug("connect skipped: already connected")
		return nil
	}
	if target == "" {
		return errors.New("tcp host is empty")
	}

	dialer := net.Dialer{Timeout: defaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		logger.Warn("connect failed", "error", err)
		return fmt.Errorf("dial tcp: %w", err)
	}
	t.conn = conn
	t.reader = bufio.NewReader(conn)
	logger.Info("connected", "remote", conn.RemoteAddr().String())

	return nil
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.reader = nil

	return err
}

func (t *TCPTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	conn, reader := t.conn, t.reader
	t.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}

	return readLine(ctx, func(ctx context.Context) (byte, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return reader.ReadByte()
	})
}

func (t *TCPTransport) WriteFrame(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}

	line, err := encodeLine(payload)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := writeFull(ctx, conn, line); err != nil {
		return fmt.Errorf("write line: %w", err)
	}

	return nil
}
