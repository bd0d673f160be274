package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

func TestEncodeLine(t *testing.T) {
	line, err := encodeLine([]byte(":SOUR1:VOLT 5.0"))
	if err != nil {
		t.Fatalf("encode line: %v", err)
	}
	if string(line) != ":SOUR1:VOLT 5.0\n" {
		t.Fatalf("expected terminated line, got %q", line)
	}
	if _, err := encodeLine([]byte("a\nb")); err == nil {
		t.Fatalf("expected embedded newline to be rejected")
	}
}

func TestReadLineStripsCarriageReturn(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("5.000\r\nnext\n"))
	next := func(context.Context) (byte, error) { return r.ReadByte() }

	line, err := readLine(context.Background(), next)
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	if string(line) != "5.000" {
		t.Fatalf("expected 5.000, got %q", line)
	}
	line, err = readLine(context.Background(), next)
	if err != nil || string(line) != "next" {
		t.Fatalf("expected next, got %q (%v)", line, err)
	}
}

func TestReadLineRejectsOversizedInput(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(strings.Repeat("x", maxLineLength+2)))
	_, err := readLine(context.Background(), func(context.Context) (byte, error) { return r.ReadByte() })
	if err == nil {
		t.Fatalf("expected oversized line error")
	}
}

func TestTCPTransportExchangesLines(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		cmd, _ := r.ReadString('\n')
		if cmd == "*IDN?\n" {
			_, _ = conn.Write([]byte("RIGOL,DP832,0,1.0\r\n"))
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr := NewTCPTransport("127.0.0.1", addr.Port)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Close()

	if err := tr.WriteFrame(ctx, []byte("*IDN?")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := tr.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(reply) != "RIGOL,DP832,0,1.0" {
		t.Fatalf("expected idn reply, got %q", reply)
	}
}

func TestTransportsRequireConnection(t *testing.T) {
	ctx := context.Background()
	for _, tr := range []Transport{NewTCPTransport("127.0.0.1", 1), NewSerialTransport("/dev/null-port", 9600)} {
		if _, err := tr.ReadFrame(ctx); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("%s: expected ErrNotConnected on read, got %v", tr.Name(), err)
		}
		if err := tr.WriteFrame(ctx, []byte("x")); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("%s: expected ErrNotConnected on write, got %v", tr.Name(), err)
		}
		if err := tr.Close(); err != nil {
			t.Fatalf("%s: close of idle transport: %v", tr.Name(), err)
		}
	}
}
