package transport

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ghalamif/telemdeck/internal/adapters/codec"
	"github.com/ghalamif/telemdeck/internal/domain"
	"github.com/ghalamif/telemdeck/internal/ports"
)

func TestFramerReturnsOnlyCompleteLines(t *testing.T) {
	var f framer
	f.feed([]byte("data:A:1\r\n\r\ninfo:par"))
	line, ok := f.next()
	if !ok || line != "data:A:1" {
		t.Fatalf("expected first line, got %q ok=%v", line, ok)
	}
	if _, ok := f.next(); ok {
		t.Fatalf("partial line must not be returned")
	}
	f.feed([]byte("tial\n"))
	if line, ok := f.next(); !ok || line != "info:partial" {
		t.Fatalf("expected joined line, got %q ok=%v", line, ok)
	}
}

func TestFramerReplacesInvalidUTF8(t *testing.T) {
	var f framer
	f.feed([]byte{'i', 'n', 'f', 'o', ':', 0xff, 'x', '\n'})
	line, ok := f.next()
	if !ok || line != "info:�x" {
		t.Fatalf("expected replacement rune, got %q", line)
	}
}

func TestTCPTransportReadsLines(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = c.Write([]byte("data:Vbat:8.1\ninfo:hel"))
		time.Sleep(20 * time.Millisecond)
		_, _ = c.Write([]byte("lo\n"))
		time.Sleep(20 * time.Millisecond)
		c.Close()
	}()

	conn, err := NewTCP().Open(context.Background(), ln.Addr().String(), ports.TransportParams{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	var lines []string
	deadline := time.Now().Add(2 * time.Second)
	for len(lines) < 2 && time.Now().Before(deadline) {
		line, ok, err := conn.ReadLine(50 * time.Millisecond)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if ok {
			lines = append(lines, line)
		}
	}
	if len(lines) != 2 || lines[1] != "info:hello" {
		t.Fatalf("unexpected lines %v", lines)
	}

	for time.Now().Before(deadline) {
		_, ok, err := conn.ReadLine(50 * time.Millisecond)
		if err != nil {
			return
		}
		if ok {
			t.Fatalf("no more lines expected")
		}
	}
	t.Fatalf("expected an error once the peer closed")
}

func TestStreamTransportEOFIsReadError(t *testing.T) {
	s := NewStream("test", func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("data:A:1\n\ninfo:x\n")), nil
	})
	conn, err := s.Open(context.Background(), "", ports.TransportParams{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	for _, want := range []string{"data:A:1", "info:x"} {
		line, ok, err := conn.ReadLine(time.Second)
		if err != nil || !ok || line != want {
			t.Fatalf("expected %q, got %q ok=%v err=%v", want, line, ok, err)
		}
	}
	if _, _, err := conn.ReadLine(time.Second); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestStdinOpensOnce(t *testing.T) {
	s := NewStdin()
	conn, err := s.Open(context.Background(), "", ports.TransportParams{})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	defer conn.Close()
	if _, err := s.Open(context.Background(), "", ports.TransportParams{}); err != ErrStreamExhausted {
		t.Fatalf("expected ErrStreamExhausted, got %v", err)
	}
}

func TestSimulatorEmitsProtocolLines(t *testing.T) {
	sim := NewSimulator(5*time.Millisecond, 42)
	conn, err := sim.Open(context.Background(), "", ports.TransportParams{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	got := 0
	for got < 3 {
		line, ok, err := conn.ReadLine(100 * time.Millisecond)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !ok {
			continue
		}
		got++
		rec := codec.Decode(line)
		if rec.Kind != domain.KindData {
			t.Fatalf("expected data line, got %q", line)
		}
		for _, key := range []string{"Tim", "Di", "Vbat", "Iout", "Pout", "Vfc", "Pfc", "PfcDes", "Tfc"} {
			if _, ok := rec.Get(key); !ok {
				t.Fatalf("missing %s in %q", key, line)
			}
		}
		if di, _ := rec.Get("Di"); !strings.HasPrefix(di.Raw, "0x") {
			t.Fatalf("Di must be hex, got %q", di.Raw)
		}
	}

	conn.Close()
	if _, _, err := conn.ReadLine(time.Second); err != ErrConnClosed {
		t.Fatalf("expected ErrConnClosed after close, got %v", err)
	}
}
