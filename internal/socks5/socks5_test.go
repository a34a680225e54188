package socks5

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/dispatch-proxy/dispatch/internal/egress"
)

// ============================================================================
// Greeting Tests
// ============================================================================

type readWriter struct {
	io.Reader
	io.Writer
}

func TestReadGreeting(t *testing.T) {
	var out bytes.Buffer
	rw := readWriter{bytes.NewReader([]byte{0x05, 0x02, 0x00, 0x02}), &out}

	if err := ReadGreeting(rw); err != nil {
		t.Fatalf("ReadGreeting() error = %v", err)
	}
	if !bytes.Equal(out.Bytes(), []byte{0x05, 0x00}) {
		t.Errorf("method selection = %v, want [5 0]", out.Bytes())
	}
}

func TestReadGreeting_IgnoresAdvertisedMethods(t *testing.T) {
	// Client offering only username/password still gets NO_AUTH back.
	var out bytes.Buffer
	rw := readWriter{bytes.NewReader([]byte{0x05, 0x01, 0x02}), &out}

	if err := ReadGreeting(rw); err != nil {
		t.Fatalf("ReadGreeting() error = %v", err)
	}
	if !bytes.Equal(out.Bytes(), []byte{0x05, 0x00}) {
		t.Errorf("method selection = %v, want [5 0]", out.Bytes())
	}
}

func TestReadGreeting_BadVersion(t *testing.T) {
	var out bytes.Buffer
	rw := readWriter{bytes.NewReader([]byte{0x04, 0x01, 0x00}), &out}

	err := ReadGreeting(rw)
	if !errors.Is(err, ErrBadVersion) {
		t.Fatalf("ReadGreeting() error = %v, want ErrBadVersion", err)
	}
	if out.Len() != 0 {
		t.Errorf("wrote %v on bad greeting, want nothing", out.Bytes())
	}
}

func TestReadGreeting_ShortRead(t *testing.T) {
	var out bytes.Buffer
	rw := readWriter{bytes.NewReader([]byte{0x05}), &out}

	if err := ReadGreeting(rw); err == nil {
		t.Fatal("ReadGreeting() with truncated greeting should fail")
	}
}

// ============================================================================
// Request Tests
// ============================================================================

func TestReadRequest_IPv4(t *testing.T) {
	// dst 93.184.216.34:443
	raw := []byte{0x05, 0x01, 0x00, 0x01, 0x5d, 0xb8, 0xd8, 0x22, 0x01, 0xbb}

	req, err := ReadRequest(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadRequest() error = %v", err)
	}

	if req.DestAddr != "93.184.216.34" {
		t.Errorf("DestAddr = %q, want 93.184.216.34", req.DestAddr)
	}
	if req.DestPort != 443 {
		t.Errorf("DestPort = %d, want 443", req.DestPort)
	}

	target := req.Target()
	if target.Addr != "93.184.216.34:443" {
		t.Errorf("Target.Addr = %q, want 93.184.216.34:443", target.Addr)
	}
	if target.Family != egress.FamilyV4 {
		t.Errorf("Target.Family = %v, want v4", target.Family)
	}
}

func TestReadRequest_IPv6(t *testing.T) {
	raw := []byte{0x05, 0x01, 0x00, 0x04}
	raw = append(raw, net.ParseIP("2001:db8::1").To16()...)
	raw = append(raw, 0x00, 0x50)

	req, err := ReadRequest(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadRequest() error = %v", err)
	}

	target := req.Target()
	if target.Addr != "[2001:db8::1]:80" {
		t.Errorf("Target.Addr = %q, want [2001:db8::1]:80", target.Addr)
	}
	if target.Family != egress.FamilyV6 {
		t.Errorf("Target.Family = %v, want v6", target.Family)
	}
}

func TestReadRequest_IPv6Canonical(t *testing.T) {
	tests := []struct {
		ip   string
		want string
	}{
		{"::1", "[::1]:443"},
		{"::", "[::]:443"},
		{"2001:DB8:0:0:0:0:0:1", "[2001:db8::1]:443"},
	}

	for _, tt := range tests {
		raw := []byte{0x05, 0x01, 0x00, 0x04}
		raw = append(raw, net.ParseIP(tt.ip).To16()...)
		raw = append(raw, 0x01, 0xbb)

		req, err := ReadRequest(bytes.NewReader(raw))
		if err != nil {
			t.Fatalf("ReadRequest(%s) error = %v", tt.ip, err)
		}
		if got := req.Target().Addr; got != tt.want {
			t.Errorf("Target.Addr for %s = %q, want %q", tt.ip, got, tt.want)
		}
	}
}

func TestReadRequest_Domain(t *testing.T) {
	domain := "example.com"
	raw := []byte{0x05, 0x01, 0x00, 0x03, byte(len(domain))}
	raw = append(raw, domain...)
	raw = append(raw, 0x01, 0xbb)

	req, err := ReadRequest(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadRequest() error = %v", err)
	}

	target := req.Target()
	if target.Addr != "example.com:443" {
		t.Errorf("Target.Addr = %q, want example.com:443", target.Addr)
	}
	if target.Family != egress.FamilyDomain {
		t.Errorf("Target.Family = %v, want domain", target.Family)
	}
}

func TestReadRequest_DomainLengthBounds(t *testing.T) {
	// Length 0 and 255 must both decode.
	for _, n := range []int{0, 255} {
		domain := strings.Repeat("a", n)
		raw := []byte{0x05, 0x01, 0x00, 0x03, byte(n)}
		raw = append(raw, domain...)
		raw = append(raw, 0x00, 0x50)

		req, err := ReadRequest(bytes.NewReader(raw))
		if err != nil {
			t.Fatalf("ReadRequest() with domain length %d error = %v", n, err)
		}
		if req.DestAddr != domain {
			t.Errorf("DestAddr length = %d, want %d", len(req.DestAddr), n)
		}
	}
}

func TestReadRequest_BadVersion(t *testing.T) {
	raw := []byte{0x04, 0x01, 0x00, 0x01, 1, 2, 3, 4, 0x00, 0x50}

	_, err := ReadRequest(bytes.NewReader(raw))
	if !errors.Is(err, ErrBadVersion) {
		t.Fatalf("ReadRequest() error = %v, want ErrBadVersion", err)
	}
	if got := ReplyCodeForError(err); got != ReplyServerFailure {
		t.Errorf("ReplyCodeForError() = %#x, want SERVER_FAILURE", got)
	}
}

func TestReadRequest_UnsupportedCommand(t *testing.T) {
	for _, cmd := range []byte{CmdBind, CmdUDPAssociate, 0x7f} {
		raw := []byte{0x05, cmd, 0x00, 0x01, 1, 2, 3, 4, 0x00, 0x50}

		_, err := ReadRequest(bytes.NewReader(raw))
		if !errors.Is(err, ErrUnsupportedCommand) {
			t.Fatalf("ReadRequest(cmd=%#x) error = %v, want ErrUnsupportedCommand", cmd, err)
		}
		if got := ReplyCodeForError(err); got != ReplyCmdNotSupported {
			t.Errorf("ReplyCodeForError() = %#x, want CMD_NOT_SUPPORTED", got)
		}
	}
}

func TestReadRequest_UnsupportedAddrType(t *testing.T) {
	raw := []byte{0x05, 0x01, 0x00, 0x02, 1, 2, 3, 4, 0x00, 0x50}

	_, err := ReadRequest(bytes.NewReader(raw))
	if !errors.Is(err, ErrUnsupportedAddr) {
		t.Fatalf("ReadRequest() error = %v, want ErrUnsupportedAddr", err)
	}
	if got := ReplyCodeForError(err); got != ReplyAddrNotSupported {
		t.Errorf("ReplyCodeForError() = %#x, want ADDRTYPE_NOT_SUPPORTED", got)
	}
}

func TestReadRequest_ShortRead(t *testing.T) {
	raw := []byte{0x05, 0x01, 0x00, 0x01, 1, 2} // truncated IPv4 address

	if _, err := ReadRequest(bytes.NewReader(raw)); err == nil {
		t.Fatal("ReadRequest() with truncated request should fail")
	}
}

// ============================================================================
// Round-trip Tests
// ============================================================================

func TestRequestEncode_RoundTrip(t *testing.T) {
	v6 := net.ParseIP("2001:db8::42").To16()

	tests := []struct {
		name string
		raw  []byte
	}{
		{"ipv4", []byte{0x05, 0x01, 0x00, 0x01, 93, 184, 216, 34, 0x01, 0xbb}},
		{"ipv6", append(append([]byte{0x05, 0x01, 0x00, 0x04}, v6...), 0x00, 0x50)},
		{"domain", append(append([]byte{0x05, 0x01, 0x00, 0x03, 11}, "example.com"...), 0x01, 0xbb)},
		{"domain-empty", []byte{0x05, 0x01, 0x00, 0x03, 0, 0x00, 0x50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ReadRequest(bytes.NewReader(tt.raw))
			if err != nil {
				t.Fatalf("ReadRequest() error = %v", err)
			}
			if got := req.Encode(); !bytes.Equal(got, tt.raw) {
				t.Errorf("Encode() = %v, want %v", got, tt.raw)
			}
		})
	}
}

// ============================================================================
// Reply Tests
// ============================================================================

func TestSendReply_FixedTenBytes(t *testing.T) {
	codes := []byte{
		ReplySucceeded,
		ReplyServerFailure,
		ReplyNetworkUnreachable,
		ReplyCmdNotSupported,
		ReplyAddrNotSupported,
	}

	for _, code := range codes {
		var buf bytes.Buffer
		if err := SendReply(&buf, code); err != nil {
			t.Fatalf("SendReply(%#x) error = %v", code, err)
		}

		want := []byte{0x05, code, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
		if !bytes.Equal(buf.Bytes(), want) {
			t.Errorf("SendReply(%#x) = %v, want %v", code, buf.Bytes(), want)
		}
	}
}

// ============================================================================
// Handshake Tests
// ============================================================================

// runHandshake drives Handshake on the server side of a pipe while the
// client writes raw bytes and collects everything the server sent back.
func runHandshake(t *testing.T, clientSends []byte) (*Target, error, []byte) {
	t.Helper()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	type result struct {
		target *Target
		err    error
	}
	done := make(chan result, 1)
	go func() {
		target, err := Handshake(server)
		server.Close()
		done <- result{target, err}
	}()

	// net.Pipe is unbuffered: write and read concurrently to avoid
	// deadlocking against the server's replies.
	go client.Write(clientSends)
	received, _ := io.ReadAll(client)

	res := <-done
	return res.target, res.err, received
}

func TestHandshake_Connect(t *testing.T) {
	msg := []byte{0x05, 0x01, 0x00} // greeting
	msg = append(msg, 0x05, 0x01, 0x00, 0x01, 0x5d, 0xb8, 0xd8, 0x22, 0x01, 0xbb)

	target, err, received := runHandshake(t, msg)
	if err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}
	if target.Addr != "93.184.216.34:443" || target.Family != egress.FamilyV4 {
		t.Errorf("target = %+v", target)
	}
	if !bytes.Equal(received, []byte{0x05, 0x00}) {
		t.Errorf("server sent %v, want method selection only", received)
	}
}

func TestHandshake_UnsupportedCommandRepliesOnWire(t *testing.T) {
	msg := []byte{0x05, 0x01, 0x00} // greeting
	msg = append(msg, 0x05, 0x02, 0x00, 0x01, 1, 2, 3, 4, 0x00, 0x50) // BIND

	_, err, received := runHandshake(t, msg)
	if !errors.Is(err, ErrUnsupportedCommand) {
		t.Fatalf("Handshake() error = %v, want ErrUnsupportedCommand", err)
	}

	want := append([]byte{0x05, 0x00}, 0x05, ReplyCmdNotSupported, 0x00, 0x01, 0, 0, 0, 0, 0, 0)
	if !bytes.Equal(received, want) {
		t.Errorf("server sent %v, want %v", received, want)
	}
}
