// Package ping implements the status half of the Minecraft Server List Ping
// protocol. A successful ping means the game server has finished loading and
// is accepting connections.
package ping

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

const (
	DefaultPort    = 25565
	DefaultTimeout = 5 * time.Second

	// maxPacketSize bounds the status response the server may send back
	maxPacketSize = 1 << 20

	stateStatus         = 1
	protocolUnspecified = -1
)

var ErrMalformedResponse = errors.New("malformed status response")

// Status is the decoded part of a status response
type Status struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int    `json:"protocol"`
	} `json:"version"`
	Players struct {
		Online int `json:"online"`
		Max    int `json:"max"`
	} `json:"players"`
	Description json.RawMessage `json:"description,omitempty"`
	Latency     time.Duration   `json:"-"`
}

// Ping connects to addr (host or host:port), sends a handshake and a status
// request and decodes the reply. The whole exchange runs under timeout.
func Ping(ctx context.Context, addr string, timeout time.Duration) (*Status, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	host, port, err := splitAddr(addr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(handshake(host, port)); err != nil {
		return nil, fmt.Errorf("write handshake: %w", err)
	}
	// Status request: empty packet with id 0
	if _, err := conn.Write(framePacket(0x00, nil)); err != nil {
		return nil, fmt.Errorf("write status request: %w", err)
	}

	payload, err := readStatus(bufio.NewReader(conn))
	if err != nil {
		return nil, err
	}

	var st Status
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	st.Latency = time.Since(start)
	return &st, nil
}

func splitAddr(addr string) (string, uint16, error) {
	if addr == "" {
		return "", 0, errors.New("empty address")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// No port given
		return addr, DefaultPort, nil
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", addr, err)
	}
	return host, uint16(port), nil
}

func handshake(host string, port uint16) []byte {
	var body []byte
	body = appendVarInt(body, protocolUnspecified)
	body = appendString(body, host)
	body = binary.BigEndian.AppendUint16(body, port)
	body = appendVarInt(body, stateStatus)
	return framePacket(0x00, body)
}

func framePacket(id int32, body []byte) []byte {
	inner := appendVarInt(nil, id)
	inner = append(inner, body...)
	out := appendVarInt(make([]byte, 0, len(inner)+5), int32(len(inner)))
	return append(out, inner...)
}

// readStatus reads one framed packet and returns the JSON string it carries
func readStatus(r *bufio.Reader) ([]byte, error) {
	length, err := readVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("read packet length: %w", err)
	}
	if length <= 0 || length > maxPacketSize {
		return nil, fmt.Errorf("%w: packet length %d", ErrMalformedResponse, length)
	}

	packet := make([]byte, length)
	if _, err := io.ReadFull(r, packet); err != nil {
		return nil, fmt.Errorf("read packet: %w", err)
	}

	pr := bytes.NewReader(packet)
	id, err := readVarInt(pr)
	if err != nil || id != 0x00 {
		return nil, fmt.Errorf("%w: unexpected packet id %d", ErrMalformedResponse, id)
	}
	n, err := readVarInt(pr)
	if err != nil || n < 0 || int(n) > pr.Len() {
		return nil, fmt.Errorf("%w: bad string length", ErrMalformedResponse)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(pr, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return payload, nil
}

// VarInts are unsigned LEB128 over the 32-bit two's complement value
func appendVarInt(b []byte, v int32) []byte {
	return binary.AppendUvarint(b, uint64(uint32(v)))
}

func appendString(b []byte, s string) []byte {
	b = appendVarInt(b, int32(len(s)))
	return append(b, s...)
}

func readVarInt(r io.ByteReader) (int32, error) {
	var v uint32
	for i := 0; i < 5; i++ {
		c, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint32(c&0x7f) << (7 * i)
		if c&0x80 == 0 {
			return int32(v), nil
		}
	}
	return 0, errors.New("varint too long")
}
