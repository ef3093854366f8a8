// SPDX-License-Identifier: AGPL-3.0-only

// Command gelfload sends synthetic GELF traffic at a running gelfgate
// instance, for manual load testing and for exercising the UDP
// chunk-reassembly and TCP NUL-framing paths end to end. It is an
// adaptation of the teacher's harness/generator fixture tool: the
// random log-content generator is kept, but its output is now a GELF
// envelope sent over the wire instead of an OpenTelemetry JSON line
// written to a file, and the HTTP batch/stream senders are replaced
// with the UDP/TCP senders below, grounded on
// original_source/tests/src/support/{udp,tcp}.rs's Sock.send and
// Stream.write helpers.
package main

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	mrand "math/rand"
	"net"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "udp://127.0.0.1:12201", "target address, udp://host:port or tcp://host:port")
	count := flag.Int("count", 1000, "number of GELF messages to send")
	delay := flag.Duration("delay", 0, "delay between sends (0 = as fast as possible)")
	chunkSize := flag.Int("chunk-size", 0, "UDP only: split payloads larger than this into GELF chunks (0 = never chunk)")
	compressFlag := flag.String("compress", "none", "UDP only: gzip, zlib, or none")
	flag.Parse()

	scheme, hostport, err := splitAddr(*addr)
	if err != nil {
		return err
	}

	sender, err := dial(scheme, hostport)
	if err != nil {
		return err
	}
	defer sender.Close()

	gen := &logGenerator{}

	sent := 0
	for i := 0; i < *count; i++ {
		payload := gen.generate()

		frames, err := encode(scheme, payload, *chunkSize, *compressFlag)
		if err != nil {
			return err
		}

		if err := sender.Send(frames); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		sent++

		if sent%1000 == 0 {
			fmt.Fprintf(os.Stderr, "sent %d/%d\n", sent, *count)
		}
		if *delay > 0 {
			time.Sleep(*delay)
		}
	}

	fmt.Fprintf(os.Stderr, "sent %d GELF messages to %s\n", sent, *addr)
	return nil
}

func splitAddr(addr string) (scheme, hostport string, err error) {
	switch {
	case strings.HasPrefix(addr, "udp://"):
		return "udp", strings.TrimPrefix(addr, "udp://"), nil
	case strings.HasPrefix(addr, "tcp://"):
		return "tcp", strings.TrimPrefix(addr, "tcp://"), nil
	default:
		return "", "", fmt.Errorf("addr must start with udp:// or tcp://, got %q", addr)
	}
}

// sender abstracts the two wire senders below behind the same shape
// as support/udp.rs's Sock and support/tcp.rs's Stream: a single
// method taking the list of frames one logical message was split
// into, plus Close for the TCP case's orderly shutdown.
type sender interface {
	Send(frames [][]byte) error
	Close() error
}

func dial(scheme, hostport string) (sender, error) {
	switch scheme {
	case "udp":
		raddr, err := net.ResolveUDPAddr("udp", hostport)
		if err != nil {
			return nil, err
		}
		conn, err := net.DialUDP("udp", nil, raddr)
		if err != nil {
			return nil, err
		}
		return &udpSender{conn: conn}, nil
	case "tcp":
		conn, err := net.Dial("tcp", hostport)
		if err != nil {
			return nil, err
		}
		return &tcpSender{conn: conn}, nil
	default:
		return nil, fmt.Errorf("unknown scheme %q", scheme)
	}
}

// udpSender writes each frame as its own datagram, mirroring
// support/udp.rs's Sock.send looping over send_to per datagram.
type udpSender struct {
	conn *net.UDPConn
}

func (s *udpSender) Send(frames [][]byte) error {
	for _, f := range frames {
		if _, err := s.conn.Write(f); err != nil {
			return err
		}
	}
	return nil
}

func (s *udpSender) Close() error { return s.conn.Close() }

// tcpSender writes each frame as a contiguous write, mirroring
// support/tcp.rs's Stream.write looping over chunks; the caller is
// responsible for NUL-terminating each frame before it reaches here.
type tcpSender struct {
	conn net.Conn
}

func (s *tcpSender) Send(frames [][]byte) error {
	for _, f := range frames {
		if _, err := s.conn.Write(f); err != nil {
			return err
		}
	}
	return nil
}

func (s *tcpSender) Close() error { return s.conn.Close() }

// encode turns one GELF JSON payload into the frame(s) that must be
// written to the wire: a TCP frame gets a single trailing NUL, a UDP
// payload is optionally compressed and then split into GELF chunks
// (chunkHeaderSize below mirrors internal/reassemble's wire layout)
// when it exceeds chunkSize.
func encode(scheme string, payload []byte, chunkSize int, compressKind string) ([][]byte, error) {
	if scheme == "tcp" {
		frame := make([]byte, len(payload)+1)
		copy(frame, payload)
		frame[len(payload)] = 0
		return [][]byte{frame}, nil
	}

	compressed, err := compressPayload(payload, compressKind)
	if err != nil {
		return nil, err
	}

	if chunkSize <= 0 || len(compressed) <= chunkSize {
		return [][]byte{compressed}, nil
	}
	return chunkPayload(compressed, chunkSize), nil
}

func compressPayload(payload []byte, kind string) ([]byte, error) {
	var buf bytes.Buffer
	switch kind {
	case "none", "":
		return payload, nil
	case "gzip":
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "zlib":
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown -compress value %q", kind)
	}
}

const (
	chunkHeaderSize = 12
	magicByte0      = 0x1e
	magicByte1      = 0x0f
)

// chunkPayload splits compressed into GELF chunks of at most
// chunkSize bytes of payload each, prefixed by the 12-byte chunk
// header (magic, 8-byte message id, seq_num, seq_count), the same
// wire layout internal/reassemble expects on the receiving end.
func chunkPayload(payload []byte, chunkSize int) [][]byte {
	total := (len(payload) + chunkSize - 1) / chunkSize
	if total > 255 {
		total = 255
	}

	var msgID [8]byte
	rand.Read(msgID[:])

	frames := make([][]byte, 0, total)
	for seq := 0; seq < total; seq++ {
		start := seq * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}

		header := make([]byte, chunkHeaderSize)
		header[0], header[1] = magicByte0, magicByte1
		copy(header[2:10], msgID[:])
		header[10] = byte(seq)
		header[11] = byte(total)

		frames = append(frames, append(header, payload[start:end]...))
	}
	return frames
}

// logGenerator produces random but plausible web-application GELF
// envelopes. The catalog of message templates and attribute choices
// is kept from the teacher's OpenTelemetry log generator; only the
// output shape changed, from an OTel log record to a GELF envelope.
type logGenerator struct {
	seq uint64
}

func (g *logGenerator) generate() []byte {
	g.seq++
	pattern := webAppPatterns[mrand.Intn(len(webAppPatterns))]

	env := map[string]interface{}{
		"version":       "1.1",
		"host":          randomChoice(services) + "-host",
		"short_message": g.formatMessage(pattern.Template),
		"timestamp":     float64(time.Now().UnixNano()) / 1e9,
		"level":         syslogLevel(pattern.Level),
		"facility":      "gelfload",
		"_service":      randomChoice(services),
		"_request_id":   fmt.Sprintf("req_%s", randomString(16)),
		"_seq":          g.seq,
	}

	if mrand.Float32() < 0.7 {
		env["_http_method"] = randomChoice(httpMethods)
		env["_http_route"] = randomChoice(endpoints)
		env["_http_status_code"] = statusCodes[mrand.Intn(len(statusCodes))]
		env["_duration_ms"] = mrand.Intn(5000)
	}

	if pattern.Level == "error" {
		env["_error_type"] = randomChoice(errorCodes)
		env["full_message"] = randomChoice(errorMessages)
	}

	buf, _ := json.Marshal(env)
	return buf
}

func (g *logGenerator) formatMessage(template string) string {
	replacements := map[string]string{
		"{user_id}":    fmt.Sprintf("user_%d", mrand.Intn(10000)),
		"{endpoint}":   randomChoice(endpoints),
		"{method}":     randomChoice(httpMethods),
		"{status}":     fmt.Sprintf("%d", statusCodes[mrand.Intn(len(statusCodes))]),
		"{duration}":   fmt.Sprintf("%d", mrand.Intn(5000)),
		"{error}":      randomChoice(errorMessages),
		"{count}":      fmt.Sprintf("%d", mrand.Intn(1000)),
		"{threshold}":  fmt.Sprintf("%d", mrand.Intn(100)),
		"{percentage}": fmt.Sprintf("%.2f", mrand.Float64()*100),
	}

	result := template
	for k, v := range replacements {
		result = strings.ReplaceAll(result, k, v)
	}
	return result
}

// syslogLevel maps a textual level to its syslog severity number, the
// inverse of internal/clef's levelName table.
func syslogLevel(level string) int {
	switch level {
	case "debug":
		return 7
	case "info":
		return 6
	case "warn":
		return 4
	case "error":
		return 3
	default:
		return 6
	}
}

func randomString(length int) string {
	const charset = "abcdef0123456789"
	result := make([]byte, length)
	for i := range result {
		result[i] = charset[mrand.Intn(len(charset))]
	}
	return string(result)
}

func randomChoice(slice []string) string {
	return slice[mrand.Intn(len(slice))]
}

type logPattern struct {
	Level    string
	Template string
}

var webAppPatterns = []logPattern{
	{"info", "Request processed successfully"},
	{"info", "User {user_id} logged in"},
	{"info", "API request: {method} {endpoint} completed in {duration}ms"},
	{"debug", "Processing request for endpoint {endpoint}"},
	{"debug", "Validating request parameters"},
	{"warn", "Slow query detected: {duration}ms for {endpoint}"},
	{"warn", "High memory usage: {percentage}% of limit"},
	{"warn", "Queue depth is {count} (threshold: {threshold})"},
	{"error", "Database connection failed: {error}"},
	{"error", "Authentication failed for user {user_id}"},
	{"error", "Request timeout after {duration}ms for {endpoint}"},
	{"error", "Validation error: {error}"},
}

var services = []string{
	"api-gateway", "auth-service", "payment-service", "user-service",
	"notification-service", "order-service", "inventory-service",
}

var endpoints = []string{
	"/api/v1/users", "/api/v1/orders", "/api/v1/products",
	"/api/v1/auth/login", "/api/v1/auth/register", "/api/v1/payments",
}

var httpMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH"}

var statusCodes = []int{200, 201, 204, 400, 401, 403, 404, 422, 500, 502, 503}

var errorCodes = []string{
	"ERR_DB_CONNECTION", "ERR_TIMEOUT", "ERR_VALIDATION",
	"ERR_AUTH_FAILED", "ERR_NOT_FOUND", "ERR_RATE_LIMIT",
}

var errorMessages = []string{
	"connection timeout", "validation failed", "user not found",
	"permission denied", "invalid token", "database error",
}
