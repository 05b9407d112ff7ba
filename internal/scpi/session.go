package scpi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrTimeout is returned (wrapped in an IOError) when the instrument does not
// answer within the session timeout.
var ErrTimeout = errors.New("instrument timeout")

// ErrShortWrite reports a partial command write.
var ErrShortWrite = errors.New("failed to write full command")

// IOError is a fatal communication failure with an instrument.
type IOError struct {
	Op      string // "open", "write", "read"
	Command string
	Err     error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("scpi %s %q: %v", e.Op, e.Command, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Session is a synchronous command/response channel to one instrument.
type Session struct {
	mu   sync.Mutex
	port Port
	r    *bufio.Reader
}

// NewSession wraps port. When port implements TimeoutPort the timeout is
// applied to every read; a timed out read fails with ErrTimeout.
func NewSession(port Port, timeout time.Duration) (*Session, error) {
	if tp, ok := port.(TimeoutPort); ok && timeout > 0 {
		if err := tp.SetReadTimeout(timeout); err != nil {
			return nil, fmt.Errorf("failed to set read timeout: %w", err)
		}
	}
	return &Session{
		port: port,
		r:    bufio.NewReader(timeoutReader{port}),
	}, nil
}

// timeoutReader turns the (0, nil) result of a timed out serial read into
// ErrTimeout so bufio does not spin.
type timeoutReader struct{ r io.Reader }

func (t timeoutReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, ErrTimeout
	}
	return n, err
}

// Write sends one command. A trailing newline is added when missing.
func (s *Session) Write(ctx context.Context, command string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(command)
}

func (s *Session) write(command string) error {
	line := command
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	n, err := s.port.Write([]byte(line))
	if err != nil {
		return &IOError{Op: "write", Command: command, Err: err}
	}
	if n != len(line) {
		return &IOError{Op: "write", Command: command, Err: ErrShortWrite}
	}
	return nil
}

// Query sends a command and returns the reply line without its terminator.
func (s *Session) Query(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(command); err != nil {
		return "", err
	}
	line, err := s.r.ReadString('\n')
	if err != nil {
		return "", &IOError{Op: "read", Command: command, Err: err}
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// QueryBlock sends a command and reads an IEEE 488.2 arbitrary block reply:
// "#<n><len><data>" (definite) or "#0<data>\n" (indefinite).
func (s *Session) QueryBlock(ctx context.Context, command string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(command); err != nil {
		return nil, err
	}
	data, err := readBlock(s.r)
	if err != nil {
		return nil, &IOError{Op: "read", Command: command, Err: err}
	}
	return data, nil
}

func readBlock(r *bufio.Reader) ([]byte, error) {
	hash, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if hash != '#' {
		return nil, fmt.Errorf("malformed block header: expected '#', got %q", hash)
	}
	digits, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if digits < '0' || digits > '9' {
		return nil, fmt.Errorf("malformed block header: bad length digit %q", digits)
	}

	if digits == '0' {
		data, err := r.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		return data[:len(data)-1], nil
	}

	lenField := make([]byte, int(digits-'0'))
	if _, err := io.ReadFull(r, lenField); err != nil {
		return nil, err
	}
	size, err := strconv.Atoi(string(lenField))
	if err != nil {
		return nil, fmt.Errorf("malformed block length %q: %w", lenField, err)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	// the block is followed by the message terminator
	if b, err := r.ReadByte(); err == nil && b != '\n' {
		r.UnreadByte()
	}
	return data, nil
}

// Close releases the port.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}

// EncodeBlock frames data as a definite-length IEEE 488.2 block with a
// trailing newline, as an instrument would send it.
func EncodeBlock(data []byte) []byte {
	size := strconv.Itoa(len(data))
	out := make([]byte, 0, len(data)+len(size)+3)
	out = append(out, '#', byte('0'+len(size)))
	out = append(out, size...)
	out = append(out, data...)
	return append(out, '\n')
}
