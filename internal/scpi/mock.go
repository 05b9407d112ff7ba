package scpi

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrPortClosed is returned by TestablePort after Close.
var ErrPortClosed = errors.New("port closed")

// TestablePort implements TimeoutPort with configurable behaviour for testing.
// Every complete command line written is recorded and, when Respond is set,
// answered by appending its reply to the read buffer.
type TestablePort struct {
	mu sync.Mutex

	// Respond returns the reply to a command, or nil for none.
	Respond func(command string) []byte

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// Commands records every command line written, without terminator
	Commands []string

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadTimeout is the current read timeout
	ReadTimeout time.Duration

	pending []byte
}

// NewTestablePort creates a new TestablePort answering with respond.
func NewTestablePort(respond func(command string) []byte) *TestablePort {
	return &TestablePort{
		Respond:    respond,
		ReadBuffer: bytes.NewBuffer(nil),
	}
}

// Read reads from the read buffer. An empty buffer behaves like a serial
// read timeout and returns (0, nil).
func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrPortClosed
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.ReadBuffer.Len() == 0 {
		return 0, nil
	}
	return t.ReadBuffer.Read(p)
}

// Write records complete command lines and queues their replies.
func (t *TestablePort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	t.pending = append(t.pending, p...)
	for {
		i := bytes.IndexByte(t.pending, '\n')
		if i < 0 {
			break
		}
		cmd := strings.TrimRight(string(t.pending[:i]), "\r")
		t.pending = t.pending[i+1:]
		t.Commands = append(t.Commands, cmd)
		if t.Respond != nil {
			if reply := t.Respond(cmd); reply != nil {
				t.ReadBuffer.Write(reply)
			}
		}
	}
	return len(p), nil
}

// Close marks the port as closed.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	return t.CloseError
}

// SetReadTimeout implements TimeoutPort.
func (t *TestablePort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestablePort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
}

// Sent returns a copy of the recorded commands.
func (t *TestablePort) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string(nil), t.Commands...)
}

// ResetCommands clears the recorded commands.
func (t *TestablePort) ResetCommands() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Commands = nil
}
