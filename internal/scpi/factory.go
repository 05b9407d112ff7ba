package scpi

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Dialer opens a Port for an Address.
// This abstraction enables dependency injection of port creation.
type Dialer interface {
	Dial(ctx context.Context, addr Address) (Port, error)
}

// SystemDialer reaches real instruments: sockets with net, serial lines
// with go.bug.st/serial.
type SystemDialer struct {
	// ConnectTimeout bounds the TCP connect. Zero means 5s.
	ConnectTimeout time.Duration
}

// Dial opens the port described by addr.
func (d SystemDialer) Dial(ctx context.Context, addr Address) (Port, error) {
	switch addr.Scheme {
	case "tcp":
		timeout := d.ConnectTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		nd := net.Dialer{Timeout: timeout}
		conn, err := nd.DialContext(ctx, "tcp", addr.Target)
		if err != nil {
			return nil, err
		}
		return &tcpPort{Conn: conn}, nil

	case "serial":
		mode, err := addr.Options.SerialMode()
		if err != nil {
			return nil, err
		}
		return serial.Open(addr.Target, mode)

	default:
		return nil, fmt.Errorf("unsupported instrument scheme %q", addr.Scheme)
	}
}

// Open parses address, dials it and returns a Session whose reads are
// bounded by timeout.
func Open(ctx context.Context, d Dialer, address string, timeout time.Duration) (*Session, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	port, err := d.Dial(ctx, addr)
	if err != nil {
		return nil, &IOError{Op: "open", Command: addr.String(), Err: err}
	}
	s, err := NewSession(port, timeout)
	if err != nil {
		port.Close()
		return nil, err
	}
	return s, nil
}

// MockDialer implements Dialer for testing.
type MockDialer struct {
	mu sync.Mutex

	// Port is the port to return from Dial
	Port Port

	// Error is returned by Dial if set
	Error error

	// Calls records all dialled addresses
	Calls []Address
}

// NewMockDialer creates a new MockDialer.
func NewMockDialer(port Port) *MockDialer {
	return &MockDialer{Port: port}
}

// Dial returns the configured port or error.
func (m *MockDialer) Dial(ctx context.Context, addr Address) (Port, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, addr)
	if m.Error != nil {
		return nil, m.Error
	}
	return m.Port, nil
}
