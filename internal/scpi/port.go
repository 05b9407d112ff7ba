// Package scpi talks SCPI to bench instruments over a raw socket or a serial
// line: newline-terminated commands, line replies and IEEE 488.2 blocks.
package scpi

import (
	"io"
	"net"
	"time"
)

// Port defines the minimal byte stream needed to reach an instrument.
// This abstraction enables unit testing without real hardware.
type Port interface {
	io.ReadWriter
	io.Closer
}

// TimeoutPort extends Port with a read timeout. go.bug.st/serial ports
// implement it directly; socket ports through tcpPort.
type TimeoutPort interface {
	Port
	// SetReadTimeout bounds every subsequent Read. A timed out Read returns
	// (0, nil) like a serial port does.
	SetReadTimeout(timeout time.Duration) error
}

// tcpPort adapts a net.Conn to TimeoutPort.
type tcpPort struct {
	net.Conn
	timeout time.Duration
}

func (p *tcpPort) SetReadTimeout(timeout time.Duration) error {
	p.timeout = timeout
	return nil
}

func (p *tcpPort) Read(b []byte) (int, error) {
	if p.timeout > 0 {
		if err := p.Conn.SetReadDeadline(time.Now().Add(p.timeout)); err != nil {
			return 0, err
		}
	}
	n, err := p.Conn.Read(b)
	if ne, ok := err.(net.Error); ok && ne.Timeout() && n == 0 {
		return 0, nil
	}
	return n, err
}
