package scpi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_WriteAppendsTerminator(t *testing.T) {
	port := NewTestablePort(nil)
	s, err := NewSession(port, 10*time.Second)
	require.NoError(t, err)

	require.NoError(t, s.Write(context.Background(), "SENS:FREQ:STAR 8000000;STOP 11000000"))
	require.NoError(t, s.Write(context.Background(), "*CLS\n"))

	assert.Equal(t, []string{"SENS:FREQ:STAR 8000000;STOP 11000000", "*CLS"}, port.Sent())
	assert.Equal(t, 10*time.Second, port.ReadTimeout)
}

func TestSession_Query(t *testing.T) {
	port := NewTestablePort(func(cmd string) []byte {
		if cmd == "*OPC?" {
			return []byte("+1\r\n")
		}
		return nil
	})
	s, err := NewSession(port, time.Second)
	require.NoError(t, err)

	got, err := s.Query(context.Background(), "*OPC?")
	require.NoError(t, err)
	assert.Equal(t, "+1", got)
}

func TestSession_QueryTimeout(t *testing.T) {
	port := NewTestablePort(nil)
	s, err := NewSession(port, time.Second)
	require.NoError(t, err)

	_, err = s.Query(context.Background(), "TRIG:SING;*OPC?")
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "read", ioErr.Op)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSession_QueryBlockDefinite(t *testing.T) {
	payload := []byte{0x3f, 0xf0, 0, 0, 0, 0, 0, 0, '\n', '#'}
	port := NewTestablePort(func(cmd string) []byte {
		return EncodeBlock(payload)
	})
	s, err := NewSession(port, time.Second)
	require.NoError(t, err)

	got, err := s.QueryBlock(context.Background(), "CALC:DATA:FDATA?")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// terminator consumed: a following query reads cleanly
	got, err = s.QueryBlock(context.Background(), "CALC:DATA:FDATA?")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSession_QueryBlockIndefinite(t *testing.T) {
	port := NewTestablePort(func(cmd string) []byte { return []byte("#0abc\n") })
	s, _ := NewSession(port, time.Second)

	got, err := s.QueryBlock(context.Background(), "X?")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestSession_QueryBlockMalformed(t *testing.T) {
	for name, reply := range map[string]string{
		"no hash":   "1.0,2.0\n",
		"bad digit": "#x12\n",
		"bad len":   "#2ab0123\n",
		"truncated": "#210short",
	} {
		t.Run(name, func(t *testing.T) {
			port := NewTestablePort(func(string) []byte { return []byte(reply) })
			s, _ := NewSession(port, time.Second)
			_, err := s.QueryBlock(context.Background(), "CALC:DATA:FDATA?")
			var ioErr *IOError
			assert.ErrorAs(t, err, &ioErr)
		})
	}
}

func TestSession_WriteErrors(t *testing.T) {
	port := NewTestablePort(nil)
	port.WriteError = errors.New("cable unplugged")
	s, _ := NewSession(port, time.Second)

	err := s.Write(context.Background(), "*RST")
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "write", ioErr.Op)
	assert.Equal(t, "*RST", ioErr.Command)
	assert.Contains(t, err.Error(), "cable unplugged")
}

func TestSession_CancelledContext(t *testing.T) {
	port := NewTestablePort(nil)
	s, _ := NewSession(port, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Write(ctx, "*RST"), context.Canceled)
	_, err := s.Query(ctx, "*IDN?")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.QueryBlock(ctx, "X?")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, port.Sent())
}

func TestSession_Close(t *testing.T) {
	port := NewTestablePort(nil)
	s, _ := NewSession(port, time.Second)
	require.NoError(t, s.Close())
	assert.True(t, port.Closed)

	err := s.Write(context.Background(), "*RST")
	assert.ErrorIs(t, err, ErrPortClosed)
}

func TestOpen_UsesDialer(t *testing.T) {
	port := NewTestablePort(nil)
	d := NewMockDialer(port)

	s, err := Open(context.Background(), d, "serial:///dev/ttyUSB0?baud=9600", 2*time.Second)
	require.NoError(t, err)
	defer s.Close()

	require.Len(t, d.Calls, 1)
	assert.Equal(t, "/dev/ttyUSB0", d.Calls[0].Target)
	assert.Equal(t, 9600, d.Calls[0].Options.BaudRate)
	assert.Equal(t, 2*time.Second, port.ReadTimeout)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), NewMockDialer(nil), "ftp://x", time.Second)
	assert.Error(t, err)

	d := NewMockDialer(nil)
	d.Error = errors.New("connection refused")
	_, err = Open(context.Background(), d, "tcp://127.0.0.1:5025", time.Second)
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "open", ioErr.Op)
}

func TestSystemDialer_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		if string(buf[:n]) == "*IDN?\n" {
			conn.Write([]byte("Keysight Technologies,E4990A,MY0000,A.02\n"))
		}
		// keep the socket open so the second query times out
		time.Sleep(500 * time.Millisecond)
	}()

	s, err := Open(context.Background(), SystemDialer{}, "tcp://"+ln.Addr().String(), 100*time.Millisecond)
	require.NoError(t, err)
	defer s.Close()

	idn, err := s.Query(context.Background(), "*IDN?")
	require.NoError(t, err)
	assert.Contains(t, idn, "E4990A")

	_, err = s.Query(context.Background(), "*OPC?")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSystemDialer_SerialMissingDevice(t *testing.T) {
	_, err := Open(context.Background(), SystemDialer{}, "serial:///dev/nonexistent-serial-port-12345", time.Second)
	assert.Error(t, err)
}
