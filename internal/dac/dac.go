// Package dac drives Analog Devices AD5791 family precision DACs over SPI.
//
// Every register access is one 24-bit frame, MSB first:
//
//	bit 23     R/W (0 = write)
//	bits 22:20 register address
//	bits 19:0  data
package dac

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Register addresses.
const (
	RegDAC             = 0x1
	RegControl         = 0x2
	RegClearCode       = 0x3
	RegSoftwareControl = 0x4
)

// Control register bits.
const (
	CtrlRBUF   = 1 << 1
	CtrlOPGND  = 1 << 2
	CtrlDACTRI = 1 << 3
	CtrlBIN2SC = 1 << 4
	CtrlSDODIS = 1 << 5
)

// Software control register bits.
const (
	SoftLDAC  = 1 << 0
	SoftCLR   = 1 << 1
	SoftRESET = 1 << 2
)

// FieldBits is the width of the register data field.
const FieldBits = 20

// DefaultSpeed is the SPI clock used when none is given.
const DefaultSpeed = 1 * physic.MegaHertz

// Chip describes one supported DAC.
type Chip struct {
	Name string
	Bits int
}

var chips = map[string]Chip{
	"AD5791": {"AD5791", 20},
	"AD5790": {"AD5790", 20},
	"AD5781": {"AD5781", 18},
	"AD5780": {"AD5780", 18},
	"AD5760": {"AD5760", 16},
}

// boards maps evaluation boards to the chip they carry.
var boards = map[string]string{
	"EVAL-AD5791SDZ": "AD5791",
	"EVAL-AD5790SDZ": "AD5790",
	"EVAL-AD5781SDZ": "AD5781",
	"EVAL-AD5780SDZ": "AD5780",
	"EVAL-AD5760SDZ": "AD5760",
}

// LookupChip returns the chip description for name.
func LookupChip(name string) (Chip, error) {
	c, ok := chips[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return Chip{}, fmt.Errorf("unsupported DAC chip %q", name)
	}
	return c, nil
}

// IOError is a fatal failure talking to the DAC.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("dac %s: %v", e.Op, e.Err) }

func (e *IOError) Unwrap() error { return e.Err }

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// Conn is the SPI transfer used by the session; spi.Conn satisfies it.
type Conn interface {
	Tx(w, r []byte) error
}

// Option configures Connect.
type Option func(*connectOptions)

type connectOptions struct {
	speed physic.Frequency
}

// WithSpeed sets the SPI clock.
func WithSpeed(f physic.Frequency) Option {
	return func(o *connectOptions) { o.speed = f }
}

// Session is an open DAC.
type Session struct {
	mu     sync.Mutex
	conn   Conn
	closer io.Closer
	board  string
	chip   Chip
	ctrl   uint32
	code   uint32
	closed bool
}

// Connect opens the SPI port (empty name selects the first registered port)
// and returns a session for chip on board.
func Connect(board, chip, port string, opts ...Option) (*Session, error) {
	o := connectOptions{speed: DefaultSpeed}
	for _, opt := range opts {
		opt(&o)
	}
	c, err := checkBoard(board, chip)
	if err != nil {
		return nil, err
	}

	if _, err := host.Init(); err != nil {
		return nil, &IOError{Op: "host init", Err: err}
	}
	p, err := spireg.Open(port)
	if err != nil {
		return nil, &IOError{Op: "open " + port, Err: err}
	}
	conn, err := p.Connect(o.speed, spi.Mode1, 8)
	if err != nil {
		p.Close()
		return nil, &IOError{Op: "connect " + port, Err: err}
	}
	return newSession(board, c, conn, p), nil
}

// NewSession wraps an already connected SPI transfer.
func NewSession(board, chip string, conn Conn, closer io.Closer) (*Session, error) {
	c, err := checkBoard(board, chip)
	if err != nil {
		return nil, err
	}
	return newSession(board, c, conn, closer), nil
}

func newSession(board string, c Chip, conn Conn, closer io.Closer) *Session {
	return &Session{
		conn:   conn,
		closer: closer,
		board:  board,
		chip:   c,
		ctrl:   CtrlRBUF | CtrlOPGND | CtrlDACTRI,
	}
}

func checkBoard(board, chip string) (Chip, error) {
	c, err := LookupChip(chip)
	if err != nil {
		return Chip{}, err
	}
	if want, ok := boards[strings.ToUpper(board)]; ok && want != c.Name {
		return Chip{}, fmt.Errorf("board %s carries %s, not %s", board, want, c.Name)
	}
	return c, nil
}

// Chip returns the connected chip.
func (s *Session) Chip() Chip { return s.chip }

// Board returns the board name given at connect time.
func (s *Session) Board() string { return s.board }

// Code returns the last code written.
func (s *Session) Code() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// Frame encodes a write of data to register addr.
func Frame(addr, data uint32) []byte {
	v := (addr&0x7)<<FieldBits | data&(1<<FieldBits-1)
	return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

// ParseFrame decodes a 24-bit frame into read flag, address and data.
func ParseFrame(b []byte) (read bool, addr, data uint32, err error) {
	if len(b) != 3 {
		return false, 0, 0, fmt.Errorf("frame must be 3 bytes, got %d", len(b))
	}
	v := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	return v&(1<<23) != 0, (v >> FieldBits) & 0x7, v & (1<<FieldBits - 1), nil
}

func (s *Session) tx(op string, addr, data uint32) error {
	if s.closed {
		return &IOError{Op: op, Err: ErrClosed}
	}
	r := make([]byte, 3)
	if err := s.conn.Tx(Frame(addr, data), r); err != nil {
		return &IOError{Op: op, Err: err}
	}
	return nil
}

// Reset issues a software reset. The output returns to its clamped power-on state.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.tx("reset", RegSoftwareControl, SoftRESET); err != nil {
		return err
	}
	s.ctrl = CtrlRBUF | CtrlOPGND | CtrlDACTRI
	s.code = 0
	return nil
}

// WriteCode loads code, expressed with resolutionBits of precision, into the
// DAC register and updates the output. With enableOutput the output
// stage is taken out of tristate and ground clamp.
func (s *Session) WriteCode(code uint32, resolutionBits int, enableOutput bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if resolutionBits < 1 || resolutionBits > s.chip.Bits {
		return fmt.Errorf("resolution %d bits outside 1..%d for %s", resolutionBits, s.chip.Bits, s.chip.Name)
	}
	if code >= 1<<uint(resolutionBits) {
		return fmt.Errorf("code 0x%X does not fit in %d bits", code, resolutionBits)
	}

	if err := s.tx("write code", RegDAC, code<<uint(FieldBits-resolutionBits)); err != nil {
		return err
	}
	if err := s.tx("load", RegSoftwareControl, SoftLDAC); err != nil {
		return err
	}
	s.code = code

	if enableOutput && s.ctrl&(CtrlOPGND|CtrlDACTRI) != 0 {
		ctrl := CtrlRBUF | CtrlBIN2SC
		if err := s.tx("enable output", RegControl, uint32(ctrl)); err != nil {
			return err
		}
		s.ctrl = uint32(ctrl)
	}
	return nil
}

// RemoveOutputClamp releases the output ground clamp and tristate.
func (s *Session) RemoveOutputClamp() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctrl := s.ctrl &^ (CtrlOPGND | CtrlDACTRI)
	if err := s.tx("remove output clamp", RegControl, ctrl); err != nil {
		return err
	}
	s.ctrl = ctrl
	return nil
}

// OutputEnabled reports whether the output stage is driving.
func (s *Session) OutputEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl&(CtrlOPGND|CtrlDACTRI) == 0
}

// Close releases the SPI port. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
