package actuator

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tarm/serial"
)

// DefaultBaud is the motor board's serial rate.
const DefaultBaud = 115200

// ErrClosed is returned by a bridge after Close.
var ErrClosed = errors.New("serial bridge closed")

// SerialBridge drives a motor controller board over a line protocol:
//
//	V <volts>\n     launcher motor voltage
//	F <fraction>\n  feeder output in [-1, 1]
//	S\n             stop everything
//
// Repeated identical commands are suppressed. Every command is flushed
// before the call returns.
type SerialBridge struct {
	mu     sync.Mutex
	port   io.WriteCloser
	w      *bufio.Writer
	cache  map[byte]string
	closed bool
}

// NewSerialBridge wraps an open port.
func NewSerialBridge(port io.WriteCloser) *SerialBridge {
	return &SerialBridge{
		port:  port,
		w:     bufio.NewWriter(port),
		cache: make(map[byte]string),
	}
}

// OpenSerial opens name at baud (DefaultBaud when zero) and wraps it.
func OpenSerial(name string, baud int) (*SerialBridge, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	port, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	return NewSerialBridge(port), nil
}

// SetVoltage sends a launcher voltage command.
func (b *SerialBridge) SetVoltage(volts float64) error {
	return b.send('V', fmt.Sprintf("%.2f", volts))
}

// SetFeedRate sends a feeder command.
func (b *SerialBridge) SetFeedRate(fraction float64) error {
	return b.send('F', fmt.Sprintf("%.2f", fraction))
}

// StopAll tells the board to stop both outputs.
func (b *SerialBridge) StopAll() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if err := b.writeLocked("S\n"); err != nil {
		delete(b.cache, 'V')
		delete(b.cache, 'F')
		return err
	}
	b.cache['V'] = "0.00"
	b.cache['F'] = "0.00"
	return nil
}

// Close stops the board and releases the port.
func (b *SerialBridge) Close() error {
	stopErr := b.StopAll()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if errors.Is(stopErr, ErrClosed) {
		stopErr = nil
	}
	return errors.Join(stopErr, b.port.Close())
}

func (b *SerialBridge) send(cmd byte, arg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if prev, ok := b.cache[cmd]; ok && prev == arg {
		return nil
	}
	if err := b.writeLocked(fmt.Sprintf("%c %s\n", cmd, arg)); err != nil {
		delete(b.cache, cmd)
		return err
	}
	b.cache[cmd] = arg
	return nil
}

func (b *SerialBridge) writeLocked(line string) error {
	if _, err := b.w.WriteString(line); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	if err := b.w.Flush(); err != nil {
		b.w.Reset(b.port)
		return fmt.Errorf("serial flush: %w", err)
	}
	return nil
}
