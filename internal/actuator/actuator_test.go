package actuator

import (
	"bytes"
	"errors"
	"testing"

	"github.com/signalsfoundry/flywheel-launcher/core"
)

var (
	_ core.VoltageSink = (*SimMotor)(nil)
	_ core.FeedSink    = (*SimFeeder)(nil)
	_ core.VoltageSink = (*SerialBridge)(nil)
	_ core.FeedSink    = (*SerialBridge)(nil)
)

type bufferPort struct {
	bytes.Buffer
	closed   bool
	writeErr error
}

func (p *bufferPort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.Buffer.Write(b)
}

func (p *bufferPort) Close() error {
	p.closed = true
	return nil
}

func TestSimMotorRecords(t *testing.T) {
	m := NewSimMotor(nil)
	_ = m.SetVoltage(4.5)
	_ = m.SetVoltage(4.5)
	_ = m.StopAll()
	if m.Voltage() != 0 {
		t.Fatalf("Voltage() = %v, want 0 after StopAll", m.Voltage())
	}
	if got := m.Commands(); len(got) != 3 || got[0] != 4.5 {
		t.Fatalf("Commands() = %v", got)
	}

	f := NewSimFeeder(nil)
	_ = f.SetFeedRate(0.5)
	if f.Rate() != 0.5 {
		t.Fatalf("Rate() = %v, want 0.5", f.Rate())
	}
	_ = f.StopAll()
	if got := f.Commands(); len(got) != 2 || got[1] != 0 {
		t.Fatalf("Commands() = %v", got)
	}
}

func TestSerialBridgeLineProtocol(t *testing.T) {
	port := &bufferPort{}
	b := NewSerialBridge(port)

	steps := []func() error{
		func() error { return b.SetVoltage(5.079) },
		func() error { return b.SetVoltage(5.08) }, // same after rounding, suppressed
		func() error { return b.SetFeedRate(0.5) },
		func() error { return b.SetFeedRate(-0.5) },
		func() error { return b.StopAll() },
		func() error { return b.SetFeedRate(0) }, // already zero after stop
		func() error { return b.SetVoltage(2) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	want := "V 5.08\nF 0.50\nF -0.50\nS\nV 2.00\n"
	if got := port.String(); got != want {
		t.Fatalf("wire = %q, want %q", got, want)
	}
}

func TestSerialBridgeClose(t *testing.T) {
	port := &bufferPort{}
	b := NewSerialBridge(port)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !port.closed || port.String() != "S\n" {
		t.Fatalf("Close should stop then close the port, wire = %q", port.String())
	}
	if err := b.SetVoltage(1); !errors.Is(err, ErrClosed) {
		t.Fatalf("SetVoltage after Close = %v, want ErrClosed", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSerialBridgeWriteErrorClearsCache(t *testing.T) {
	port := &bufferPort{writeErr: errors.New("unplugged")}
	b := NewSerialBridge(port)
	if err := b.SetVoltage(3); err == nil {
		t.Fatalf("expected write error")
	}
	if _, cached := b.cache['V']; cached {
		t.Fatalf("failed command must not be cached")
	}
}

func TestSerialBridgeFailedStopKeepsZeroCommands(t *testing.T) {
	port := &bufferPort{}
	b := NewSerialBridge(port)
	if err := b.SetVoltage(3); err != nil {
		t.Fatalf("SetVoltage: %v", err)
	}

	port.writeErr = errors.New("unplugged")
	if err := b.StopAll(); err == nil {
		t.Fatalf("expected stop write error")
	}
	port.writeErr = nil
	port.Reset()

	if err := b.SetVoltage(0); err != nil {
		t.Fatalf("SetVoltage(0): %v", err)
	}
	if err := b.SetFeedRate(0); err != nil {
		t.Fatalf("SetFeedRate(0): %v", err)
	}
	if got, want := port.String(), "V 0.00\nF 0.00\n"; got != want {
		t.Fatalf("port = %q, want %q", got, want)
	}
}
