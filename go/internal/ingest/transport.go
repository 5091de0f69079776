package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.bug.st/serial"
)

// Port is an open channel to the peripheral. Read returns (0, nil) when its read
// timeout elapses without data so the reader can check for cancellation.
type Port interface {
	io.ReadWriteCloser
}

// Opener (re)opens the channel to the peripheral
type Opener interface {
	Open(ctx context.Context) (Port, error)
	String() string
}

// SerialOpener opens a local serial device
type SerialOpener struct {
	Device      string
	BaudRate    int
	ReadTimeout time.Duration
}

func (o SerialOpener) Open(ctx context.Context) (Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := serial.Open(o.Device, &serial.Mode{BaudRate: o.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", o.Device, err)
	}
	if err := port.SetReadTimeout(o.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", o.Device, err)
	}
	return port, nil
}

func (o SerialOpener) String() string {
	return fmt.Sprintf("serial://%s@%d", o.Device, o.BaudRate)
}

// TCPOpener dials a serial-over-IP bridge
type TCPOpener struct {
	Address     string
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

func (o TCPOpener) Open(ctx context.Context) (Port, error) {
	dialer := net.Dialer{Timeout: o.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", o.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", o.Address, err)
	}
	return NewDeadlinePort(conn, o.ReadTimeout), nil
}

func (o TCPOpener) String() string {
	return "tcp://" + o.Address
}

// deadlinePort adapts a net.Conn to the Port read-timeout contract
type deadlinePort struct {
	net.Conn
	readTimeout time.Duration
}

// NewDeadlinePort wraps conn so reads time out after readTimeout with (n, nil)
func NewDeadlinePort(conn net.Conn, readTimeout time.Duration) Port {
	return &deadlinePort{Conn: conn, readTimeout: readTimeout}
}

func (p *deadlinePort) Read(b []byte) (int, error) {
	if p.readTimeout > 0 {
		if err := p.Conn.SetReadDeadline(time.Now().Add(p.readTimeout)); err != nil {
			return 0, err
		}
	}
	n, err := p.Conn.Read(b)
	var netErr net.Error
	if err != nil && errors.As(err, &netErr) && netErr.Timeout() {
		return n, nil
	}
	return n, err
}
