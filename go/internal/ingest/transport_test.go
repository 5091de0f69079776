package ingest

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadlinePort_TimeoutIsNotAnError(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	port := NewDeadlinePort(local, 10*time.Millisecond)
	defer port.Close()

	buf := make([]byte, 16)
	n, err := port.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	go func() { _, _ = remote.Write([]byte("2\n")) }()
	n, err = port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "2\n", string(buf[:n]))

	// a closed bridge surfaces as a real error, never as an empty read
	require.NoError(t, remote.Close())
	n, err = port.Read(buf)
	require.Error(t, err)
	assert.Zero(t, n)
	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout())
	}
}

func TestTCPOpener_ReadsFromBridge(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("3\n{\"time_us\": 2048}\n"))
		b := make([]byte, 1)
		if _, err := conn.Read(b); err == nil {
			received <- b[0]
		}
	}()

	opener := TCPOpener{Address: ln.Addr().String(), DialTimeout: time.Second, ReadTimeout: 20 * time.Millisecond}
	assert.Equal(t, "tcp://"+ln.Addr().String(), opener.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := NewIngestor(opener, DefaultConfig())
	defer in.Close()
	events := pump(ctx, in)

	assert.Equal(t, Tick(3), receive(t, events))
	assert.Equal(t, Finish(2048), receive(t, events))

	require.NoError(t, in.SendArm(ctx))
	select {
	case b := <-received:
		assert.Equal(t, byte('A'), b)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never saw the arm byte")
	}
}

func TestSerialOpener_String(t *testing.T) {
	o := SerialOpener{Device: "/dev/ttyUSB0", BaudRate: 9600}
	assert.Equal(t, "serial:///dev/ttyUSB0@9600", o.String())
}

func TestSerialOpener_MissingDevice(t *testing.T) {
	o := SerialOpener{Device: "/dev/does-not-exist-lightsout", BaudRate: 9600, ReadTimeout: 10 * time.Millisecond}
	_, err := o.Open(context.Background())
	require.Error(t, err)
}
