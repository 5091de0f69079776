package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	data   chan []byte
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	written  []byte
	writeErr error
}

func newFakePort() *fakePort {
	return &fakePort{
		data:   make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case chunk, ok := <-p.data:
		if !ok {
			return 0, io.EOF
		}
		return copy(b, chunk), nil
	case <-p.closed:
		return 0, io.ErrClosedPipe
	case <-time.After(5 * time.Millisecond):
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) send(s string) {
	p.data <- []byte(s)
}

func (p *fakePort) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *fakePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written...)
}

type fakeOpener struct {
	mu       sync.Mutex
	ports    []*fakePort
	failures int
	opens    int
}

func (o *fakeOpener) Open(ctx context.Context) (Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.failures > 0 {
		o.failures--
		return nil, errors.New("no such device")
	}
	if len(o.ports) == 0 {
		return nil, errors.New("no such device")
	}
	p := o.ports[0]
	o.ports = o.ports[1:]
	return p, nil
}

func (o *fakeOpener) String() string { return "fake" }

func (o *fakeOpener) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

type recordingMetrics struct {
	mu       sync.Mutex
	lines    map[string]int
	connects map[bool]int
	arms     map[bool]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		lines:    map[string]int{},
		connects: map[bool]int{},
		arms:     map[bool]int{},
	}
}

func (m *recordingMetrics) RecordLine(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[outcome]++
}

func (m *recordingMetrics) RecordConnect(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects[success]++
}

func (m *recordingMetrics) RecordArm(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arms[success]++
}

func (m *recordingMetrics) Lines(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lines[outcome]
}

func (m *recordingMetrics) Arms(success bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arms[success]
}

func (m *recordingMetrics) Connects(success bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects[success]
}

// pump runs Next in a loop and forwards every event
func pump(ctx context.Context, in *Ingestor) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for {
			ev, err := in.Next(ctx)
			if err != nil {
				return
			}
			out <- ev
		}
	}()
	return out
}

func receive(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func newTestIngestor(opener Opener) (*Ingestor, *clockwork.FakeClock, *recordingMetrics) {
	fc := clockwork.NewFakeClock()
	m := newRecordingMetrics()
	in := NewIngestor(opener, DefaultConfig()).WithClock(fc).WithMetrics(m)
	return in, fc, m
}

func TestIngestor_DeliversEventsInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := newFakePort()
	in, _, m := newTestIngestor(&fakeOpener{ports: []*fakePort{port}})
	events := pump(ctx, in)

	port.send("3\r\n2\n")
	port.send("garbage\n1")
	port.send("\n{\"time_us\": ")
	port.send("184200}\n")

	assert.Equal(t, Tick(3), receive(t, events))
	assert.Equal(t, Tick(2), receive(t, events))
	assert.Equal(t, Tick(1), receive(t, events))
	assert.Equal(t, Finish(184200), receive(t, events))

	assert.Equal(t, 1, m.Lines(OutcomeMalformed))
	assert.Equal(t, 3, m.Lines(OutcomeTick))
	assert.Equal(t, 1, m.Lines(OutcomeFinish))
	assert.Equal(t, 1, m.Connects(true))
}

func TestIngestor_PauseDiscardsLines(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := newFakePort()
	in, _, m := newTestIngestor(&fakeOpener{ports: []*fakePort{port}})
	events := pump(ctx, in)

	port.send("3\n")
	assert.Equal(t, Tick(3), receive(t, events))

	in.Pause()
	assert.True(t, in.Paused())
	port.send("{\"time_us\": 1000}\n2\n")

	require.Eventually(t, func() bool { return m.Lines(OutcomePaused) == 2 }, 2*time.Second, 5*time.Millisecond)

	in.Resume()
	assert.False(t, in.Paused())
	port.send("1\n")
	assert.Equal(t, Tick(1), receive(t, events))
}

func TestIngestor_ReconnectsAfterReadFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, second := newFakePort(), newFakePort()
	opener := &fakeOpener{ports: []*fakePort{first, second}}
	in, fc, m := newTestIngestor(opener)
	events := pump(ctx, in)

	first.send("3\n")
	assert.Equal(t, Tick(3), receive(t, events))

	// a partial line on the dead channel is not replayed
	first.send(`{"time_`)
	close(first.data)

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	assert.False(t, in.Connected())
	fc.Advance(DefaultConfig().ReconnectInterval)

	second.send("1\n")
	assert.Equal(t, Tick(1), receive(t, events))
	assert.Equal(t, 2, opener.Opens())
	assert.Equal(t, 2, m.Connects(true))
	assert.True(t, first.isClosed())
}

func TestIngestor_RetriesOpenUntilSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := newFakePort()
	opener := &fakeOpener{ports: []*fakePort{port}, failures: 2}
	in, fc, m := newTestIngestor(opener)
	events := pump(ctx, in)

	for i := 0; i < 2; i++ {
		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		fc.Advance(2 * time.Second)
	}

	port.send("2\n")
	assert.Equal(t, Tick(2), receive(t, events))
	assert.Equal(t, 3, opener.Opens())
	assert.Equal(t, 2, m.Connects(false))
	assert.Equal(t, 1, m.Connects(true))
}

func TestIngestor_SendArm(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := newFakePort()
	in, _, _ := newTestIngestor(&fakeOpener{ports: []*fakePort{port}})

	require.ErrorIs(t, in.SendArm(ctx), ErrDisconnected)

	events := pump(ctx, in)
	port.send("3\n")
	receive(t, events)

	require.NoError(t, in.SendArm(ctx))
	assert.Equal(t, []byte{'A'}, port.Written())
}

func TestIngestor_SendArmFailureDegradesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, second := newFakePort(), newFakePort()
	first.writeErr = errors.New("device unplugged")
	in, fc, m := newTestIngestor(&fakeOpener{ports: []*fakePort{first, second}})
	events := pump(ctx, in)

	first.send("3\n")
	receive(t, events)

	err := in.SendArm(ctx)
	require.ErrorIs(t, err, ErrDisconnected)
	assert.True(t, first.isClosed())
	assert.Equal(t, 1, m.Arms(false))

	// reader notices the closed channel and goes through the reconnect path
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(2 * time.Second)

	second.send("2\n")
	assert.Equal(t, Tick(2), receive(t, events))
	require.NoError(t, in.SendArm(ctx))
	assert.Equal(t, []byte{'A'}, second.Written())
}

func TestIngestor_DropsOversizedLines(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := newFakePort()
	opener := &fakeOpener{ports: []*fakePort{port}}
	fc := clockwork.NewFakeClock()
	m := newRecordingMetrics()
	in := NewIngestor(opener, Config{ArmByte: 'A', MaxLineLength: 8}).WithClock(fc).WithMetrics(m)
	events := pump(ctx, in)

	port.send("0123456789")
	require.Eventually(t, func() bool { return m.Lines(OutcomeOverflow) == 1 }, 2*time.Second, 5*time.Millisecond)

	port.send("\n3\n")
	// the tail of the oversized line shows up as an empty line and is dropped
	assert.Equal(t, Tick(3), receive(t, events))
}

func TestIngestor_NextReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	port := newFakePort()
	in, _, _ := newTestIngestor(&fakeOpener{ports: []*fakePort{port}})

	done := make(chan error, 1)
	go func() {
		_, err := in.Next(ctx)
		done <- err
	}()

	require.Eventually(t, in.Connected, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after cancel")
	}
	assert.True(t, port.isClosed())
	assert.False(t, in.Connected())
}

func TestIngestor_NextReturnsOnCancelWhileReconnecting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	in, fc, _ := newTestIngestor(&fakeOpener{})

	done := make(chan error, 1)
	go func() {
		_, err := in.Next(ctx)
		done <- err
	}()

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after cancel")
	}
}
