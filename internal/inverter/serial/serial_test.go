package serial

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"pi30/internal/inverter"
	"pi30/internal/pi30"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarm/serial"
)

// fakePort replies to each write with a canned frame, a few bytes per read.
type fakePort struct {
	mu      sync.Mutex
	replies map[string][]byte
	written [][]byte
	pending []byte
	chunk   int
	closed  bool
}

func (f *fakePort) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), b...))
	f.pending = append(f.pending, f.replies[string(b)]...)
	return len(b), nil
}

func (f *fakePort) Read(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return 0, io.EOF
	}
	n := f.chunk
	if n > len(f.pending) {
		n = len(f.pending)
	}
	n = copy(b, f.pending[:n])
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func withFakePort(t *testing.T, port *fakePort, failures int) {
	t.Helper()
	origOpen, origDelay := openPort, openRetryDelay
	openRetryDelay = time.Millisecond
	openPort = func(c *serial.Config) (io.ReadWriteCloser, error) {
		if c.Size != 8 || c.Parity != serial.ParityNone || c.StopBits != serial.Stop1 {
			return nil, errors.New("unexpected line settings")
		}
		if failures > 0 {
			failures--
			return nil, errors.New("device busy")
		}
		return port, nil
	}
	t.Cleanup(func() { openPort, openRetryDelay = origOpen, origDelay })
}

func request(t *testing.T, cmd pi30.Command) string {
	t.Helper()
	req, err := pi30.Encode(cmd)
	require.NoError(t, err)
	return string(req)
}

func TestSerialQuery(t *testing.T) {
	reply := append([]byte{0x00, 0xff}, pi30.EncodeResponse("B")...)
	port := &fakePort{
		chunk:   3,
		replies: map[string][]byte{request(t, pi30.CommandDeviceMode): reply},
	}
	withFakePort(t, port, 1)

	s := New(Config{Port: "/dev/ttyS9", ExchangeTimeout: time.Second, VerifyCRC: true})
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsConnected())

	rec, err := s.Query(context.Background(), pi30.CommandDeviceMode)
	require.NoError(t, err)
	mode, ok := rec.Get("device_mode")
	require.True(t, ok)
	assert.Equal(t, "Battery", mode.Label)
	assert.Equal(t, [][]byte{[]byte(request(t, pi30.CommandDeviceMode))}, port.written)

	s.Stop()
	assert.True(t, port.closed)
	assert.False(t, s.IsConnected())

	_, err = s.Query(context.Background(), pi30.CommandDeviceMode)
	assert.ErrorIs(t, err, inverter.ErrNotConnected)
}

func TestSerialNoResponse(t *testing.T) {
	port := &fakePort{chunk: 8, replies: map[string][]byte{}}
	withFakePort(t, port, 0)

	s := New(Config{ExchangeTimeout: 20 * time.Millisecond})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	_, err := s.Query(context.Background(), pi30.CommandProtocolID)
	assert.ErrorIs(t, err, inverter.ErrNoResponse)
}

func TestSerialTruncatedResponse(t *testing.T) {
	port := &fakePort{
		chunk:   8,
		replies: map[string][]byte{request(t, pi30.CommandGeneralStatus): []byte("(230.0 50.0 23")},
	}
	withFakePort(t, port, 0)

	s := New(Config{ExchangeTimeout: 20 * time.Millisecond})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	_, err := s.Query(context.Background(), pi30.CommandGeneralStatus)
	assert.ErrorIs(t, err, pi30.ErrInsufficientFields)
}

func TestSerialOpenFails(t *testing.T) {
	withFakePort(t, &fakePort{}, maxRetries)

	s := New(Config{})
	err := s.Start(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "device busy")
	assert.False(t, s.IsConnected())
}

func TestSerialOpenCancelled(t *testing.T) {
	withFakePort(t, &fakePort{}, maxRetries)
	openRetryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(Config{}).Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewDefaults(t *testing.T) {
	s := New(Config{})
	assert.Equal(t, DefaultPort, s.cfg.Port)
	assert.Equal(t, DefaultBaud, s.cfg.Baud)
	assert.Equal(t, DefaultReadTimeout, s.cfg.ReadTimeout)
	assert.Equal(t, DefaultExchangeTimeout, s.cfg.ExchangeTimeout)
}

func TestSerialDiscardsLateResponse(t *testing.T) {
	late := pi30.EncodeResponse("230.0 50.0 230.0 50.0 0344 0327 005 383 51.40 000 042 026 000 172.1 00.00 004 10101100 00 0000 0172 000")
	port := &fakePort{
		chunk:   16,
		pending: append([]byte(nil), late...),
		replies: map[string][]byte{request(t, pi30.CommandDeviceMode): pi30.EncodeResponse("L")},
	}
	withFakePort(t, port, 0)

	s := New(Config{ExchangeTimeout: time.Second})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	rec, err := s.Query(context.Background(), pi30.CommandDeviceMode)
	require.NoError(t, err)
	mode, ok := rec.Get("device_mode")
	require.True(t, ok)
	assert.Equal(t, "L", mode.Text)
	assert.Equal(t, "Line", mode.Label)
	assert.Empty(t, rec.Extra)
}

// flushingPort discards pending input on Flush, like a tty.
type flushingPort struct {
	fakePort
	flushes int
}

func (f *flushingPort) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	f.pending = nil
	return nil
}

func TestSerialFlushesPort(t *testing.T) {
	port := &flushingPort{fakePort: fakePort{
		chunk:   16,
		pending: []byte("(stale"),
		replies: map[string][]byte{request(t, pi30.CommandProtocolID): pi30.EncodeResponse("PI30")},
	}}
	origOpen := openPort
	openPort = func(c *serial.Config) (io.ReadWriteCloser, error) { return port, nil }
	t.Cleanup(func() { openPort = origOpen })

	s := New(Config{ExchangeTimeout: time.Second})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.Equal(t, 1, port.flushes)

	port.mu.Lock()
	port.pending = []byte("(NAK\x00\x00\r")
	port.mu.Unlock()

	rec, err := s.Query(context.Background(), pi30.CommandProtocolID)
	require.NoError(t, err)
	id, _ := rec.Text("protocol_id")
	assert.Equal(t, "PI30", id)
	assert.Equal(t, 2, port.flushes)
}

// shortWriter accepts at most limit bytes per call and fails once.
type shortWriter struct {
	limit   int
	failAt  int
	calls   int
	written []byte
}

func (w *shortWriter) Write(b []byte) (int, error) {
	w.calls++
	if w.calls == w.failAt {
		return 0, errors.New("resource temporarily unavailable")
	}
	n := len(b)
	if n > w.limit {
		n = w.limit
	}
	w.written = append(w.written, b[:n]...)
	return n, nil
}

func TestWriteFrameResumesShortWrites(t *testing.T) {
	origDelay := writeRetryDelay
	writeRetryDelay = time.Millisecond
	t.Cleanup(func() { writeRetryDelay = origDelay })

	frame := []byte(request(t, pi30.CommandGeneralStatus))

	w := &shortWriter{limit: 2, failAt: 2}
	require.NoError(t, writeFrame(w, frame))
	assert.Equal(t, frame, w.written)

	w = &shortWriter{limit: 0}
	err := writeFrame(w, frame)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "incomplete write")
	assert.Equal(t, maxRetries, w.calls)
}
