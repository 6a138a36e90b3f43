package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"pi30/internal/inverter"
	"pi30/internal/pi30"
	"pi30/pkg/log"

	"github.com/tarm/serial"
	"go.uber.org/zap"
)

const (
	DefaultPort            = "/dev/ttyUSB0"
	DefaultBaud            = 2400
	DefaultReadTimeout     = 500 * time.Millisecond
	DefaultExchangeTimeout = 3 * time.Second

	maxRetries    = 3
	maxDrainReads = 16
)

var (
	// openPort is swapped in tests.
	openPort = func(c *serial.Config) (io.ReadWriteCloser, error) {
		p, err := serial.OpenPort(c)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	openRetryDelay  = 2 * time.Second
	writeRetryDelay = 500 * time.Millisecond
)

// Config holds the serial link settings.
type Config struct {
	Port            string
	Baud            int
	ReadTimeout     time.Duration
	ExchangeTimeout time.Duration
	VerifyCRC       bool
}

// SerialInverter implements inverter.Provider over an RS232 or USB serial
// adapter.
type SerialInverter struct {
	cfg         Config
	port        io.ReadWriteCloser
	isConnected bool

	mu   sync.RWMutex
	ioMu sync.Mutex
}

// New creates a SerialInverter. Zero settings fall back to the defaults.
func New(cfg Config) *SerialInverter {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = DefaultExchangeTimeout
	}
	return &SerialInverter{cfg: cfg}
}

func (s *SerialInverter) Start(ctx context.Context) error {
	if s.IsConnected() {
		return nil
	}
	if err := s.open(ctx); err != nil {
		return fmt.Errorf("error while connecting: %w", err)
	}
	s.setConnected(true)
	return nil
}

func (s *SerialInverter) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		if err := s.port.Close(); err != nil {
			log.Warn("Failed to close port", zap.Error(err))
		}
		s.port = nil
	}
	s.isConnected = false
}

func (s *SerialInverter) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isConnected
}

func (s *SerialInverter) Query(ctx context.Context, cmd pi30.Command) (*pi30.Record, error) {
	return inverter.Query(ctx, s, cmd, s.cfg.VerifyCRC)
}

// Exchange writes one request and collects the answer until the frame
// terminator, the exchange timeout or ctx cancellation. Exchanges are
// serialized since the device answers one command at a time.
func (s *SerialInverter) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	s.mu.RLock()
	port, connected := s.port, s.isConnected
	s.mu.RUnlock()
	if !connected || port == nil {
		return nil, inverter.ErrNotConnected
	}

	drain(port)
	if err := writeFrame(port, request); err != nil {
		return nil, err
	}
	return readFrame(ctx, port, time.Now().Add(s.cfg.ExchangeTimeout))
}

func (s *SerialInverter) open(ctx context.Context) error {
	cfg := &serial.Config{
		Name:        s.cfg.Port,
		Baud:        s.cfg.Baud,
		ReadTimeout: s.cfg.ReadTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}

	var p io.ReadWriteCloser
	var err error
	for i := 0; i < maxRetries; i++ {
		p, err = openPort(cfg)
		if err == nil {
			break
		}
		log.Warn("Failed to open port, retrying...", zap.Error(err), zap.Int("attempt", i+1))
		if i == maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(openRetryDelay):
		}
	}
	if err != nil {
		return fmt.Errorf("failed to open port after %d attempts: %w", maxRetries, err)
	}

	if flusher, ok := p.(interface{ Flush() error }); ok {
		if err := flusher.Flush(); err != nil {
			log.Warn("Failed to flush port", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.port = p
	s.mu.Unlock()
	log.Info("Port opened", zap.String("port", s.cfg.Port), zap.Int("baud", s.cfg.Baud))
	return nil
}

// drain discards input left over from an earlier exchange, such as a
// response that arrived after its deadline.
func drain(port io.Reader) {
	if flusher, ok := port.(interface{ Flush() error }); ok {
		err := flusher.Flush()
		if err == nil {
			return
		}
		log.Warn("Failed to flush port", zap.Error(err))
	}

	buffer := make([]byte, 1024)
	for i := 0; i < maxDrainReads; i++ {
		n, err := port.Read(buffer)
		if err != nil || n == 0 {
			return
		}
		log.Debug("Cleared pending data", zap.Int("bytes", n), zap.ByteString("data", buffer[:n]))
	}
}

// writeFrame writes frame, resuming after short writes. Only attempts that
// fail or make no progress count against the retry budget.
func writeFrame(w io.Writer, frame []byte) error {
	var writeErr error
	written, failures := 0, 0
	for written < len(frame) {
		if failures == maxRetries {
			return fmt.Errorf("writing request after %d attempts: %w", maxRetries, writeErr)
		}

		n, err := w.Write(frame[written:])
		written += n
		if err != nil {
			writeErr = err
			failures++
			log.Warn("Write failed, retrying...", zap.Error(err), zap.Int("attempt", failures))
			time.Sleep(writeRetryDelay)
			continue
		}
		if n == 0 {
			writeErr = fmt.Errorf("incomplete write: %d/%d bytes", written, len(frame))
			failures++
			time.Sleep(writeRetryDelay)
		}
	}
	log.Debug("Request sent", zap.ByteString("frame", frame[:len(frame)-1]), zap.Int("bytes", written))
	return nil
}

// readFrame reads until a CR follows the start marker. A read timeout on the
// port shows up as an empty read and is retried until the deadline. Whatever
// arrived by then is returned so the decoder can report on it.
func readFrame(ctx context.Context, r io.Reader, deadline time.Time) ([]byte, error) {
	var resp []byte
	buf := make([]byte, 64)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := r.Read(buf)
		if n > 0 {
			resp = append(resp, buf[:n]...)
			if complete(resp) {
				return resp, nil
			}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("reading response: %w", err)
		}
	}

	if len(resp) == 0 {
		return nil, inverter.ErrNoResponse
	}
	log.Warn("Response incomplete at deadline", zap.Int("bytes", len(resp)))
	return resp, nil
}

func complete(resp []byte) bool {
	start := bytes.IndexByte(resp, '(')
	return start >= 0 && bytes.IndexByte(resp[start:], '\r') >= 0
}

func (s *SerialInverter) setConnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isConnected = v
}
