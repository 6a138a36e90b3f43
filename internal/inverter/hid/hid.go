package hid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pi30/internal/inverter"
	"pi30/internal/pi30"
	"pi30/pkg/log"

	"github.com/bearsh/hid"
	"go.uber.org/zap"
)

const (
	// DefaultVendorID and DefaultProductID identify the Cypress USB bridge
	// found in most PI30 inverters.
	DefaultVendorID        uint16 = 0x0665
	DefaultProductID       uint16 = 0x5161
	DefaultExchangeTimeout        = 3 * time.Second

	reportSize        = 8
	reportReadTimeout = 100 // milliseconds
	maxDrainReports   = 64
)

var ErrDeviceNotFound = errors.New("hid: no matching device")

// device is the part of *hid.Device the inverter uses.
type device interface {
	Write(b []byte) (int, error)
	ReadTimeout(b []byte, timeout int) (int, error)
	Close() error
}

var (
	// openDevice is swapped in tests.
	openDevice = func(vendorID, productID uint16) (device, error) {
		infos := hid.Enumerate(vendorID, productID)
		if len(infos) == 0 {
			return nil, fmt.Errorf("%w: %04x:%04x", ErrDeviceNotFound, vendorID, productID)
		}
		d, err := infos[0].Open()
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	readPause = 50 * time.Millisecond
)

type Config struct {
	VendorID        uint16
	ProductID       uint16
	ExchangeTimeout time.Duration
	VerifyCRC       bool
}

// HIDInverter implements inverter.Provider over the inverter's USB HID
// interface, which carries the serial protocol in 8 byte reports.
type HIDInverter struct {
	cfg         Config
	dev         device
	isConnected bool

	mu   sync.RWMutex
	ioMu sync.Mutex
}

func New(cfg Config) *HIDInverter {
	if cfg.VendorID == 0 {
		cfg.VendorID = DefaultVendorID
	}
	if cfg.ProductID == 0 {
		cfg.ProductID = DefaultProductID
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = DefaultExchangeTimeout
	}
	return &HIDInverter{cfg: cfg}
}

func (h *HIDInverter) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.IsConnected() {
		return nil
	}
	d, err := openDevice(h.cfg.VendorID, h.cfg.ProductID)
	if err != nil {
		return fmt.Errorf("error while connecting: %w", err)
	}

	h.mu.Lock()
	h.dev = d
	h.isConnected = true
	h.mu.Unlock()
	log.Info("HID device opened",
		zap.String("vendor_id", fmt.Sprintf("%04x", h.cfg.VendorID)),
		zap.String("product_id", fmt.Sprintf("%04x", h.cfg.ProductID)))
	return nil
}

func (h *HIDInverter) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dev != nil {
		if err := h.dev.Close(); err != nil {
			log.Warn("Failed to close HID device", zap.Error(err))
		}
		h.dev = nil
	}
	h.isConnected = false
}

func (h *HIDInverter) IsConnected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isConnected
}

func (h *HIDInverter) Query(ctx context.Context, cmd pi30.Command) (*pi30.Record, error) {
	return inverter.Query(ctx, h, cmd, h.cfg.VerifyCRC)
}

// Exchange sends the request as zero padded reports and gathers report
// payloads until the frame terminator arrives.
func (h *HIDInverter) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	h.ioMu.Lock()
	defer h.ioMu.Unlock()

	h.mu.RLock()
	d, connected := h.dev, h.isConnected
	h.mu.RUnlock()
	if !connected || d == nil {
		return nil, inverter.ErrNotConnected
	}

	drainReports(d)
	for off := 0; off < len(request); off += reportSize {
		report := make([]byte, reportSize)
		n := copy(report, request[off:])
		if _, err := d.Write(report); err != nil {
			return nil, fmt.Errorf("writing report: %w", err)
		}
		log.Debug("Report sent", zap.Binary("report", report[:n]))
	}

	return readReports(ctx, d, time.Now().Add(h.cfg.ExchangeTimeout))
}

// drainReports discards reports left over from an earlier exchange. A zero
// timeout makes the read non blocking.
func drainReports(d device) {
	buf := make([]byte, reportSize)
	for i := 0; i < maxDrainReports; i++ {
		n, err := d.ReadTimeout(buf, 0)
		if err != nil || n == 0 {
			return
		}
		log.Debug("Cleared pending report", zap.Binary("report", buf[:n]))
	}
}

func readReports(ctx context.Context, d device, deadline time.Time) ([]byte, error) {
	var resp []byte
	buf := make([]byte, reportSize)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := d.ReadTimeout(buf, reportReadTimeout)
		if err != nil {
			return nil, fmt.Errorf("reading report: %w", err)
		}
		resp = append(resp, buf[:n]...)
		if start := bytes.IndexByte(resp, '('); start >= 0 {
			if end := bytes.IndexByte(resp[start:], '\r'); end >= 0 {
				// the last report is NUL padded past the terminator
				return resp[:start+end+1], nil
			}
		}
		if n == 0 {
			continue
		}
		// The bridge drops data when polled back to back.
		time.Sleep(readPause)
	}

	if len(resp) == 0 {
		return nil, inverter.ErrNoResponse
	}
	log.Warn("Response incomplete at deadline", zap.Int("bytes", len(resp)))
	return resp, nil
}
