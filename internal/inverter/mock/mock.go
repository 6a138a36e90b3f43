package mock

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"pi30/internal/inverter"
	"pi30/internal/pi30"
)

const (
	deviceSerial   = "96332309100452"
	deviceFirmware = "VERFW:00072.70"
	ratingPayload  = "230.0 21.7 230.0 50.0 21.7 5000 4000 48.0 46.0 42.0 56.4 54.0 2 30 060 0 1 2 9 01 0 0 54.0 0 1"
)

// MockInverter simulates a PI30 inverter answering real frames. It is used
// for demo runs and tests.
type MockInverter struct {
	mu      sync.RWMutex
	running bool
	rnd     *rand.Rand
	// simulated values
	gridVoltage    float64
	batteryVoltage float64
	capacity       int
	pvVoltage      float64
	pvCurrent      float64
	load           int
	warnings       []byte
	updateTicker   *time.Ticker
	stopCh         chan struct{}
}

func New() *MockInverter {
	return NewWithSeed(time.Now().UnixNano())
}

// NewWithSeed returns a simulator with a deterministic random walk.
func NewWithSeed(seed int64) *MockInverter {
	return &MockInverter{
		rnd:            rand.New(rand.NewSource(seed)),
		gridVoltage:    230.0,
		batteryVoltage: 51.4,
		capacity:       60,
		pvVoltage:      170.0,
		pvCurrent:      5.0,
		load:           350,
		warnings:       bytes.Repeat([]byte{'0'}, 32),
	}
}

func (m *MockInverter) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	m.updateTicker = time.NewTicker(1 * time.Second)
	m.stopCh = make(chan struct{})
	m.running = true

	ticker, stopCh := m.updateTicker, m.stopCh
	go func() {
		for {
			select {
			case <-ticker.C:
				m.Step()
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			}
		}
	}()
	return nil
}

func (m *MockInverter) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.updateTicker.Stop()
	close(m.stopCh)
	m.running = false
}

// IsConnected for MockInverter always returns true while running.
func (m *MockInverter) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *MockInverter) Query(ctx context.Context, cmd pi30.Command) (*pi30.Record, error) {
	return inverter.Query(ctx, m, cmd, true)
}

// Step advances the random walk by one tick.
func (m *MockInverter) Step() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gridVoltage = clamp(m.gridVoltage+float64(m.rnd.Intn(21)-10)*0.1, 220, 240)
	m.pvVoltage = clamp(m.pvVoltage+float64(m.rnd.Intn(41)-20)*0.1, 0, 450)
	m.pvCurrent = clamp(m.pvCurrent+float64(m.rnd.Intn(11)-5)*0.1, 0, 18)
	m.load = int(clamp(float64(m.load+m.rnd.Intn(101)-50), 0, 5000))

	// charge while PV covers the load
	if m.pvVoltage*m.pvCurrent > float64(m.load) {
		m.capacity = int(clamp(float64(m.capacity+1), 0, 100))
	} else {
		m.capacity = int(clamp(float64(m.capacity-1), 0, 100))
	}
	m.batteryVoltage = 44.0 + float64(m.capacity)*0.1

	// battery_low_alarm
	m.warnings[12] = '0'
	if m.capacity < 20 {
		m.warnings[12] = '1'
	}
}

// Exchange answers a request frame. Requests with a bad checksum or an
// unsupported command get a NAK, like the real firmware.
func (m *MockInverter) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !m.IsConnected() {
		return nil, inverter.ErrNotConnected
	}

	cmd, ok := parseRequest(request)
	if !ok {
		return pi30.EncodeResponse("NAK"), nil
	}
	payload, ok := m.payload(cmd)
	if !ok {
		return pi30.EncodeResponse("NAK"), nil
	}
	return pi30.EncodeResponse(payload), nil
}

func parseRequest(request []byte) (pi30.Command, bool) {
	if len(request) < 4 || request[len(request)-1] != '\r' {
		return "", false
	}
	text := request[:len(request)-3]
	crc := pi30.Checksum(text)
	if request[len(request)-3] != byte(crc>>8) || request[len(request)-2] != byte(crc) {
		return "", false
	}
	cmd := pi30.Command(text)
	return cmd, cmd.Known()
}

func (m *MockInverter) payload(cmd pi30.Command) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch cmd {
	case pi30.CommandProtocolID:
		return "PI30", true
	case pi30.CommandSerialNumber:
		return deviceSerial, true
	case pi30.CommandFirmwareVersion:
		return deviceFirmware, true
	case pi30.CommandDeviceMode:
		if m.pvVoltage*m.pvCurrent > float64(m.load) {
			return "L", true
		}
		return "B", true
	case pi30.CommandRating:
		return ratingPayload, true
	case pi30.CommandWarningStatus:
		return string(m.warnings), true
	case pi30.CommandGeneralStatus:
		return m.generalStatus(), true
	}
	return "", false
}

func (m *MockInverter) generalStatus() string {
	pvPower := int(m.pvVoltage * m.pvCurrent)
	charging, discharging := 0, 0
	status := []byte("00010000")
	if pvPower > m.load {
		charging = (pvPower - m.load) / int(m.batteryVoltage)
		status[5], status[6] = '1', '1'
	} else {
		discharging = (m.load - pvPower) / int(m.batteryVoltage)
	}
	apparent := m.load * 105 / 100

	return fmt.Sprintf("%05.1f %04.1f %05.1f %04.1f %04d %04d %03d %03d %05.2f %03d %03d %04d %04.1f %05.1f %05.2f %05d %s %02d %04d %05d %s",
		m.gridVoltage, 50.0, 230.0, 50.0,
		apparent, m.load, m.load*100/4000,
		380, m.batteryVoltage, charging, m.capacity,
		35, m.pvCurrent, m.pvVoltage, m.batteryVoltage, discharging,
		string(status), 0, 0, pvPower, "010")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
