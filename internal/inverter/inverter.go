package inverter

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"pi30/internal/pi30"
	"pi30/pkg/log"

	"go.uber.org/zap"
)

var (
	ErrNotConnected = errors.New("inverter: not connected")
	ErrNoResponse   = errors.New("inverter: no response before deadline")
)

// Provider abstracts access to a PI30 inverter.
// It owns the link to the device and answers decoded queries.
type Provider interface {
	Start(ctx context.Context) error
	Stop()
	Query(ctx context.Context, cmd pi30.Command) (*pi30.Record, error)
	IsConnected() bool
}

// Exchanger sends one request frame and returns whatever bytes the device
// answered before the transport's deadline.
type Exchanger interface {
	Exchange(ctx context.Context, request []byte) ([]byte, error)
}

// Query runs one encode, exchange, decode round trip over ex.
func Query(ctx context.Context, ex Exchanger, cmd pi30.Command, verifyCRC bool) (*pi30.Record, error) {
	request, err := pi30.Encode(cmd)
	if err != nil {
		return nil, err
	}

	raw, err := ex.Exchange(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("exchange %s: %w", cmd, err)
	}
	log.Debug("Response received",
		zap.String("command", cmd.String()),
		zap.String("hex", hex.EncodeToString(raw)),
		zap.Int("bytes", len(raw)))

	if verifyCRC {
		if err := pi30.VerifyChecksum(raw); err != nil {
			return nil, err
		}
	}
	return pi30.Decode(cmd, raw)
}
