package root

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"pi30/internal/config"
	"pi30/internal/inverter"
	"pi30/internal/inverter/hid"
	"pi30/internal/inverter/mock"
	"pi30/internal/inverter/serial"
	"pi30/internal/pi30"
	"pi30/pkg/log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func Run(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	log.InitLogger(cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := newProvider(cfg)
	if err := provider.Start(ctx); err != nil {
		log.Fatal("failed to start inverter provider", zap.String("transport", cfg.Transport), zap.Error(err))
	}
	defer provider.Stop()

	log.Info("Polling inverter",
		zap.String("transport", cfg.Transport),
		zap.Strings("commands", cfg.Poll.Commands),
		zap.Duration("interval", cfg.PollInterval()))
	poll(ctx, cmd.OutOrStdout(), provider, cfg.PollCommands, cfg.PollInterval())
}

func newProvider(cfg *config.Config) inverter.Provider {
	switch cfg.Transport {
	case config.TransportMock:
		return mock.New()
	case config.TransportHID:
		return hid.New(hid.Config{
			VendorID:        cfg.HID.VendorID,
			ProductID:       cfg.HID.ProductID,
			ExchangeTimeout: cfg.ExchangeTimeout(),
			VerifyCRC:       cfg.VerifyCRC,
		})
	default:
		return serial.New(serial.Config{
			Port:            cfg.Serial.Port,
			Baud:            cfg.Serial.Baud,
			ReadTimeout:     cfg.ReadTimeout(),
			ExchangeTimeout: cfg.ExchangeTimeout(),
			VerifyCRC:       cfg.VerifyCRC,
		})
	}
}

// poll runs one cycle, then one per interval until ctx is done. A zero
// interval polls once.
func poll(ctx context.Context, w io.Writer, p inverter.Provider, cmds []pi30.Command, interval time.Duration) {
	printSummary(w, inverter.Poll(ctx, p, cmds))
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("Polling stopped")
			return
		case <-ticker.C:
			printSummary(w, inverter.Poll(ctx, p, cmds))
		}
	}
}

func printSummary(w io.Writer, readings []inverter.Reading) {
	for _, r := range readings {
		if r.Err != nil {
			log.Error("failed to query inverter", zap.String("command", r.Command.String()), zap.Error(r.Err))
			fmt.Fprintf(w, "%s: error: %v\n", r.Command, r.Err)
			continue
		}
		printRecord(w, r.Record)
	}
}

func printRecord(w io.Writer, rec *pi30.Record) {
	title := rec.Command.String()
	if schema, err := pi30.SchemaFor(rec.Command); err == nil {
		title = fmt.Sprintf("%s (%s)", schema.Description, rec.Command)
	}
	fmt.Fprintf(w, "%s:\n", title)

	for _, v := range rec.Values {
		fmt.Fprintf(w, "  %s: %s\n", v.Name, v)
	}
	for i, token := range rec.Extra {
		fmt.Fprintf(w, "  extra_%d: %s\n", i, token)
	}

	if rec.Command != pi30.CommandGeneralStatus {
		return
	}
	if pv, ok := inverter.PVPower(rec); ok {
		fmt.Fprintf(w, "  pv_input_power: %.1f W\n", pv)
	}
	if bat, ok := inverter.BatteryPower(rec); ok {
		fmt.Fprintf(w, "  battery_power: %.1f W\n", bat)
	}
	if pf, ok := inverter.PowerFactor(rec); ok {
		fmt.Fprintf(w, "  power_factor: %.2f\n", pf)
	}
}
