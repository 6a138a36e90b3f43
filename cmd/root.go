package cmd

import (
	"fmt"
	"os"

	"pi30/internal/cmd/root"
	"pi30/internal/config"
	"pi30/pkg/log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

var rootCmd = &cobra.Command{
	Use:   "pi30",
	Short: "Poll a PI30 solar inverter and print decoded readings",
	Run:   root.Run,
}

func init() {
	cobra.OnInitialize(initLogger)

	rootCmd.PersistentFlags().String("config", "", "Config file (yaml, toml or json)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().Bool("mock", false, "Use the simulated inverter")
	rootCmd.PersistentFlags().String("transport", config.TransportSerial, "Link to the inverter: serial, hid or mock")
	rootCmd.PersistentFlags().String("port", "/dev/ttyUSB0", "Serial device")
	rootCmd.PersistentFlags().Int("baud", 2400, "Baud rate for serial connection")
	rootCmd.PersistentFlags().StringSlice("commands", []string{"QPIGS"}, "Commands to poll, in order")
	rootCmd.PersistentFlags().Uint32("interval", 0, "Polling interval in milliseconds, 0 polls once")
	rootCmd.PersistentFlags().Bool("verify-crc", false, "Reject responses with a bad checksum")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("mock", rootCmd.PersistentFlags().Lookup("mock"))
	viper.BindPFlag("transport", rootCmd.PersistentFlags().Lookup("transport"))
	viper.BindPFlag("serial.port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("serial.baud", rootCmd.PersistentFlags().Lookup("baud"))
	viper.BindPFlag("poll.commands", rootCmd.PersistentFlags().Lookup("commands"))
	viper.BindPFlag("poll.interval_millis", rootCmd.PersistentFlags().Lookup("interval"))
	viper.BindPFlag("verify_crc", rootCmd.PersistentFlags().Lookup("verify-crc"))

	// Set default values
	config.SetDefaults(viper.GetViper())
}

func initLogger() {
	level := config.ParseLogLevel(viper.GetString("log_level"))
	if viper.GetBool("debug") {
		level = zapcore.DebugLevel
	}
	log.InitLogger(level)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
