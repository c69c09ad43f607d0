// Package cmd implements the cardctl command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gregLibert/smartcard-middleware/pkg/config"
)

var (
	configPath  string
	readerIndex int
	verbose     bool
	logFormat   string
	traceAPDU   bool
	showMetrics bool
)

var rootCmd = &cobra.Command{
	Use:   "cardctl",
	Short: "Smart card secure channel middleware",
	Long: `cardctl recognizes the card in a PC/SC reader and opens secure channels
with it: EAC Chip Authentication on SmartCard-HSM devices, SCP02 on
GlobalPlatform cards.

Examples:
  cardctl dispatch
  cardctl cvc verify device.cvcert --anchor cvca.cvcert --domain brainpoolP256r1
  cardctl eac --config cardctl.yaml
  cardctl gp auth --config cardctl.yaml
  cardctl gp load applet.ijc --aid A000000001
  cardctl gp delete A000000001 --related`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration file (YAML)")
	rootCmd.PersistentFlags().IntVar(&readerIndex, "reader", -1, "reader index, overrides config reader.index")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	rootCmd.PersistentFlags().BoolVar(&traceAPDU, "trace", false, "log every APDU exchanged with the card")
	rootCmd.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "print APDU and authentication counters on exit")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose || traceAPDU {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	switch logFormat {
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	default:
		return fmt.Errorf("unsupported log format %q", logFormat)
	}
	return nil
}

// loadConfig returns the configuration named by --config, or an empty one.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return &config.Config{}, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	slog.Debug("config loaded", "path", configPath)
	return cfg, nil
}
