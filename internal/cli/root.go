// Package cli implements valctl, a terminal cashier and admin for the hub.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/transferval/internal/config"
	"github.com/punchamoorthee/transferval/internal/logging"
	"github.com/punchamoorthee/transferval/internal/transport"
)

var (
	cfgFile  string
	hubURL   string
	nombre   string
	logLevel string
	waitFor  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "valctl",
	Short: "Cashier and admin terminal for transfer validations",
	Long: `valctl connects to the validation hub as a cashier, to request and cancel
transfer validations, or as an admin, to list and decide pending ones.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file")
	rootCmd.PersistentFlags().StringVar(&hubURL, "hub-url", "", "hub WebSocket URL (default from config)")
	rootCmd.PersistentFlags().StringVarP(&nombre, "nombre", "n", "", "session name shown to the hub")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")
	rootCmd.PersistentFlags().DurationVar(&waitFor, "timeout", 5*time.Minute, "give up after this long")
}

// session bundles what every subcommand needs after connecting.
type session struct {
	nombre string
	cfg    *config.Config
	logger *logging.Logger
	client *transport.Client
}

func (s *session) Close() {
	s.client.Close()
	s.logger.Sync()
}

// connect loads config and dials the hub under rol.
func connect(ctx context.Context, rol string) (*session, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{Level: logLevel, Format: "console"})
	if err != nil {
		return nil, err
	}
	logging.SetGlobal(logger)

	url := hubURL
	if url == "" {
		url = cfg.HubURL
	}
	name := nombre
	if name == "" {
		if name, err = os.Hostname(); err != nil {
			return nil, fmt.Errorf("--nombre is required: %w", err)
		}
	}

	opts := transport.DefaultOptions()
	opts.Logger = logger
	client, err := transport.Dial(ctx, url, transport.Credentials{Rol: rol, Nombre: name}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	return &session{nombre: name, cfg: cfg, logger: logger, client: client}, nil
}

// commandContext is cancelled on SIGINT/SIGTERM or after --timeout.
func commandContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, waitFor)
	return ctx, func() {
		cancel()
		stop()
	}
}
