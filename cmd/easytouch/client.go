package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openrv/easytouch/thermostat"
)

// Flags shared by every command that talks to one thermostat.
var (
	deviceConfig   string
	devicePassword string
	deviceTimeout  time.Duration
)

func addDeviceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&deviceConfig, "config", "c", "", "YAML config file (address/password/tuning)")
	cmd.Flags().StringVarP(&devicePassword, "password", "p", "", "Device password from the vendor app")
	cmd.Flags().DurationVar(&deviceTimeout, "timeout", 90*time.Second, "Overall command timeout, connection included")
	cmd.Flags().Bool("verbose", false, "Enable verbose logging")
}

// buildConfig merges the optional config file with command-line overrides.
// The address argument wins over the file; the file only needs to exist when
// tuning knobs or a stored password are wanted.
func buildConfig(address string) (*thermostat.Config, error) {
	var cfg *thermostat.Config
	if deviceConfig != "" {
		loaded, err := thermostat.LoadConfig(deviceConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &thermostat.Config{}
	}
	if address != "" {
		cfg.Address = address
	}
	if devicePassword != "" {
		cfg.Password = devicePassword
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withClient runs a one-shot operation against a thermostat: build the
// client, start connecting in the background, execute fn under the command
// timeout, then tear everything down. Commands submitted before the session
// is active wait in the queue, so fn can submit immediately.
func withClient(cmd *cobra.Command, address string, fn func(ctx context.Context, c *thermostat.Client) error) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	cfg, err := buildConfig(address)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	client, err := thermostat.NewClient(cfg, &thermostat.Options{Logger: logger})
	if err != nil {
		return err
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := client.Start(baseCtx); err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	opCtx := baseCtx
	if deviceTimeout > 0 {
		var opCancel context.CancelFunc
		opCtx, opCancel = context.WithTimeout(baseCtx, deviceTimeout)
		defer opCancel()
	}

	return fn(opCtx, client)
}
