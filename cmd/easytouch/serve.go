package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openrv/easytouch/internal/metrics"
	"github.com/openrv/easytouch/mqttbridge"
	"github.com/openrv/easytouch/thermostat"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve thermostats to Home Assistant over MQTT",
	Long: `Run as a long-lived bridge: connect to the configured thermostats,
announce them to Home Assistant via MQTT discovery, and keep state,
availability, and commands flowing both ways. Prometheus metrics are
exposed on the listen address.

Requires a config file:

  listen: ":9742"
  mqtt:
    broker_url: tcp://broker:1883
  thermostats:
    - address: AA:BB:CC:DD:EE:FF
      password: "1234"`,
	RunE: runServe,
}

var serveConfigPath string

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "YAML config file (required)")
	serveCmd.Flags().Bool("verbose", false, "Enable verbose logging")
	_ = serveCmd.MarkFlagRequired("config")
}

// serveConfig is the top-level config for serve mode.
type serveConfig struct {
	Listen      string              `yaml:"listen"`
	MQTT        mqttbridge.Config   `yaml:"mqtt"`
	Thermostats []thermostat.Config `yaml:"thermostats"`
}

func loadServeConfig(path string) (*serveConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &serveConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	if cfg.Listen == "" {
		cfg.Listen = ":9742"
	}
	if len(cfg.Thermostats) == 0 {
		return nil, fmt.Errorf("config has no thermostats")
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	// Serve mode defaults to info logging; silence requires an explicit level.
	if logLevel, _ := cmd.Flags().GetString("log-level"); logLevel == "" {
		if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
			logger.SetLevel(logrus.InfoLevel)
		}
	}

	cfg, err := loadServeConfig(serveConfigPath)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info("Shutting down...")
		cancel()
	}()

	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)

	registry := thermostat.NewRegistry()
	var wg sync.WaitGroup

	for i := range cfg.Thermostats {
		tcfg := cfg.Thermostats[i]
		client, err := thermostat.NewClient(&tcfg, &thermostat.Options{
			Logger:  logger,
			Metrics: collector,
		})
		if err != nil {
			return fmt.Errorf("thermostat %s: %w", tcfg.Address, err)
		}
		if err := client.Start(ctx); err != nil {
			return fmt.Errorf("thermostat %s: %w", tcfg.Address, err)
		}
		defer func() { _ = client.Close() }()
		registry.Register(client)

		bridge, err := mqttbridge.New(cfg.MQTT, client, logger)
		if err != nil {
			return fmt.Errorf("mqtt bridge for %s: %w", tcfg.Address, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("MQTT bridge stopped")
				cancel()
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Listen, Handler: mux}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.WithField("listen", cfg.Listen).Info("Metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	wg.Wait()
	return nil
}
