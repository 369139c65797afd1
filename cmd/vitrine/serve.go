package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitrinehq/vitrine/pkg/api"
	"github.com/vitrinehq/vitrine/pkg/config"
	"github.com/vitrinehq/vitrine/pkg/events"
	"github.com/vitrinehq/vitrine/pkg/log"
	"github.com/vitrinehq/vitrine/pkg/metrics"
	"github.com/vitrinehq/vitrine/pkg/pool"
	"github.com/vitrinehq/vitrine/pkg/renderer"
	"github.com/vitrinehq/vitrine/pkg/storage"
	"github.com/vitrinehq/vitrine/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Vitrine daemon",
	Long: `Run the render pool daemon.

Serve launches one browser session per configured device, keeps them
healthy through reachability and responsiveness monitoring, and exposes
the HTTP API for cast control.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "/etc/vitrine/config.yaml", "Configuration file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Devices) == 0 {
		return fmt.Errorf("no devices configured in %s", configPath)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	metrics.SetVersion(Version)

	fmt.Printf("Starting Vitrine %s\n", Version)
	fmt.Printf("  Config: %s\n", configPath)
	fmt.Printf("  Devices: %d\n", len(cfg.Devices))
	fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
	fmt.Printf("  API Address: %s\n", cfg.Listen)
	fmt.Println()

	// History store
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %v", err)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}
	defer store.Close()
	metrics.RegisterComponent("store", true, "open")
	fmt.Println("✓ History store opened")

	// Event broker
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	fmt.Println("✓ Event broker started")

	// Renderer launcher
	launcher := renderer.NewChromiumLauncher(renderer.Options{
		Binary:      cfg.Renderer.Binary,
		ProfileRoot: cfg.Renderer.ProfileRoot,
		ExtraArgs:   cfg.Renderer.ExtraArgs,
	})

	// Device pool
	p, err := pool.New(poolOptions(cfg), launcher, nil, broker, store)
	if err != nil {
		return fmt.Errorf("failed to create pool: %v", err)
	}
	p.Start()
	metrics.RegisterComponent("pool", true, "running")
	fmt.Printf("✓ Pool started (%d devices)\n", len(cfg.Devices))

	// Pool gauges for Prometheus
	collector := metrics.NewCollector(p)
	collector.Start()
	defer collector.Stop()

	// API server in background
	srv := api.NewServer(p, store, broker)
	metrics.RegisterComponent("api", true, "listening")
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(cfg.Listen); err != nil {
			errCh <- fmt.Errorf("API server error: %v", err)
		}
	}()
	fmt.Printf("✓ API listening on %s\n", cfg.Listen)

	fmt.Println()
	fmt.Println("Daemon is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal or API server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	// API first so no new casts arrive while sessions close
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "API shutdown error: %v\n", err)
	}
	p.Stop()

	fmt.Println("✓ Shutdown complete")
	return nil
}

// poolOptions maps the YAML config onto pool options
func poolOptions(cfg *config.Config) pool.Options {
	devices := make([]*types.Device, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		device := &types.Device{
			Address:   d.Address,
			Name:      d.Name,
			AudioSink: d.AudioSink,
		}
		if d.Display.Width > 0 || d.Display.Height > 0 {
			device.Display = &types.DisplayGeometry{
				Width:   d.Display.Width,
				Height:  d.Display.Height,
				OffsetX: d.Display.OffsetX,
				OffsetY: d.Display.OffsetY,
			}
		}
		devices = append(devices, device)
	}

	backoff := pool.DefaultSchedule()
	if len(cfg.Pool.Backoff) > 0 {
		steps := make([]time.Duration, 0, len(cfg.Pool.Backoff))
		for _, step := range cfg.Pool.Backoff {
			steps = append(steps, step.Std())
		}
		backoff = pool.NewSchedule(steps, cfg.Pool.BackoffDefault.Std())
	}

	return pool.Options{
		Devices:                devices,
		IdlePage:               cfg.Renderer.IdlePage,
		StartMinimized:         cfg.Renderer.StartMinimized,
		ReachabilityInterval:   cfg.Pool.ReachabilityInterval.Std(),
		ProbeTimeout:           cfg.Pool.ProbeTimeout.Std(),
		ResponsivenessInterval: cfg.Pool.ResponsivenessInterval.Std(),
		SessionProbeTimeout:    cfg.Pool.SessionProbeTimeout.Std(),
		MaxRecoveryAttempts:    cfg.Pool.MaxRecoveryAttempts,
		Backoff:                backoff,
		WaiterTimeout:          cfg.Pool.WaiterTimeout.Std(),
		CloseTimeout:           cfg.Pool.CloseTimeout.Std(),
		SettleDelay:            cfg.Pool.SettleDelay.Std(),
		RecoveryRetryInterval:  cfg.Pool.RecoveryRetryInterval.Std(),
		MaxCastErrors:          cfg.Pool.MaxCastErrors,
		MaxCastInactivity:      cfg.Pool.MaxCastInactivity.Std(),
		PreventiveRestarts:     cfg.Pool.PreventiveRestartsEnabled(),
	}
}
