package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitrinehq/vitrine/pkg/client"
	"github.com/vitrinehq/vitrine/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vitrine",
	Short: "Vitrine - Browser render pool for capture devices",
	Long: `Vitrine keeps a pool of browser sessions bound to physical capture
devices, monitors their health, and recovers failed sessions with
bounded, backed-off retries.

The serve command runs the daemon; the remaining commands talk to a
running daemon over its HTTP API.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Vitrine version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("server", "127.0.0.1:7611", "Daemon API address")

	// Add subcommands
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(castCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(watchCmd)
}

func daemonClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("server")
	return client.NewClient(addr)
}

// Status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pool status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := daemonClient(cmd)

		status, err := c.Status()
		if err != nil {
			return fmt.Errorf("failed to get pool status: %v", err)
		}

		fmt.Printf("Devices: %d (idle %d, active %d, recovering %d, closing %d)\n\n",
			len(status.Devices), status.Idle, status.Active, status.Recovering, status.Closing)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ADDRESS\tNAME\tSTATE\tHEALTHY\tPID\tCAST")
		for _, d := range status.Devices {
			healthy := "yes"
			if !d.Healthy {
				healthy = fmt.Sprintf("no (%d fails)", d.ConsecutiveFailures)
			}
			pid := "-"
			if d.SessionPID > 0 {
				pid = strconv.Itoa(d.SessionPID)
			}
			cast := "-"
			if d.Cast != nil {
				cast = d.Cast.Target
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				d.Address, d.Name, d.State, healthy, pid, cast)
		}
		return w.Flush()
	},
}

// Devices command
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List configured devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := daemonClient(cmd)

		devices, err := c.Devices()
		if err != nil {
			return fmt.Errorf("failed to list devices: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ADDRESS\tNAME\tDISPLAY\tAUDIO SINK")
		for _, d := range devices {
			display := "-"
			if d.Display != nil {
				display = fmt.Sprintf("%dx%d+%d+%d",
					d.Display.Width, d.Display.Height, d.Display.OffsetX, d.Display.OffsetY)
			}
			sink := d.AudioSink
			if sink == "" {
				sink = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Address, d.Name, display, sink)
		}
		return w.Flush()
	},
}

// Cast command
var castCmd = &cobra.Command{
	Use:   "cast TARGET",
	Short: "Start a cast on an idle device",
	Long: `Start rendering a URL on a capture device.

Examples:
  # Let the pool pick an idle device
  vitrine cast https://dash.example.com/board

  # Pin the cast to a specific device
  vitrine cast https://dash.example.com/board --device 10.0.0.2:9515`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		device, _ := cmd.Flags().GetString("device")
		skipHealthCheck, _ := cmd.Flags().GetBool("skip-health-check")

		c := daemonClient(cmd)
		cast, err := c.StartCast(target, device, skipHealthCheck)
		if err != nil {
			return fmt.Errorf("failed to start cast: %v", err)
		}

		fmt.Printf("✓ Cast started: %s\n", cast.ID)
		fmt.Printf("  Device: %s\n", cast.DeviceAddr)
		fmt.Printf("  Target: %s\n", cast.Target)
		return nil
	},
}

// Release command
var releaseCmd = &cobra.Command{
	Use:   "release ADDRESS",
	Short: "End the cast on a device and return it to the pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := daemonClient(cmd)

		warning, err := c.Release(args[0])
		if err != nil {
			return fmt.Errorf("failed to release device: %v", err)
		}

		fmt.Printf("✓ Device released: %s\n", args[0])
		if warning != "" {
			fmt.Printf("  Warning: %s\n", warning)
		}
		return nil
	},
}

// History commands
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show cast and recovery history",
}

var historyCastsCmd = &cobra.Command{
	Use:   "casts",
	Short: "List finished casts",
	RunE: func(cmd *cobra.Command, args []string) error {
		device, _ := cmd.Flags().GetString("device")

		c := daemonClient(cmd)
		records, err := c.CastHistory(device)
		if err != nil {
			return fmt.Errorf("failed to get cast history: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tDEVICE\tOUTCOME\tERRORS\tDURATION\tTARGET")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				r.StartedAt.Format(time.RFC3339), r.DeviceAddr, r.Outcome,
				r.ErrorCount, r.EndedAt.Sub(r.StartedAt).Round(time.Second), r.Target)
		}
		return w.Flush()
	},
}

var historyRecoveriesCmd = &cobra.Command{
	Use:   "recoveries",
	Short: "List recovery runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		device, _ := cmd.Flags().GetString("device")

		c := daemonClient(cmd)
		records, err := c.RecoveryHistory(device)
		if err != nil {
			return fmt.Errorf("failed to get recovery history: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tDEVICE\tRESULT\tATTEMPTS\tREASON")
		for _, r := range records {
			result := "recovered"
			if !r.Success {
				result = "failed"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				r.StartedAt.Format(time.RFC3339), r.DeviceAddr, result, r.Attempts, r.Reason)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.AddCommand(historyCastsCmd)
	historyCmd.AddCommand(historyRecoveriesCmd)

	castCmd.Flags().String("device", "", "Pin the cast to this device address")
	castCmd.Flags().Bool("skip-health-check", false, "Exempt the cast from responsiveness probes")

	historyCastsCmd.Flags().String("device", "", "Filter by device address")
	historyRecoveriesCmd.Flags().String("device", "", "Filter by device address")
}

// Watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream pool events until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := daemonClient(cmd)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return c.WatchEvents(ctx, func(e types.Event) {
			line := fmt.Sprintf("%s  %-24s %s",
				e.Timestamp.Format(time.RFC3339), e.Type, e.DeviceAddr)
			if e.Message != "" {
				line += "  " + e.Message
			}
			fmt.Println(line)
		})
	},
}
