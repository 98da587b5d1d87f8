package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/flowsync/internal/config"
	"github.com/mschirtzinger/flowsync/internal/logging"
	"github.com/mschirtzinger/flowsync/internal/sync/daemon"
	"github.com/mschirtzinger/flowsync/internal/sync/dashboard"
	"github.com/mschirtzinger/flowsync/internal/sync/events"
	"github.com/mschirtzinger/flowsync/internal/sync/reminder"
)

var (
	daemonDashboard bool
	daemonPort      int
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Run reminders, realtime sync, and the dashboard feed (foreground)",
	Long: `Run the long-lived flowsync components in the foreground.

The daemon will:
  - Keep realtime subscriptions in step with the signed-in identity
  - Fire task reminders
  - Announce cache writes made by other flow commands
  - Serve the dashboard event feed when enabled

Press Ctrl+C to stop. Log level changes in the config file apply live.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDaemon(cmd, daemonDashboard || cmd.Flags().Changed("port"))
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Run the daemon with the dashboard feed enabled",
	Long: `Run the daemon with the dashboard event feed enabled.

Clients connect to ws://localhost:<port>/ws and receive every sync, data,
identity, and reminder event as JSON.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDaemon(cmd, true)
	},
}

func runDaemon(cmd *cobra.Command, withDashboard bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runApp(ctx, func(ctx context.Context, a *app) error {
		withDashboard = withDashboard || a.cfg.Dashboard.Enabled
		port := a.cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port = daemonPort
		}

		notifiers := reminder.MultiNotifier{reminder.LogNotifier{Logger: logging.Component(a.logger, "notifier")}}
		var (
			server  *dashboard.Server
			handler *dashboard.Handler
		)
		if withDashboard {
			server = dashboard.NewServer(dashboard.Config{
				Port:   port,
				Status: func() events.SyncStatus { return a.mirror.Status() },
				Logger: a.logger,
			})
			handler = dashboard.NewHandler(server, a.logger)
			notifiers = append(notifiers, handler)
		}

		scheduler := reminder.New(a.store.Tasks(), notifiers, a.bus, nil, reminder.Config{
			Interval:     a.cfg.Reminder.Interval,
			StartupDelay: a.cfg.Reminder.StartupDelay,
			DedupeTTL:    a.cfg.Reminder.DedupeTTL,
		}, a.logger)

		var coord daemon.Coordinator
		if a.mirror.Configured() {
			coord = a.newCoordinator(true)
		}

		a.loader.Watch(func(cfg *config.Config, err error) {
			if err != nil {
				a.logger.Warn().Err(err).Msg("config reload failed")
				return
			}
			logging.SetLevel(cfg.Log.Level)
			a.logger.Info().Str("level", cfg.Log.Level).Msg("config reloaded")
		})

		d := daemon.New(daemon.Config{
			Bus:         a.bus,
			Scheduler:   scheduler,
			Coordinator: coord,
			Dashboard:   server,
			Handler:     handler,
			Identity:    a.identity,
			CachePath:   a.cfg.CachePath,
			Logger:      a.logger,
		})

		fmt.Printf("%s Starting flow daemon...\n", renderAccent("▶"))
		if server != nil {
			fmt.Printf("  Dashboard: ws://localhost:%d/ws\n", port)
		}
		fmt.Printf("  Press Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			return fmt.Errorf("daemon stopped with error: %w", err)
		}
		fmt.Printf("\n%s Daemon stopped\n", renderPass("✓"))
		return nil
	})
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonDashboard, "dashboard", false, "Serve the dashboard event feed")
	for _, c := range []*cobra.Command{daemonCmd, dashboardCmd} {
		c.Flags().IntVar(&daemonPort, "port", 8080, "Dashboard port")
	}
	rootCmd.AddCommand(daemonCmd, dashboardCmd)
}
