package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/multiapi/driveman/internal/api"
	"github.com/multiapi/driveman/internal/events"
	"github.com/multiapi/driveman/internal/health"
	"github.com/multiapi/driveman/internal/refresh"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the background scheduler and stream its events",
		Long: `Runs the health monitor and the periodic refresh tasks (accounts,
reports, sync status) in the foreground, printing every scheduler event
until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			bus := events.NewBus(0)
			defer bus.Close()

			monitor := health.NewMonitor(client, bus, logger)
			if err := monitor.Start(cfg.Health.BaseInterval(), cfg.Health.MaxInterval()); err != nil {
				return err
			}
			defer monitor.Stop()

			coordinator := refresh.NewCoordinator(monitor, cfg.Refresh.RateLimitCooldown(), bus, logger)
			defer coordinator.Stop()

			registerRefreshTasks(coordinator, client)
			if err := coordinator.Start(); err != nil {
				return err
			}

			logger.Infof("watching %s (Ctrl-C to stop)", cfg.Backend.URL)

			sub := bus.SubscribeAll()
			for {
				select {
				case <-rootContext.Done():
					return nil
				case event, ok := <-sub:
					if !ok {
						return nil
					}
					printEvent(event)
				}
			}
		},
	}
}

// registerRefreshTasks wires the periodic backend refreshes. Task failures
// feed back into the coordinator's schedule; nothing here returns an error.
func registerRefreshTasks(c *refresh.Coordinator, client *api.Client) {
	_ = c.RegisterTask("accounts", cfg.Refresh.AccountsInterval(), func(ctx context.Context) refresh.Result {
		_, err := client.ListAccounts(ctx)
		return toResult(err)
	})
	_ = c.RegisterTask("reports", cfg.Refresh.ReportsInterval(), func(ctx context.Context) refresh.Result {
		_, err := client.HealthReport(ctx)
		return toResult(err)
	})
	_ = c.RegisterTask("sync-status", cfg.Refresh.SyncStatusInterval(), func(ctx context.Context) refresh.Result {
		_, err := client.SyncPerformanceReport(ctx)
		return toResult(err)
	})
}

// toResult translates a client error into a refresh result.
func toResult(err error) refresh.Result {
	if err == nil {
		return refresh.Result{Success: true}
	}
	return refresh.Result{RateLimited: api.IsRateLimited(err), Err: err}
}

func printEvent(event events.Event) {
	switch e := event.(type) {
	case *events.ConnectionEvent:
		if e.Connected {
			fmt.Printf("[%s] connection: connected\n", e.Time.Format("15:04:05"))
		} else {
			fmt.Printf("[%s] connection: disconnected (failures=%d, next check in %s)\n",
				e.Time.Format("15:04:05"), e.ConsecutiveFailures, e.CheckInterval)
		}
	case *events.RefreshEvent:
		if e.EventType == events.EventRefreshStarted {
			fmt.Printf("[%s] refresh %s: started\n", e.Time.Format("15:04:05"), e.Task)
		} else if e.RateLimited {
			fmt.Printf("[%s] refresh %s: rate limited, cooling down\n", e.Time.Format("15:04:05"), e.Task)
		} else if !e.Success {
			fmt.Printf("[%s] refresh %s: failed (%v)\n", e.Time.Format("15:04:05"), e.Task, e.Err)
		} else {
			fmt.Printf("[%s] refresh %s: ok (%s)\n", e.Time.Format("15:04:05"), e.Task, e.Duration.Round(0))
		}
	default:
		fmt.Printf("[%s] %s\n", event.Timestamp().Format("15:04:05"), event.Type())
	}
}
