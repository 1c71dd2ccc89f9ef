package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render backend reports",
	}
	cmd.AddCommand(newDedupReportCmd())
	cmd.AddCommand(newStorageReportCmd())
	cmd.AddCommand(newHealthReportCmd())
	cmd.AddCommand(newSyncPerformanceReportCmd())
	return cmd
}

func newDedupReportCmd() *cobra.Command {
	var (
		minSize int64
		groupBy string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Show duplicate file groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := newClient().DedupReport(rootContext, minSize, groupBy, limit)
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				fmt.Println("No duplicates found.")
				return nil
			}

			var wasted int64
			for _, g := range groups {
				wasted += g.Wasted
				fmt.Printf("%d copies x %s (%s wasted)\n", g.Count, formatSize(g.Size), formatSize(g.Wasted))
				for _, f := range g.Files {
					fmt.Printf("  %s (%s)\n", f.Name, f.AccountKey)
				}
			}
			fmt.Printf("\nTotal wasted: %s across %d groups\n", formatSize(wasted), len(groups))
			return nil
		},
	}

	cmd.Flags().Int64Var(&minSize, "min-size", 0, "Minimum file size in bytes")
	cmd.Flags().StringVar(&groupBy, "group-by", "md5", "Grouping key (md5 or name)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum groups returned")
	return cmd
}

func newStorageReportCmd() *cobra.Command {
	var accountKey string

	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Show storage usage analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := newClient().StorageReport(rootContext, accountKey)
			if err != nil {
				return err
			}

			fmt.Printf("Total: %s across %d files\n", formatSize(report.TotalBytes), report.TotalFiles)
			if len(report.ByAccount) > 0 {
				fmt.Println("\nBy account:")
				for key, bytes := range report.ByAccount {
					fmt.Printf("  %-20s %s\n", key, formatSize(bytes))
				}
			}
			if len(report.ByMimeType) > 0 {
				fmt.Println("\nBy type:")
				for mime, bytes := range report.ByMimeType {
					fmt.Printf("  %-40s %s\n", mime, formatSize(bytes))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&accountKey, "account", "", "Scope to one account key")
	return cmd
}

func newHealthReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show the aggregated system health report",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := newClient().HealthReport(rootContext)
			if err != nil {
				return err
			}

			fmt.Printf("Status:           %s\n", report.Status)
			fmt.Printf("Accounts healthy: %d/%d\n", report.AccountsHealthy, report.AccountsTotal)
			fmt.Printf("Indexed files:    %d\n", report.IndexedFiles)
			fmt.Printf("Index age:        %s\n", time.Duration(report.IndexAgeSeconds)*time.Second)
			return nil
		},
	}
}

func newSyncPerformanceReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-performance",
		Short: "Show recent sync timing statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := newClient().SyncPerformanceReport(rootContext)
			if err != nil {
				return err
			}

			fmt.Printf("Average sync: %s (last %d days)\n",
				time.Duration(report.AvgDurationMs)*time.Millisecond, report.WindowDays)
			for key, ms := range report.ByAccount {
				fmt.Printf("  %-20s %s\n", key, time.Duration(ms)*time.Millisecond)
			}
			return nil
		},
	}
}
