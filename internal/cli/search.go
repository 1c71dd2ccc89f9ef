package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/multiapi/driveman/internal/models"
)

func newSearchCmd() *cobra.Command {
	var (
		page     int
		pageSize int
		owner    string
		mimeType string
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search files across all accounts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()

			query := ""
			if len(args) > 0 {
				query = args[0]
			}
			if pageSize <= 0 {
				pageSize = cfg.Search.PageSize
			}
			filters := models.SearchFilters{}
			if owner != "" {
				filters["owner"] = owner
			}
			if mimeType != "" {
				filters["mimeType"] = mimeType
			}

			var result *models.SearchResult
			var err error
			if query == "" && len(filters) == 0 {
				result, err = client.DefaultView(rootContext, page, pageSize)
			} else {
				result, err = client.Search(rootContext, query, filters, page, pageSize)
			}
			if err != nil {
				return err
			}

			if len(result.Items) == 0 {
				fmt.Println("No files found.")
				return nil
			}

			fmt.Printf("%-32s %-12s %-20s %s\n", "NAME", "SIZE", "ACCOUNT", "MODIFIED")
			for _, item := range result.Items {
				name := item.Name
				if len(name) > 30 {
					name = name[:27] + "..."
				}
				fmt.Printf("%-32s %-12s %-20s %s\n",
					name, formatSize(item.Size), item.AccountKey,
					item.ModifiedTime.Format("2006-01-02 15:04"))
			}
			fmt.Printf("\nPage %d of %d (%d files total)\n",
				result.Pagination.Page, result.Pagination.TotalPages, result.Pagination.TotalItems)
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Result page to fetch")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Results per page (0 = config default)")
	cmd.Flags().StringVar(&owner, "owner", "", "Filter by account key")
	cmd.Flags().StringVar(&mimeType, "mime-type", "", "Filter by MIME type")
	return cmd
}

// formatSize renders a byte count in human-readable form.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return strings.TrimSuffix(fmt.Sprintf("%.1f", float64(bytes)/float64(div)), ".0") +
		" " + string("KMGTPE"[exp]) + "iB"
}
