package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check backend reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()

			info, err := client.Health(rootContext)
			if err != nil {
				fmt.Printf("Backend:     %s\n", cfg.Backend.URL)
				fmt.Printf("Status:      disconnected\n")
				fmt.Printf("Error:       %v\n", err)
				return nil
			}

			fmt.Printf("Backend:     %s\n", cfg.Backend.URL)
			fmt.Printf("Status:      connected\n")
			fmt.Printf("Version:     %s\n", info.Version)
			fmt.Printf("Environment: %s\n", info.Environment)
			return nil
		},
	}
}

func newAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List connected cloud-storage accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()

			accounts, err := client.ListAccounts(rootContext)
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Println("No accounts connected.")
				return nil
			}

			fmt.Printf("%-20s %-30s %-12s %-12s\n", "KEY", "EMAIL", "PROVIDER", "STATUS")
			for _, acct := range accounts {
				fmt.Printf("%-20s %-30s %-12s %-12s\n", acct.Key, acct.Email, acct.Provider, acct.Status)
			}
			return nil
		},
	}
}
