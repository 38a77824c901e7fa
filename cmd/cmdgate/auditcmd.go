package main

import (
	"fmt"

	"cmdgate/internal/audit"

	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the decision audit log",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Show recent decisions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()
			store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.ListDecisions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no audit entries")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  %-12s  %-10s  %s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"),
					e.Decision, e.Outcome, e.Command,
				)
				if e.Rule != "" {
					fmt.Printf("%41s rule: %s\n", "", e.Rule)
				}
			}
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 50, "max entries to show")
	cmd.AddCommand(list)

	var days int
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete entries older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()
			if days == 0 {
				days = cfg.Audit.RetentionDays
			}
			store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Purge(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d entries older than %d days\n", removed, days)
			return nil
		},
	}
	purge.Flags().IntVar(&days, "days", 0, "retention in days (default: audit.retentionDays from config)")
	cmd.AddCommand(purge)

	return cmd
}
