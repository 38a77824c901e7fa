package main

import (
	"fmt"

	"cmdgate/internal/config"
	"cmdgate/internal/rules"

	"github.com/spf13/cobra"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage allow/deny rules",
		Long:  "Lists the effective rule set and edits the managed rules file in the global rules directory.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the effective rule set and where it came from",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()
			res := mergedRules(cfg)

			fmt.Println("Allow:")
			for _, e := range res.Rules.Allow {
				fmt.Printf("  %s\n", e)
			}
			fmt.Println("Deny:")
			for _, e := range res.Rules.Deny {
				fmt.Printf("  %s\n", e)
			}
			fmt.Println("Searched:")
			for _, p := range res.SearchedPaths {
				fmt.Printf("  %s\n", p)
			}
			if len(res.LoadedFiles) > 0 {
				fmt.Println("Loaded files:")
				for _, p := range res.LoadedFiles {
					fmt.Printf("  %s\n", p)
				}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "allow [pattern]",
		Short: "Add an allow pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()
			if err := rules.Add(config.ExpandPath(cfg.Rules.GlobalDir), "allow", args[0]); err != nil {
				return err
			}
			fmt.Printf("allow rule added: %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "deny [pattern]",
		Short: "Add a deny pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()
			if err := rules.Add(config.ExpandPath(cfg.Rules.GlobalDir), "deny", args[0]); err != nil {
				return err
			}
			fmt.Printf("deny rule added: %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove [pattern]",
		Short: "Remove a pattern from the managed rules file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()
			removed, err := rules.Remove(config.ExpandPath(cfg.Rules.GlobalDir), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("pattern not found in managed rules: %s", args[0])
			}
			fmt.Printf("rule removed: %s\n", args[0])
			return nil
		},
	})

	return cmd
}
