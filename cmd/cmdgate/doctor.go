package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"cmdgate/internal/config"
	"cmdgate/internal/domain"
	"cmdgate/internal/policy"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your cmdgate installation",
		Long: `Verifies that cmdgate's configuration, rules, audit database, and
gateway port are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("cmdgate doctor v%s\n", version)
			fmt.Printf("========================================\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'cmdgate init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Rules load and are non-empty
			res := mergedRules(cfg)
			if len(res.Rules.Allow) == 0 && len(res.Rules.Deny) == 0 {
				printWarn("Rules", "no allow or deny rules configured; everything will escalate")
				warned++
			} else {
				printPass("Rules", fmt.Sprintf("%d allow, %d deny (%d files)",
					len(res.Rules.Allow), len(res.Rules.Deny), len(res.LoadedFiles)))
				passed++
			}

			// 4. Engine sanity: the denylist must actually deny something.
			engine := policy.NewEngine(cfg.Policy, res.Rules, nil, nil, logger)
			sane := true
			for _, entry := range res.Rules.Deny {
				if d, _ := engine.Evaluate(cmd.Context(), entry); d != domain.DecisionAutoDeny {
					printFail("Engine", fmt.Sprintf("deny rule %q does not deny itself", entry))
					failed++
					sane = false
					break
				}
			}
			if sane {
				printPass("Engine", "deny rules enforced")
				passed++
			}

			// 5. Audit database writable
			if err := checkDatabase(cfg.Audit.DBPath); err != nil {
				printFail("Audit database", err.Error())
				failed++
			} else {
				printPass("Audit database", cfg.Audit.DBPath)
				passed++
			}

			// 6. Gateway port
			if err := checkPort(cfg.Gateway.Port); err != nil {
				printWarn("Gateway port", fmt.Sprintf("port %d may be in use: %v", cfg.Gateway.Port, err))
				warned++
			} else {
				printPass("Gateway port", fmt.Sprintf(":%d available", cfg.Gateway.Port))
				passed++
			}

			// 7. Telegram configured sensibly
			if cfg.Channels.Telegram.Enabled {
				if len(cfg.Channels.Telegram.AllowFrom) == 0 {
					printWarn("Telegram", "enabled but allowFrom is empty; prompts have nowhere to go")
					warned++
				} else {
					printPass("Telegram", fmt.Sprintf("%d allowed user(s)", len(cfg.Channels.Telegram.AllowFrom)))
					passed++
				}
			}

			// 8. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n========================================\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running cmdgate.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\ncmdgate should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! cmdgate is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-18s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-18s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-18s %s\n", check, detail)
}
