package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cmdgate/internal/audit"
	"cmdgate/internal/bus"
	"cmdgate/internal/channel"
	"cmdgate/internal/config"
	"cmdgate/internal/domain"
	"cmdgate/internal/gateway"
	"cmdgate/internal/metrics"
	"cmdgate/internal/pattern"
	"cmdgate/internal/policy"
	"cmdgate/internal/rules"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "cmdgate",
		Short: "cmdgate: command auto-approval gateway",
		Long:  "cmdgate decides whether shell commands issued by agents and tools may run, based on allow/deny pattern rules with human escalation.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.cmdgate/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(patternCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(rulesCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())

	daemon := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background gateway daemon",
	}
	daemon.AddCommand(installDaemonCmd())
	daemon.AddCommand(uninstallDaemonCmd())
	root.AddCommand(daemon)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfigOrDefaults() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		return config.Defaults()
	}
	return cfg
}

// setupLogger rebuilds the process logger from config. With a log file
// configured, output goes through lumberjack for rotation.
func setupLogger(cfg *config.Config) {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.General.LogFile,
			MaxSize:    cfg.General.LogMaxSizeMB,
			MaxBackups: cfg.General.LogMaxBackups,
			Compress:   true,
		}
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config, rules directory, and workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			for _, dir := range []string{cfg.General.Workspace, cfg.Rules.GlobalDir} {
				if err := os.MkdirAll(config.ExpandPath(dir), 0o755); err != nil {
					return err
				}
			}
			logger.Info("initialized", "config", cfgPath, "rules", cfg.Rules.GlobalDir)
			return nil
		},
	}
}

// mergedRules loads the effective rule set for the current config.
func mergedRules(cfg *config.Config) rules.Result {
	inline := domain.RuleSet{
		Allow: cfg.Policy.Allowlist,
		Deny:  cfg.Policy.Denylist,
	}
	return rules.Load(inline, config.ExpandPath(cfg.Rules.GlobalDir), config.ExpandPath(cfg.Rules.WorkspaceDir), logger)
}

func checkCmd() *cobra.Command {
	var interactive bool
	var noAudit bool

	cmd := &cobra.Command{
		Use:   "check [command]",
		Short: "Evaluate a command against the current rules",
		Long: `Prints the decision for a command. Exit codes: 0 auto_approve,
1 auto_deny, 2 ask_user. With --interactive, an ask_user decision
prompts on the terminal and the exit code reflects the answer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults()
			setupLogger(cfg)
			command := args[0]

			var store domain.AuditStore
			if cfg.Policy.AuditLog && !noAudit {
				s, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
				if err != nil {
					logger.Warn("audit store unavailable", "err", err)
				} else {
					defer s.Close()
					store = s
				}
			}

			var confirmFn policy.ConfirmFunc
			if interactive {
				confirmFn = terminalConfirm
			}

			engine := policy.NewEngine(cfg.Policy, mergedRules(cfg).Rules, confirmFn, store, logger)

			ctx := cmd.Context()
			decision, reason := engine.Evaluate(ctx, command)
			fmt.Printf("command:  %s\n", command)
			fmt.Printf("pattern:  %s\n", pattern.Extract(command))
			fmt.Printf("decision: %s\n", decision)
			fmt.Printf("reason:   %s\n", reason)

			switch decision {
			case domain.DecisionAutoApprove:
				return nil
			case domain.DecisionAutoDeny:
				os.Exit(1)
			case domain.DecisionAskUser:
				if interactive {
					approved, err := engine.RequestConfirmation(ctx, command)
					if err != nil {
						return err
					}
					if approved {
						return nil
					}
					os.Exit(1)
				}
				os.Exit(2)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "prompt on the terminal when the decision is ask_user")
	cmd.Flags().BoolVar(&noAudit, "no-audit", false, "skip writing this check to the audit log")
	return cmd
}

func terminalConfirm(ctx context.Context, command, reason string) (bool, error) {
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "🔒 Allow this command?\n   %s\n", command)
	fmt.Fprint(os.Stderr, "Type 'yes' to allow: ")
	var response string
	fmt.Scanln(&response)
	return response == "yes" || response == "y", nil
}

func patternCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pattern [command]",
		Short: "Print the generalized pattern for a command",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(pattern.Extract(args[0]))
		},
	}
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the approval gateway (HTTP API + confirmation channels)",
		Long:  "Serves POST /v1/decisions and starts the enabled confirmation channels. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	approvals := bus.New(100, logger)
	events := bus.NewEventBus(logger)
	events.On("*", func(e bus.Event) {
		logger.Debug("event", "type", e.Type, "source", e.Source)
	})

	store, err := audit.NewSQLiteStore(cfg.Audit.DBPath, logger)
	if err != nil {
		return fmt.Errorf("audit store: %w", err)
	}
	defer store.Close()

	if removed, err := store.Purge(ctx, cfg.Audit.RetentionDays); err != nil {
		logger.Warn("audit purge failed", "err", err)
	} else if removed > 0 {
		logger.Info("audit retention applied", "removed", removed)
	}

	res := mergedRules(cfg)
	logger.Info("rules loaded",
		"allow", len(res.Rules.Allow),
		"deny", len(res.Rules.Deny),
		"files", len(res.LoadedFiles),
	)
	events.Emit(bus.Event{Type: bus.EventRulesReloaded, Source: "gateway", Payload: map[string]any{"files": res.LoadedFiles}})

	// Escalations go out on the approval bus; whichever channel answers
	// first wins.
	confirmFn := func(ctx context.Context, command, reason string) (bool, error) {
		req := domain.ApprovalRequest{
			ID:      uuid.NewString(),
			Command: command,
			Reason:  reason,
			Source:  "gateway",
		}
		done := approvals.Await(req.ID)
		approvals.Publish(req)
		select {
		case r := <-done:
			return r.Approved, nil
		case <-ctx.Done():
			approvals.Forget(req.ID)
			metrics.ConfirmTimeouts.Inc()
			return false, ctx.Err()
		}
	}

	engine := policy.NewEngine(cfg.Policy, res.Rules, confirmFn, store, logger)

	var telegramCh *channel.Telegram
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		telegramCh = channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Logger:    logger,
		})
		go func() {
			if err := telegramCh.Start(ctx, approvals); err != nil {
				logger.Error("telegram channel error", "err", err)
				events.Emit(bus.Event{Type: bus.EventChannelError, Source: "telegram", Payload: map[string]any{"err": err.Error()}})
			}
		}()
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	if cfg.Channels.CLI.Enabled {
		cliCh := channel.NewCLI(channel.CLIConfig{Logger: logger})
		go func() {
			if err := cliCh.Start(ctx, approvals); err != nil {
				logger.Error("cli channel error", "err", err)
			}
		}()
		logger.Info("cli channel enabled")
	}

	srv := gateway.New(gateway.Config{
		Host:          cfg.Gateway.Host,
		Port:          cfg.Gateway.Port,
		APIKey:        cfg.Gateway.APIKey,
		EnableMetrics: cfg.Metrics.Enabled,
		Logger:        logger,
	}, engine, events)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	logger.Info("gateway running. Press Ctrl+C to stop.", "addr", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down gateway...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if telegramCh != nil {
			telegramCh.Stop()
		}
		approvals.Close()
		<-errCh
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. policy.defaultPolicy)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. policy.defaultPolicy deny)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
