package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace:     "~/.cmdgate/workspace",
			LogLevel:      "info",
			LogMaxSizeMB:  10,
			LogMaxBackups: 3,
		},
		Policy: PolicyConfig{
			DefaultPolicy:         "ask",
			Allowlist:             defaultAllowlist(),
			Denylist:              defaultDenylist(),
			BlockSubstitution:     true,
			ConfirmTimeoutSeconds: 60,
			AuditLog:              true,
		},
		Rules: RulesConfig{
			GlobalDir:    "~/.cmdgate/rules.d",
			WorkspaceDir: ".cmdgate/rules.d",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
		Audit: AuditConfig{
			DBPath:        "~/.cmdgate/audit.db",
			RetentionDays: 90,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 7878,
		},
	}
}

// Patterns here are matching keys in extracted-pattern form, not regexes:
// an entry matches a command whose raw, redirection-stripped, or extracted
// form equals it.
func defaultAllowlist() []string {
	return []string{
		"ls", "ls -la", "cat", "echo", "pwd", "date", "whoami",
		"git status", "git log", "git diff", "git branch",
		"go version", "go env",
		"head", "tail", "wc -l", "grep", "sort", "uniq",
	}
}

func defaultDenylist() []string {
	return []string{
		"rm -rf", "rm -fr",
		"mkfs", "dd",
		"chmod -R", "chown -R",
		"shutdown", "reboot", "halt",
	}
}
