// Package policy implements the command decision engine. Commands are
// matched against allow and deny lists whose entries are patterns in the
// generalized form produced by the pattern package. Deny always wins,
// piped commands must clear the allowlist segment by segment, and
// anything unmatched falls through to the configured default policy.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cmdgate/internal/config"
	"cmdgate/internal/domain"
	"cmdgate/internal/pattern"
	"cmdgate/internal/shell"
)

// ConfirmFunc is a callback to request user confirmation.
// It presents the command and returns true if the user approved it.
type ConfirmFunc func(ctx context.Context, command, reason string) (bool, error)

// Engine evaluates commands into approve/deny/ask decisions.
type Engine struct {
	cfg       config.PolicyConfig
	confirmFn ConfirmFunc
	audit     domain.AuditStore
	logger    *slog.Logger

	allowSet map[string]string // trimmed entry -> original entry
	denySet  map[string]string
}

// NewEngine builds an engine over the merged rule set. The rule set
// already contains the inline config lists plus anything loaded from
// rules.d directories.
func NewEngine(cfg config.PolicyConfig, rules domain.RuleSet, confirmFn ConfirmFunc, audit domain.AuditStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		confirmFn: confirmFn,
		audit:     audit,
		logger:    logger,
		allowSet:  buildSet(rules.Allow),
		denySet:   buildSet(rules.Deny),
	}
}

func buildSet(entries []string) map[string]string {
	set := make(map[string]string, len(entries))
	for _, e := range entries {
		key := strings.TrimSpace(e)
		if key == "" {
			continue
		}
		if _, exists := set[key]; !exists {
			set[key] = e
		}
	}
	return set
}

// Evaluate decides what to do with a command. The returned reason names
// the rule or policy that produced the decision.
func (e *Engine) Evaluate(ctx context.Context, command string) (domain.Decision, string) {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return domain.DecisionAskUser, "empty command"
	}

	segments := shell.SplitPipeline(cmd)

	// Step 1: denylist. Checked against the whole command and every
	// pipeline segment; a single dangerous segment taints the pipeline.
	if rule, ok := e.match(cmd, e.denySet); ok {
		e.logDecision(ctx, cmd, domain.DecisionAutoDeny, rule, "denied", "denylist match")
		e.logger.Warn("command denied", "command", cmd, "rule", rule)
		return domain.DecisionAutoDeny, "denylist match: " + rule
	}
	for _, seg := range segments {
		if rule, ok := e.match(seg, e.denySet); ok {
			e.logDecision(ctx, cmd, domain.DecisionAutoDeny, rule, "denied", "denylist match in pipeline segment")
			e.logger.Warn("command denied", "command", cmd, "segment", seg, "rule", rule)
			return domain.DecisionAutoDeny, "denylist match: " + rule
		}
	}

	// Step 2: substitution guard. $(...), backticks, and process
	// substitution can smuggle arbitrary commands past pattern matching,
	// so they always escalate to the user.
	if e.cfg.BlockSubstitution && shell.HasSubstitution(cmd) {
		e.logDecision(ctx, cmd, domain.DecisionAskUser, "", "escalated", "command substitution detected")
		return domain.DecisionAskUser, "command substitution detected"
	}

	// Step 3: allowlist. A whole-command match (covers && chains whose
	// generalized pattern is listed) approves outright.
	if rule, ok := e.match(cmd, e.allowSet); ok {
		e.logDecision(ctx, cmd, domain.DecisionAutoApprove, rule, "approved", "allowlist match")
		return domain.DecisionAutoApprove, "allowlist match: " + rule
	}

	// Pipelines approve only when every segment clears the allowlist on
	// its own. A partially covered pipeline asks rather than falling
	// through to the default policy.
	if len(segments) > 1 {
		rules := make([]string, 0, len(segments))
		for _, seg := range segments {
			rule, ok := e.match(seg, e.allowSet)
			if !ok {
				e.logDecision(ctx, cmd, domain.DecisionAskUser, "", "escalated", fmt.Sprintf("pipeline segment not allowlisted: %s", strings.TrimSpace(seg)))
				return domain.DecisionAskUser, "pipeline segment not allowlisted: " + strings.TrimSpace(seg)
			}
			rules = append(rules, rule)
		}
		reason := "all pipeline segments allowlisted: " + strings.Join(rules, ", ")
		e.logDecision(ctx, cmd, domain.DecisionAutoApprove, strings.Join(rules, ", "), "approved", reason)
		return domain.DecisionAutoApprove, reason
	}

	// Step 4: default policy.
	switch e.cfg.DefaultPolicy {
	case "allow":
		e.logDecision(ctx, cmd, domain.DecisionAutoApprove, "", "approved", "default policy: allow")
		return domain.DecisionAutoApprove, "default policy: allow"
	case "deny":
		e.logDecision(ctx, cmd, domain.DecisionAutoDeny, "", "denied", "default policy: deny")
		return domain.DecisionAutoDeny, "default policy: deny"
	default: // "ask"
		return domain.DecisionAskUser, "no matching rule"
	}
}

// match checks a command or pipeline segment against a rule set. Three
// forms are tried in order; the first form with a listed entry wins:
// the raw text, the text with shell redirections stripped, and the
// generalized pattern.
func (e *Engine) match(segment string, set map[string]string) (string, bool) {
	if len(set) == 0 {
		return "", false
	}
	forms := []string{
		strings.TrimSpace(segment),
		strings.TrimSpace(shell.StripRedirections(segment)),
		strings.TrimSpace(pattern.Extract(segment)),
	}
	for _, form := range forms {
		if form == "" {
			continue
		}
		if rule, ok := set[form]; ok {
			return rule, true
		}
	}
	return "", false
}

// RequestConfirmation escalates a command to the user via the registered
// confirmation channel. No channel means deny. The configured timeout
// bounds how long the user has to answer; timing out denies.
func (e *Engine) RequestConfirmation(ctx context.Context, command string) (bool, error) {
	cmd := strings.TrimSpace(command)

	if e.confirmFn == nil {
		e.logDecision(ctx, cmd, domain.DecisionAskUser, "", "denied", "no confirmation channel")
		return false, nil
	}

	timeout := time.Duration(e.cfg.ConfirmTimeoutSeconds) * time.Second
	confirmCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	confirmed, err := e.confirmFn(confirmCtx, cmd, e.escalationReason(cmd))
	if err != nil {
		if confirmCtx.Err() != nil {
			e.logDecision(ctx, cmd, domain.DecisionAskUser, "", "denied", "confirmation timed out")
			e.logger.Info("confirmation timed out", "command", cmd)
			return false, nil
		}
		e.logDecision(ctx, cmd, domain.DecisionAskUser, "", "denied", "confirmation error: "+err.Error())
		return false, err
	}

	outcome := "denied"
	if confirmed {
		outcome = "confirmed"
	}
	e.logDecision(ctx, cmd, domain.DecisionAskUser, "", outcome, "user responded")

	return confirmed, nil
}

// escalationReason recomputes why a command would escalate, for display
// in the confirmation prompt. No audit entry is written here.
func (e *Engine) escalationReason(cmd string) string {
	if e.cfg.BlockSubstitution && shell.HasSubstitution(cmd) {
		return "command substitution detected"
	}
	segments := shell.SplitPipeline(cmd)
	if len(segments) > 1 {
		for _, seg := range segments {
			if _, ok := e.match(seg, e.allowSet); !ok {
				return "pipeline segment not allowlisted: " + strings.TrimSpace(seg)
			}
		}
	}
	return "no matching rule"
}

func (e *Engine) logDecision(ctx context.Context, command string, decision domain.Decision, rule, outcome, details string) {
	if !e.cfg.AuditLog || e.audit == nil {
		return
	}
	entry := domain.AuditEntry{
		Command:  command,
		Pattern:  pattern.Extract(command),
		Decision: decision,
		Rule:     rule,
		Outcome:  outcome,
		Details:  details,
	}
	if err := e.audit.LogDecision(ctx, entry); err != nil {
		e.logger.Error("audit write failed", "error", err)
	}
}
