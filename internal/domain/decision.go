package domain

import (
	"context"
	"time"
)

// Decision is the outcome of evaluating a command against the rule sets.
type Decision string

const (
	DecisionAutoApprove Decision = "auto_approve"
	DecisionAutoDeny    Decision = "auto_deny"
	DecisionAskUser     Decision = "ask_user"
)

// Gate evaluates commands against allowlist/denylist rule sets and
// escalates ambiguous commands to a human.
type Gate interface {
	Evaluate(ctx context.Context, command string) (Decision, string)
	RequestConfirmation(ctx context.Context, command string) (bool, error)
}

// RuleSet is an ordered pair of allow/deny pattern lists. Entries are
// matched against a command's raw form, its redirection-stripped form,
// and its extracted pattern.
type RuleSet struct {
	Allow []string
	Deny  []string
}

// AuditEntry records one decision for the audit trail.
type AuditEntry struct {
	ID        string
	Command   string
	Pattern   string
	Decision  Decision
	Rule      string // matched list entry, empty when no rule matched
	Outcome   string // approved | denied | escalated | confirmed | rejected | timeout
	Details   string
	CreatedAt time.Time
}

// AuditStore persists decision audit entries.
type AuditStore interface {
	LogDecision(ctx context.Context, entry AuditEntry) error
}
