package policy

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"cmdgate/internal/config"
	"cmdgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// noopAudit discards audit entries.
type noopAudit struct{}

func (n *noopAudit) LogDecision(ctx context.Context, entry domain.AuditEntry) error { return nil }

func defaultTestCfg() config.PolicyConfig {
	return config.PolicyConfig{
		DefaultPolicy:         "ask",
		BlockSubstitution:     true,
		ConfirmTimeoutSeconds: 1,
		AuditLog:              true,
	}
}

func defaultTestRules() domain.RuleSet {
	return domain.RuleSet{
		Allow: []string{"ls", "ls -la", "git status", "echo", "head", "wc -l"},
		Deny:  []string{"rm -rf", "mkfs", "shutdown"},
	}
}

func mustEngine(t *testing.T, cfg config.PolicyConfig, rules domain.RuleSet, confirmResult bool) *Engine {
	t.Helper()
	confirmFn := func(ctx context.Context, command, reason string) (bool, error) {
		return confirmResult, nil
	}
	return NewEngine(cfg, rules, confirmFn, &noopAudit{}, testLogger())
}

// --- Evaluate: denylist ---

func TestEvaluate_DenylistExact(t *testing.T) {
	e := mustEngine(t, defaultTestCfg(), defaultTestRules(), false)

	d, reason := e.Evaluate(context.Background(), "rm -rf")
	if d != domain.DecisionAutoDeny {
		t.Fatalf("expected auto_deny, got %v (%s)", d, reason)
	}
}

func TestEvaluate_DenylistViaPattern(t *testing.T) {
	e := mustEngine(t, defaultTestCfg(), defaultTestRules(), false)

	// "rm -rf /tmp/build" generalizes to "rm -rf" which is denied.
	d, _ := e.Evaluate(context.Background(), "rm -rf /tmp/build")
	if d != domain.DecisionAutoDeny {
		t.Fatalf("expected auto_deny via pattern, got %v", d)
	}
}

func TestEvaluate_DenyWinsOverAllow(t *testing.T) {
	rules := domain.RuleSet{
		Allow: []string{"rm -rf"},
		Deny:  []string{"rm -rf"},
	}
	e := mustEngine(t, defaultTestCfg(), rules, false)

	d, _ := e.Evaluate(context.Background(), "rm -rf ./build")
	if d != domain.DecisionAutoDeny {
		t.Fatalf("deny must take priority over allow, got %v", d)
	}
}

func TestEvaluate_DenyInPipelineSegment(t *testing.T) {
	e := mustEngine(t, defaultTestCfg(), defaultTestRules(), false)

	// A denied segment taints the whole pipeline even when the other
	// segments are allowlisted.
	d, _ := e.Evaluate(context.Background(), "ls -la | rm -rf ./x")
	if d != domain.DecisionAutoDeny {
		t.Fatalf("expected auto_deny for tainted pipeline, got %v", d)
	}
}

// --- Evaluate: allowlist ---

func TestEvaluate_AllowlistExact(t *testing.T) {
	e := mustEngine(t, defaultTestCfg(), defaultTestRules(), false)

	d, _ := e.Evaluate(context.Background(), "git status")
	if d != domain.DecisionAutoApprove {
		t.Fatalf("expected auto_approve, got %v", d)
	}
}

func TestEvaluate_AllowlistViaPattern(t *testing.T) {
	e := mustEngine(t, defaultTestCfg(), defaultTestRules(), false)

	// "ls -la ./src" generalizes to "ls -la".
	d, _ := e.Evaluate(context.Background(), "ls -la ./src")
	if d != domain.DecisionAutoApprove {
		t.Fatalf("expected auto_approve via pattern, got %v", d)
	}
}

func TestEvaluate_AllowlistChainPattern(t *testing.T) {
	rules := domain.RuleSet{Allow: []string{"cd && npm install"}}
	e := mustEngine(t, defaultTestCfg(), rules, false)

	d, _ := e.Evaluate(context.Background(), "cd /path/to/project && npm install")
	if d != domain.DecisionAutoApprove {
		t.Fatalf("expected auto_approve for listed chain pattern, got %v", d)
	}
}

func TestEvaluate_UnlistedAsks(t *testing.T) {
	e := mustEngine(t, defaultTestCfg(), defaultTestRules(), false)

	d, _ := e.Evaluate(context.Background(), "go build ./...")
	if d != domain.DecisionAskUser {
		t.Fatalf("expected ask_user for unlisted command, got %v", d)
	}
}

// --- Evaluate: pipelines ---

func TestEvaluate_PipelineAllSegmentsAllowed(t *testing.T) {
	rules := domain.RuleSet{Allow: []string{"pnpm compile 2>&1", "head"}}
	e := mustEngine(t, defaultTestCfg(), rules, false)

	d, _ := e.Evaluate(context.Background(), "pnpm compile 2>&1 | head -100")
	if d != domain.DecisionAutoApprove {
		t.Fatalf("expected auto_approve, got %v", d)
	}
}

func TestEvaluate_PipelineMatchesRedirectionStripped(t *testing.T) {
	// The allowlist entry omits the redirection; the stripped form of the
	// first segment still matches it.
	rules := domain.RuleSet{Allow: []string{"pnpm compile", "head"}}
	e := mustEngine(t, defaultTestCfg(), rules, false)

	d, _ := e.Evaluate(context.Background(), "pnpm compile 2>&1 | head -100")
	if d != domain.DecisionAutoApprove {
		t.Fatalf("expected auto_approve via stripped form, got %v", d)
	}
}

func TestEvaluate_PipelinePartialCoverageAsks(t *testing.T) {
	rules := domain.RuleSet{Allow: []string{"head"}}
	e := mustEngine(t, defaultTestCfg(), rules, false)

	d, _ := e.Evaluate(context.Background(), "pnpm compile 2>&1 | head -100")
	if d != domain.DecisionAskUser {
		t.Fatalf("expected ask_user for partially covered pipeline, got %v", d)
	}
}

func TestEvaluate_PipelineIgnoresDefaultAllow(t *testing.T) {
	cfg := defaultTestCfg()
	cfg.DefaultPolicy = "allow"
	rules := domain.RuleSet{Allow: []string{"head"}}
	e := mustEngine(t, cfg, rules, false)

	// Partially covered pipelines ask even under a permissive default.
	d, _ := e.Evaluate(context.Background(), "curl -s example.com | head")
	if d != domain.DecisionAskUser {
		t.Fatalf("expected ask_user, got %v", d)
	}
}

// --- Evaluate: substitution guard ---

func TestEvaluate_SubstitutionEscalates(t *testing.T) {
	e := mustEngine(t, defaultTestCfg(), defaultTestRules(), false)

	d, reason := e.Evaluate(context.Background(), "echo $(whoami)")
	if d != domain.DecisionAskUser {
		t.Fatalf("expected ask_user for command substitution, got %v (%s)", d, reason)
	}
}

func TestEvaluate_SubstitutionGuardDisabled(t *testing.T) {
	cfg := defaultTestCfg()
	cfg.BlockSubstitution = false
	rules := domain.RuleSet{Allow: []string{"echo"}}
	e := mustEngine(t, cfg, rules, false)

	d, _ := e.Evaluate(context.Background(), "echo $(whoami)")
	if d != domain.DecisionAutoApprove {
		t.Fatalf("expected auto_approve with guard disabled, got %v", d)
	}
}

func TestEvaluate_DenyBeatsSubstitutionGuard(t *testing.T) {
	e := mustEngine(t, defaultTestCfg(), defaultTestRules(), false)

	d, _ := e.Evaluate(context.Background(), "rm -rf $(pwd)")
	if d != domain.DecisionAutoDeny {
		t.Fatalf("expected auto_deny before substitution check, got %v", d)
	}
}

// --- Evaluate: default policy ---

func TestEvaluate_DefaultPolicyAllow(t *testing.T) {
	cfg := defaultTestCfg()
	cfg.DefaultPolicy = "allow"
	e := mustEngine(t, cfg, defaultTestRules(), false)

	d, _ := e.Evaluate(context.Background(), "go build ./...")
	if d != domain.DecisionAutoApprove {
		t.Fatalf("expected auto_approve (default allow), got %v", d)
	}
}

func TestEvaluate_DefaultPolicyDeny(t *testing.T) {
	cfg := defaultTestCfg()
	cfg.DefaultPolicy = "deny"
	e := mustEngine(t, cfg, defaultTestRules(), false)

	d, _ := e.Evaluate(context.Background(), "go build ./...")
	if d != domain.DecisionAutoDeny {
		t.Fatalf("expected auto_deny (default deny), got %v", d)
	}
}

// --- Evaluate: edge cases ---

func TestEvaluate_EmptyCommand(t *testing.T) {
	e := mustEngine(t, defaultTestCfg(), defaultTestRules(), false)

	d, _ := e.Evaluate(context.Background(), "   ")
	if d != domain.DecisionAskUser {
		t.Fatalf("expected ask_user for empty command, got %v", d)
	}
}

func TestEvaluate_WhitespaceTrimmed(t *testing.T) {
	e := mustEngine(t, defaultTestCfg(), defaultTestRules(), false)

	d, _ := e.Evaluate(context.Background(), "  git status  ")
	if d != domain.DecisionAutoApprove {
		t.Fatalf("expected auto_approve after trimming, got %v", d)
	}
}

func TestEvaluate_RuleEntriesTrimmed(t *testing.T) {
	rules := domain.RuleSet{Allow: []string{"  ls -la  "}}
	e := mustEngine(t, defaultTestCfg(), rules, false)

	d, _ := e.Evaluate(context.Background(), "ls -la")
	if d != domain.DecisionAutoApprove {
		t.Fatalf("expected auto_approve for padded rule entry, got %v", d)
	}
}

// --- RequestConfirmation ---

func TestRequestConfirmation_Approved(t *testing.T) {
	e := mustEngine(t, defaultTestCfg(), defaultTestRules(), true)

	ok, err := e.RequestConfirmation(context.Background(), "go build ./...")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !ok {
		t.Fatal("expected confirmed=true")
	}
}

func TestRequestConfirmation_Denied(t *testing.T) {
	e := mustEngine(t, defaultTestCfg(), defaultTestRules(), false)

	ok, _ := e.RequestConfirmation(context.Background(), "go build ./...")
	if ok {
		t.Fatal("expected confirmed=false")
	}
}

func TestRequestConfirmation_NoChannel(t *testing.T) {
	e := NewEngine(defaultTestCfg(), defaultTestRules(), nil, &noopAudit{}, testLogger())

	ok, err := e.RequestConfirmation(context.Background(), "go build ./...")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if ok {
		t.Fatal("no channel must deny")
	}
}

func TestRequestConfirmation_TimeoutDenies(t *testing.T) {
	confirmFn := func(ctx context.Context, command, reason string) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}
	e := NewEngine(defaultTestCfg(), defaultTestRules(), confirmFn, &noopAudit{}, testLogger())

	ok, err := e.RequestConfirmation(context.Background(), "go build ./...")
	if err != nil {
		t.Fatalf("timeout should deny without error, got %v", err)
	}
	if ok {
		t.Fatal("timeout must deny")
	}
}

func TestRequestConfirmation_ChannelError(t *testing.T) {
	wantErr := errors.New("channel down")
	confirmFn := func(ctx context.Context, command, reason string) (bool, error) {
		return false, wantErr
	}
	e := NewEngine(defaultTestCfg(), defaultTestRules(), confirmFn, &noopAudit{}, testLogger())

	ok, err := e.RequestConfirmation(context.Background(), "go build ./...")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected channel error, got %v", err)
	}
	if ok {
		t.Fatal("error must deny")
	}
}
