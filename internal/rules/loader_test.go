package rules

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"cmdgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeRules(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_InlineOnly(t *testing.T) {
	inline := domain.RuleSet{Allow: []string{"ls"}, Deny: []string{"rm -rf"}}

	res := Load(inline, "", "", testLogger())
	if len(res.Rules.Allow) != 1 || res.Rules.Allow[0] != "ls" {
		t.Errorf("allow = %v", res.Rules.Allow)
	}
	if len(res.Rules.Deny) != 1 || res.Rules.Deny[0] != "rm -rf" {
		t.Errorf("deny = %v", res.Rules.Deny)
	}
	if len(res.LoadedFiles) != 0 {
		t.Errorf("loaded files = %v, want none", res.LoadedFiles)
	}
}

func TestLoad_MergesDirectories(t *testing.T) {
	global := filepath.Join(t.TempDir(), "rules.d")
	workspace := filepath.Join(t.TempDir(), "rules.d")

	writeRules(t, global, "10-go.yaml", "allow:\n  - go build\n  - go test\n")
	writeRules(t, workspace, "project.yaml", "allow:\n  - make lint\ndeny:\n  - make deploy\n")

	inline := domain.RuleSet{Allow: []string{"ls"}}
	res := Load(inline, global, workspace, testLogger())

	wantAllow := []string{"ls", "go build", "go test", "make lint"}
	if len(res.Rules.Allow) != len(wantAllow) {
		t.Fatalf("allow = %v, want %v", res.Rules.Allow, wantAllow)
	}
	for i, w := range wantAllow {
		if res.Rules.Allow[i] != w {
			t.Errorf("allow[%d] = %q, want %q", i, res.Rules.Allow[i], w)
		}
	}
	if len(res.Rules.Deny) != 1 || res.Rules.Deny[0] != "make deploy" {
		t.Errorf("deny = %v", res.Rules.Deny)
	}
	if len(res.LoadedFiles) != 2 {
		t.Errorf("loaded files = %v, want 2", res.LoadedFiles)
	}
	if len(res.SearchedPaths) != 2 {
		t.Errorf("searched paths = %v, want 2", res.SearchedPaths)
	}
}

func TestLoad_DedupeKeepsFirst(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rules.d")
	writeRules(t, dir, "a.yaml", "allow:\n  - ls\n  - git status\n")

	inline := domain.RuleSet{Allow: []string{"ls"}}
	res := Load(inline, dir, "", testLogger())

	count := 0
	for _, e := range res.Rules.Allow {
		if e == "ls" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("duplicate entry survived dedupe: %v", res.Rules.Allow)
	}
}

func TestLoad_SkipsMalformedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rules.d")
	writeRules(t, dir, "bad.yaml", "allow: [unclosed\n")
	writeRules(t, dir, "good.yaml", "allow:\n  - go vet\n")

	res := Load(domain.RuleSet{}, dir, "", testLogger())
	if len(res.Rules.Allow) != 1 || res.Rules.Allow[0] != "go vet" {
		t.Errorf("allow = %v, want [go vet]", res.Rules.Allow)
	}
	if len(res.LoadedFiles) != 1 {
		t.Errorf("loaded files = %v, want only good.yaml", res.LoadedFiles)
	}
}

func TestLoad_IgnoresNonYAML(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rules.d")
	writeRules(t, dir, "notes.txt", "allow:\n  - ls\n")

	res := Load(domain.RuleSet{}, dir, "", testLogger())
	if len(res.Rules.Allow) != 0 {
		t.Errorf("allow = %v, want empty", res.Rules.Allow)
	}
}

func TestLoad_MissingDirIsFine(t *testing.T) {
	res := Load(domain.RuleSet{}, "/nonexistent/rules.d", "", testLogger())
	if len(res.Rules.Allow) != 0 || len(res.Rules.Deny) != 0 {
		t.Errorf("rules = %v", res.Rules)
	}
	if len(res.SearchedPaths) != 1 {
		t.Errorf("missing dir should still be reported as searched, got %v", res.SearchedPaths)
	}
}

func TestLoad_DeterministicFileOrder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rules.d")
	writeRules(t, dir, "20-second.yaml", "allow:\n  - second\n")
	writeRules(t, dir, "10-first.yaml", "allow:\n  - first\n")

	res := Load(domain.RuleSet{}, dir, "", testLogger())
	if len(res.Rules.Allow) != 2 || res.Rules.Allow[0] != "first" || res.Rules.Allow[1] != "second" {
		t.Errorf("allow = %v, want lexicographic file order", res.Rules.Allow)
	}
}

func TestAddAndRemove(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rules.d")

	if err := Add(dir, "allow", "go build"); err != nil {
		t.Fatal(err)
	}
	if err := Add(dir, "deny", "terraform destroy"); err != nil {
		t.Fatal(err)
	}
	// Adding again is a no-op.
	if err := Add(dir, "allow", "go build"); err != nil {
		t.Fatal(err)
	}

	res := Load(domain.RuleSet{}, dir, "", testLogger())
	if len(res.Rules.Allow) != 1 || res.Rules.Allow[0] != "go build" {
		t.Errorf("allow = %v", res.Rules.Allow)
	}
	if len(res.Rules.Deny) != 1 || res.Rules.Deny[0] != "terraform destroy" {
		t.Errorf("deny = %v", res.Rules.Deny)
	}

	removed, err := Remove(dir, "go build")
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Fatal("expected removal")
	}

	removed, err = Remove(dir, "never existed")
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Fatal("unexpected removal")
	}

	res = Load(domain.RuleSet{}, dir, "", testLogger())
	if len(res.Rules.Allow) != 0 {
		t.Errorf("allow after remove = %v", res.Rules.Allow)
	}
}

func TestAdd_RejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	if err := Add(dir, "allow", "   "); err == nil {
		t.Error("expected error for empty pattern")
	}
	if err := Add(dir, "block", "ls"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
