package pattern

import "testing"

func TestExtract_DropsFilePaths(t *testing.T) {
	cases := map[string]string{
		"wc -l foo.txt":               "wc -l",
		"cat /etc/hosts":              "cat",
		"ls -la ./src":                "ls -la",
		"rm -rf /tmp/build":           "rm -rf",
		"python3 scripts/migrate.py":  "python3",
		"tail -f /var/log/system.log": "tail -f",
	}
	for in, want := range cases {
		if got := Extract(in); got != want {
			t.Errorf("Extract(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtract_ChainedCommands(t *testing.T) {
	got := Extract("cd /path/to/project && npm install")
	if got != "cd && npm install" {
		t.Fatalf("Extract = %q, want %q", got, "cd && npm install")
	}
}

func TestExtract_NormalizesOperatorsToAnd(t *testing.T) {
	cases := map[string]string{
		"make build; make test":       "make && make",
		"make build || make clean":    "make && make",
		"pnpm compile | head":         "pnpm compile && head",
		"cd /tmp ; ls -la | wc -l":    "cd && ls -la && wc -l",
	}
	for in, want := range cases {
		if got := Extract(in); got != want {
			t.Errorf("Extract(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtract_KeepsFlagsInOrder(t *testing.T) {
	got := Extract("grep -r --include=*.go -n TODO ./src")
	want := "grep -r --include=*.go -n"
	if got != want {
		t.Fatalf("Extract = %q, want %q", got, want)
	}
}

func TestExtract_SubcommandRetained(t *testing.T) {
	cases := map[string]string{
		"git push --force origin main": "git push --force",
		"git checkout -b feature/x":    "git checkout -b",
		"npm install express":          "npm install",
		"docker run -it ubuntu bash":   "docker run -it",
		"yarn add lodash":              "yarn add",
	}
	for in, want := range cases {
		if got := Extract(in); got != want {
			t.Errorf("Extract(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtract_SeparatorTruncation(t *testing.T) {
	// Tokens after "--" are forwarded to the underlying script and must
	// not leak into the pattern.
	got := Extract("npm run test -- --watch ./src")
	if got != "npm run" {
		t.Fatalf("Extract = %q, want %q", got, "npm run")
	}
}

func TestExtract_SeparatorOnlyForPackageManagers(t *testing.T) {
	got := Extract("git log -- path/to/file.go")
	// git does not truncate at "--"; the path is still dropped as a path.
	if got != "git log" {
		t.Fatalf("Extract = %q, want %q", got, "git log")
	}
}

func TestExtract_NumericDashTokenIsNotAFlag(t *testing.T) {
	if got := Extract("head -100"); got != "head" {
		t.Fatalf("Extract = %q, want %q", got, "head")
	}
}

func TestExtract_QuotedValuesDropped(t *testing.T) {
	got := Extract(`git commit -m "fix: a bug"`)
	if got != "git commit -m" {
		t.Fatalf("Extract = %q, want %q", got, "git commit -m")
	}
}

func TestExtract_URLsDropped(t *testing.T) {
	got := Extract("curl -fsSL https://example.com/install.sh")
	if got != "curl -fsSL" {
		t.Fatalf("Extract = %q, want %q", got, "curl -fsSL")
	}
}

func TestExtract_PureNumbersDropped(t *testing.T) {
	if got := Extract("sleep 30"); got != "sleep" {
		t.Fatalf("Extract = %q, want %q", got, "sleep")
	}
}

func TestExtract_EmptyInputUnchanged(t *testing.T) {
	if got := Extract(""); got != "" {
		t.Fatalf("Extract(\"\") = %q, want empty", got)
	}
	if got := Extract("   "); got != "   " {
		t.Fatalf("Extract on whitespace = %q, want input unchanged", got)
	}
}

func TestExtract_Idempotent(t *testing.T) {
	inputs := []string{
		"wc -l foo.txt",
		"cd /path/to/project && npm install",
		"git push --force origin main",
		"pnpm compile 2>&1 | head -100",
		"ls -la",
	}
	for _, in := range inputs {
		once := Extract(in)
		twice := Extract(once)
		if once != twice {
			t.Errorf("Extract not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}
