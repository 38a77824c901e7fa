package shell

import "testing"

func TestHasSubstitution_DollarParen(t *testing.T) {
	if !HasSubstitution("echo $(whoami)") {
		t.Fatal("expected substitution for $(...)")
	}
}

func TestHasSubstitution_Backticks(t *testing.T) {
	if !HasSubstitution("echo `date`") {
		t.Fatal("expected substitution for backticks")
	}
}

func TestHasSubstitution_ProcessSubstitution(t *testing.T) {
	if !HasSubstitution("diff <(sort a.txt) <(sort b.txt)") {
		t.Fatal("expected substitution for <(...)")
	}
}

func TestHasSubstitution_PlainCommand(t *testing.T) {
	if HasSubstitution("ls -la /tmp") {
		t.Fatal("plain command should not report substitution")
	}
}

func TestHasSubstitution_PipelineWithoutSubst(t *testing.T) {
	if HasSubstitution("pnpm compile 2>&1 | head -100") {
		t.Fatal("pipeline without substitution should not report substitution")
	}
}

func TestHasSubstitution_UnparsableIsSuspicious(t *testing.T) {
	if !HasSubstitution("echo 'unterminated") {
		t.Fatal("unparsable input must be treated as suspicious")
	}
}
