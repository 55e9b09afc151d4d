package orchestrator

import (
	"strings"
	"testing"
)

func TestDefaultRulesNotEmpty(t *testing.T) {
	rc := DefaultRulesConfig()
	if len(rc.Rules()) == 0 {
		t.Error("default rules should not be empty")
	}
}

func TestDefaultRulesContainSafetyRule(t *testing.T) {
	rc := DefaultRulesConfig()
	prompt := rc.BuildPromptSection()
	if !strings.Contains(prompt, "CRITICAL SAFETY RULE") {
		t.Error("rules should contain the capability-output safety rule")
	}
	if !strings.Contains(prompt, "queued for the user's explicit approval") {
		t.Error("rules should state the approval requirement for side effects")
	}
}

func TestDefaultRulesMultilingual(t *testing.T) {
	rc := DefaultRulesConfig()
	prompt := rc.BuildPromptSection()

	for _, marker := range []string{"REGLA DE SEGURIDAD", "SICHERHEITSREGEL", "RÈGLE DE SÉCURITÉ", "安全规则", "セキュリティルール"} {
		if !strings.Contains(prompt, marker) {
			t.Errorf("prompt missing multilingual reinforcement %q", marker)
		}
	}
}

func TestCustomRulesAppended(t *testing.T) {
	custom := []string{
		"Never send PII to external services",
		"All financial data must stay internal",
	}
	rc := NewRulesConfig(custom)

	rules := rc.Rules()
	expected := len(defaultRules) + 2
	if len(rules) != expected {
		t.Errorf("expected %d rules, got %d", expected, len(rules))
	}

	found := 0
	for _, r := range rules {
		if r == custom[0] || r == custom[1] {
			found++
		}
	}
	if found != 2 {
		t.Errorf("expected 2 custom rules found, got %d", found)
	}
}

func TestCustomRulesEmptyStringsIgnored(t *testing.T) {
	rc := NewRulesConfig([]string{"valid rule", "", "  ", "another rule"})
	expected := len(defaultRules) + 2
	if len(rc.Rules()) != expected {
		t.Errorf("empty strings should be ignored, expected %d got %d rules", expected, len(rc.Rules()))
	}
}

func TestCustomRulesNilPreservesDefaults(t *testing.T) {
	rc := NewRulesConfig(nil)
	if len(rc.Rules()) != len(defaultRules) {
		t.Errorf("nil custom rules should preserve defaults, got %d", len(rc.Rules()))
	}
}

func TestBuildPromptSectionFormat(t *testing.T) {
	rc := DefaultRulesConfig()
	prompt := rc.BuildPromptSection()

	if !strings.HasPrefix(prompt, "## MANDATORY RULES") {
		t.Error("prompt should start with the MANDATORY RULES header")
	}
	if !strings.Contains(prompt, "You MUST follow ALL") {
		t.Error("prompt should contain enforcement language")
	}
	for _, r := range defaultRules {
		if !strings.Contains(prompt, r) {
			t.Errorf("prompt missing rule: %s", r[:40])
		}
	}
}

func TestBuildPromptSectionCustomMarked(t *testing.T) {
	rc := NewRulesConfig([]string{"my org rule"})
	prompt := rc.BuildPromptSection()

	if !strings.Contains(prompt, "[custom] my org rule") {
		t.Error("custom rules should be marked with the [custom] prefix")
	}
}
