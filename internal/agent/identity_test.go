package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeIdentity(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSystemPromptDefault(t *testing.T) {
	p := NewIdentityProvider("")
	if p.SystemPrompt() != DefaultSystemPrompt {
		t.Error("empty dir should yield the default prompt")
	}
}

func TestSystemPromptMissingDirFallsBack(t *testing.T) {
	p := NewIdentityProvider(filepath.Join(t.TempDir(), "nope"))
	if p.SystemPrompt() != DefaultSystemPrompt {
		t.Error("missing dir should yield the default prompt")
	}
}

func TestSystemPromptAssemblyOrder(t *testing.T) {
	dir := t.TempDir()
	writeIdentity(t, dir, "SOUL.md", "I am the soul.")
	writeIdentity(t, dir, "AGENT.md", "I am the agent.")
	writeIdentity(t, dir, "USER.md", "The user likes Go.")

	prompt := NewIdentityProvider(dir).SystemPrompt()
	soul := strings.Index(prompt, "I am the soul.")
	agent := strings.Index(prompt, "I am the agent.")
	user := strings.Index(prompt, "The user likes Go.")
	if soul < 0 || agent < 0 || user < 0 {
		t.Fatalf("missing sections in %q", prompt)
	}
	if !(soul < agent && agent < user) {
		t.Errorf("sections out of order: soul=%d agent=%d user=%d", soul, agent, user)
	}
	if !strings.Contains(prompt, identitySeparator) {
		t.Error("sections should be joined with the separator")
	}
}

func TestSystemPromptIncludesPersonas(t *testing.T) {
	dir := t.TempDir()
	writeIdentity(t, dir, "AGENT.md", "Base identity.")
	writeIdentity(t, dir, "b-persona.md", "Second persona.")
	writeIdentity(t, dir, "a-persona.md", "First persona.")
	writeIdentity(t, dir, "notes.txt", "not markdown")

	prompt := NewIdentityProvider(dir).SystemPrompt()
	if strings.Contains(prompt, "not markdown") {
		t.Error("non-markdown files must be ignored")
	}
	first := strings.Index(prompt, "First persona.")
	second := strings.Index(prompt, "Second persona.")
	if first < 0 || second < 0 || first > second {
		t.Errorf("personas missing or out of name order: %d %d", first, second)
	}
	if base := strings.Index(prompt, "Base identity."); base > first {
		t.Error("standard files should precede personas")
	}
}

func TestSystemPromptMemoised(t *testing.T) {
	dir := t.TempDir()
	writeIdentity(t, dir, "AGENT.md", "before")

	p := NewIdentityProvider(dir)
	if got := p.SystemPrompt(); got != "before" {
		t.Fatalf("unexpected prompt %q", got)
	}

	writeIdentity(t, dir, "AGENT.md", "after")
	if got := p.SystemPrompt(); got != "before" {
		t.Errorf("prompt should be memoised, got %q", got)
	}
}
