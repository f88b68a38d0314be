package agent

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// identityFiles are loaded from the identity directory in this order.
var identityFiles = []string{"SOUL.md", "AGENT.md", "USER.md"}

const identitySeparator = "\n\n---\n\n"

// DefaultSystemPrompt is used when no identity files exist.
const DefaultSystemPrompt = `You are Quill, a capable conversational assistant running on the user's own infrastructure.

Capabilities: you can run shell commands, fetch web pages, and recall facts from a persistent memory of prior conversations. Use tools when they materially help; answer directly when they do not.

Principles: be accurate before being fast, state uncertainty plainly, and never fabricate tool output. Keep responses concise and practical.`

// IdentityProvider assembles the stable system-prompt string from
// markdown files in a directory. The assembled prompt is memoised on
// first access.
type IdentityProvider struct {
	dir  string
	once sync.Once

	prompt string
}

// NewIdentityProvider creates a provider rooted at dir. An empty dir
// yields the built-in default prompt.
func NewIdentityProvider(dir string) *IdentityProvider {
	return &IdentityProvider{dir: dir}
}

// SystemPrompt returns the assembled identity prompt: the standard
// files plus any persona markdown, joined by a visible separator, or
// the default prompt when none are present.
func (p *IdentityProvider) SystemPrompt() string {
	p.once.Do(func() {
		p.prompt = p.assemble()
	})
	return p.prompt
}

func (p *IdentityProvider) assemble() string {
	if p.dir == "" {
		return DefaultSystemPrompt
	}

	var sections []string
	seen := make(map[string]bool)

	for _, name := range identityFiles {
		if content := readIdentityFile(filepath.Join(p.dir, name)); content != "" {
			sections = append(sections, content)
		}
		seen[name] = true
	}

	// Persona files: any other markdown in the directory, in name order.
	entries, err := os.ReadDir(p.dir)
	if err == nil {
		var personas []string
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || seen[name] || !strings.HasSuffix(name, ".md") {
				continue
			}
			personas = append(personas, name)
		}
		sort.Strings(personas)
		for _, name := range personas {
			if content := readIdentityFile(filepath.Join(p.dir, name)); content != "" {
				sections = append(sections, content)
			}
		}
	}

	if len(sections) == 0 {
		return DefaultSystemPrompt
	}
	return strings.Join(sections, identitySeparator)
}

func readIdentityFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
