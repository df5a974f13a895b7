// Package prompts loads the subject and persona prompt templates used by
// the teaching agent.
package prompts

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vidyalabs/tutor-server/internal/domain"
)

//go:embed templates.yaml
var rawTemplates []byte

// Template is the prompt configuration for one subject.
type Template struct {
	System string `yaml:"system"`
	Style  string `yaml:"style"`
}

// Library holds all loaded templates.
type Library struct {
	subjects map[domain.Subject]Template
	personas map[domain.Persona]string
}

// Load parses the embedded template file.
func Load() (*Library, error) {
	var doc struct {
		Subjects map[string]Template `yaml:"subjects"`
		Personas map[string]string   `yaml:"personas"`
	}
	if err := yaml.Unmarshal(rawTemplates, &doc); err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	if _, ok := doc.Subjects[string(domain.SubjectGeneral)]; !ok {
		return nil, fmt.Errorf("prompt templates missing the %q subject", domain.SubjectGeneral)
	}

	lib := &Library{
		subjects: make(map[domain.Subject]Template, len(doc.Subjects)),
		personas: make(map[domain.Persona]string, len(doc.Personas)),
	}
	for name, tpl := range doc.Subjects {
		lib.subjects[domain.Subject(name)] = tpl
	}
	for name, line := range doc.Personas {
		lib.personas[domain.Persona(name)] = line
	}
	return lib, nil
}

// SystemPrompt returns the system prompt for a subject, flavored by the
// persona. Unknown subjects fall back to the general template.
func (l *Library) SystemPrompt(subject domain.Subject, persona domain.Persona) string {
	tpl, ok := l.subjects[subject]
	if !ok {
		tpl = l.subjects[domain.SubjectGeneral]
	}
	prompt := strings.TrimSpace(tpl.System)
	if line, ok := l.personas[persona]; ok {
		prompt += "\n" + strings.TrimSpace(line)
	}
	return prompt
}

// Style returns the response style hint for a subject.
func (l *Library) Style(subject domain.Subject) string {
	if tpl, ok := l.subjects[subject]; ok {
		return tpl.Style
	}
	return l.subjects[domain.SubjectGeneral].Style
}
