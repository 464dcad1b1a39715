package outline

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	TemplateJSON = "json"
	TemplateYAML = "yaml"
)

// Template is the portable outline document used for import and export.
// Answers are never part of a template.
type Template struct {
	Sections []TemplateSection `json:"sections" yaml:"sections"`
}

type TemplateSection struct {
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Questions   []string `json:"questions" yaml:"questions"`
}

// Normalize trims every field and checks the template before import.
func (t Template) Normalize() (Template, error) {
	if len(t.Sections) == 0 {
		return t, invalid("sections", "template must have a non-empty sections array")
	}
	out := Template{Sections: make([]TemplateSection, 0, len(t.Sections))}
	for i, sec := range t.Sections {
		title := strings.TrimSpace(sec.Title)
		if title == "" {
			return t, invalid("sections", "section %d must have a title", i+1)
		}
		if err := checkTitle(title); err != nil {
			return t, invalid("sections", "section %d: %v", i+1, err)
		}
		desc := strings.TrimSpace(sec.Description)
		if err := checkDescription(desc); err != nil {
			return t, invalid("sections", "section %d: %v", i+1, err)
		}
		if len(sec.Questions) == 0 {
			return t, invalid("sections", "section %q must have at least one question", title)
		}
		prompts := make([]string, 0, len(sec.Questions))
		for j, q := range sec.Questions {
			q = strings.TrimSpace(q)
			if q == "" {
				return t, invalid("sections", "question %d in section %q must be a non-empty string", j+1, title)
			}
			if err := checkPrompt(q); err != nil {
				return t, invalid("sections", "question %d in section %q: %v", j+1, title, err)
			}
			prompts = append(prompts, q)
		}
		out.Sections = append(out.Sections, TemplateSection{Title: title, Description: desc, Questions: prompts})
	}
	return out, nil
}

// TemplateFromSections drops ids, order and answers; order is implied by position.
func TemplateFromSections(sections []Section) Template {
	sorted := cloneSections(sections)
	SortSections(sorted)
	t := Template{Sections: make([]TemplateSection, 0, len(sorted))}
	for _, s := range sorted {
		ts := TemplateSection{Title: s.Title, Questions: make([]string, 0, len(s.Questions))}
		if s.Description != nil {
			ts.Description = *s.Description
		}
		for _, q := range s.Questions {
			ts.Questions = append(ts.Questions, q.Prompt)
		}
		t.Sections = append(t.Sections, ts)
	}
	return t
}

func ParseTemplate(r io.Reader, format string) (Template, error) {
	var t Template
	switch normalizeTemplateFormat(format) {
	case TemplateJSON:
		if err := json.NewDecoder(r).Decode(&t); err != nil {
			return t, invalid("template", "invalid JSON format")
		}
	case TemplateYAML:
		if err := yaml.NewDecoder(r).Decode(&t); err != nil {
			return t, invalid("template", "invalid YAML format")
		}
	default:
		return t, invalid("format", "unsupported template format %q", format)
	}
	return t, nil
}

func (t Template) Encode(w io.Writer, format string) error {
	switch normalizeTemplateFormat(format) {
	case TemplateJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	case TemplateYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("encode yaml template: %w", err)
		}
		return enc.Close()
	default:
		return invalid("format", "unsupported template format %q", format)
	}
}

func normalizeTemplateFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json", "application/json":
		return TemplateJSON
	case "yaml", "yml", "application/yaml", "application/x-yaml", "text/yaml":
		return TemplateYAML
	default:
		return ""
	}
}
