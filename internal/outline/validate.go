package outline

import (
	"strings"
	"unicode/utf8"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 1000
	maxPromptLen      = 500
)

func normalizeCreateSection(in CreateSectionInput) (CreateSectionInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := checkTitle(in.Title); err != nil {
		return in, err
	}
	if err := checkDescription(in.Description); err != nil {
		return in, err
	}
	return in, nil
}

func normalizeSectionPatch(p SectionPatch) (SectionPatch, error) {
	if p.Title == nil && p.Description == nil {
		return p, invalid("", "at least one field must be provided")
	}
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		if err := checkTitle(t); err != nil {
			return p, err
		}
		p.Title = &t
	}
	if p.Description != nil {
		d := strings.TrimSpace(*p.Description)
		if err := checkDescription(d); err != nil {
			return p, err
		}
		p.Description = &d
	}
	return p, nil
}

func normalizeCreateQuestion(in CreateQuestionInput) (CreateQuestionInput, error) {
	in.SectionID = strings.TrimSpace(in.SectionID)
	in.Prompt = strings.TrimSpace(in.Prompt)
	if in.SectionID == "" {
		return in, invalid("section_id", "section id is required")
	}
	if err := checkPrompt(in.Prompt); err != nil {
		return in, err
	}
	return in, nil
}

func normalizeQuestionPatch(p QuestionPatch) (QuestionPatch, error) {
	if p.Prompt == nil {
		return p, invalid("", "at least one field must be provided")
	}
	prompt := strings.TrimSpace(*p.Prompt)
	if err := checkPrompt(prompt); err != nil {
		return p, err
	}
	p.Prompt = &prompt
	return p, nil
}

func checkTitle(t string) error {
	if t == "" {
		return invalid("title", "title is required")
	}
	if utf8.RuneCountInString(t) > maxTitleLen {
		return invalid("title", "title must be at most %d characters", maxTitleLen)
	}
	return nil
}

func checkDescription(d string) error {
	if utf8.RuneCountInString(d) > maxDescriptionLen {
		return invalid("description", "description must be at most %d characters", maxDescriptionLen)
	}
	return nil
}

func checkPrompt(p string) error {
	if p == "" {
		return invalid("prompt", "prompt is required")
	}
	if utf8.RuneCountInString(p) > maxPromptLen {
		return invalid("prompt", "prompt must be at most %d characters", maxPromptLen)
	}
	return nil
}

func requireID(field, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", invalid(field, "%s is required", strings.ReplaceAll(field, "_", " "))
	}
	return id, nil
}
