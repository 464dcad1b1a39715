package export

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"aepblueprint/internal/outline"
)

const (
	noFinalAnswer = "*No final answer provided.*"
	dateLayout    = "2006-01-02"
)

// finalAnswer returns the answer only when it is final; drafts are not exported.
func finalAnswer(q outline.Question) *outline.Answer {
	if q.Answer == nil || q.Answer.Status != outline.StatusFinal {
		return nil
	}
	return q.Answer
}

// RenderMarkdown writes the ordered outline with final answers only.
func RenderMarkdown(snap *outline.Snapshot, title string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s Export\n\n", title)
	fmt.Fprintf(&b, "Generated on: %s\n\n", snap.GeneratedAt.UTC().Format(time.RFC3339))

	for _, sec := range snap.Sections {
		fmt.Fprintf(&b, "## %s\n\n", sec.Title)
		if sec.Description != nil && strings.TrimSpace(*sec.Description) != "" {
			fmt.Fprintf(&b, "%s\n\n", *sec.Description)
		}
		for _, q := range sec.Questions {
			fmt.Fprintf(&b, "### %s\n\n", q.Prompt)
			a := finalAnswer(q)
			if a == nil {
				b.WriteString(noFinalAnswer + "\n\n")
				continue
			}
			if body := answerMarkdown(a); body != "" {
				b.WriteString(body + "\n\n")
			}
			fmt.Fprintf(&b, "*Last updated: %s*\n\n", a.UpdatedAt.UTC().Format(dateLayout))
		}
	}
	return b.String()
}

func answerMarkdown(a *outline.Answer) string {
	switch p := a.Payload.(type) {
	case outline.TextPayload:
		doc, err := ParseDoc(p.Doc)
		if err != nil || doc == nil {
			return ""
		}
		return doc.Markdown()
	case outline.ChartPayload:
		return "```json\n" + indentJSON(p.Config) + "\n```"
	case outline.MediaPayload:
		lines := make([]string, 0, len(p.URLs))
		for _, u := range p.URLs {
			lines = append(lines, fmt.Sprintf("- [%s](%s)", u, u))
		}
		return strings.Join(lines, "\n")
	case outline.InteractivePayload:
		return "```json\n" + indentJSON(p.Data) + "\n```"
	default:
		return ""
	}
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

//go:embed templates/document.html
var templateFS embed.FS

var documentTemplate = template.Must(template.New("document.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time) string { return t.UTC().Format(dateLayout) },
}).ParseFS(templateFS, "templates/document.html"))

type templateData struct {
	Title       string
	GeneratedAt time.Time
	Progress    outline.Progress
	Sections    []templateSection
}

type templateSection struct {
	Title       string
	Description string
	Percent     int
	Questions   []templateQuestion
}

type templateQuestion struct {
	Prompt    string
	Final     bool
	BodyHTML  template.HTML
	MediaURLs []string
	Code      string
	UpdatedAt time.Time
}

// RenderHTML renders a standalone document used for the HTML and PDF exports.
func RenderHTML(snap *outline.Snapshot, title string) (string, error) {
	data := templateData{Title: title, GeneratedAt: snap.GeneratedAt, Progress: snap.Progress}
	for _, sec := range snap.Sections {
		ts := templateSection{Title: sec.Title, Percent: outline.SectionProgress(sec).Percent}
		if sec.Description != nil {
			ts.Description = *sec.Description
		}
		for _, q := range sec.Questions {
			tq := templateQuestion{Prompt: q.Prompt}
			if a := finalAnswer(q); a != nil {
				tq.Final = true
				tq.UpdatedAt = a.UpdatedAt
				switch p := a.Payload.(type) {
				case outline.TextPayload:
					if doc, err := ParseDoc(p.Doc); err == nil && doc != nil {
						tq.BodyHTML = template.HTML(doc.HTML())
					}
				case outline.ChartPayload:
					tq.Code = indentJSON(p.Config)
				case outline.InteractivePayload:
					tq.Code = indentJSON(p.Data)
				case outline.MediaPayload:
					tq.MediaURLs = p.URLs
				}
			}
			ts.Questions = append(ts.Questions, tq)
		}
		data.Sections = append(data.Sections, ts)
	}

	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}
