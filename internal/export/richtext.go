package export

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// Node is one node of a TipTap (ProseMirror) document.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// ParseDoc decodes an editor document. Empty input yields a nil node.
func ParseDoc(raw json.RawMessage) (*Node, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decode rich text: %w", err)
	}
	return &n, nil
}

func (n Node) attrString(key string) string {
	s, _ := n.Attrs[key].(string)
	return s
}

func (n Node) headingLevel() int {
	if lvl, ok := n.Attrs["level"].(float64); ok && lvl >= 1 && lvl <= 6 {
		return int(lvl)
	}
	return 1
}

func (m Mark) href() string {
	s, _ := m.Attrs["href"].(string)
	return s
}

// Markdown converts the document to Markdown.
func (n Node) Markdown() string {
	switch n.Type {
	case "doc":
		return n.joinMarkdown("\n\n")
	case "paragraph", "listItem":
		return n.joinMarkdown("")
	case "text":
		text := n.Text
		for _, m := range n.Marks {
			switch m.Type {
			case "bold":
				text = "**" + text + "**"
			case "italic":
				text = "*" + text + "*"
			case "code":
				text = "`" + text + "`"
			case "link":
				text = "[" + text + "](" + m.href() + ")"
			}
		}
		return text
	case "bulletList":
		lines := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			lines = append(lines, "- "+item.Markdown())
		}
		return strings.Join(lines, "\n")
	case "orderedList":
		lines := make([]string, 0, len(n.Content))
		for i, item := range n.Content {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, item.Markdown()))
		}
		return strings.Join(lines, "\n")
	case "hardBreak":
		return "\n"
	case "heading":
		return strings.Repeat("#", n.headingLevel()) + " " + n.joinMarkdown("")
	case "blockquote":
		lines := strings.Split(n.joinMarkdown("\n"), "\n")
		for i, l := range lines {
			lines[i] = "> " + l
		}
		return strings.Join(lines, "\n")
	case "codeBlock":
		return "```" + n.attrString("language") + "\n" + n.joinMarkdown("") + "\n```"
	default:
		return n.joinMarkdown("")
	}
}

func (n Node) joinMarkdown(sep string) string {
	parts := make([]string, 0, len(n.Content))
	for _, c := range n.Content {
		parts = append(parts, c.Markdown())
	}
	return strings.Join(parts, sep)
}

// HTML converts the document to escaped HTML.
func (n Node) HTML() string {
	inner := func() string {
		var b strings.Builder
		for _, c := range n.Content {
			b.WriteString(c.HTML())
		}
		return b.String()
	}
	switch n.Type {
	case "doc":
		return inner()
	case "paragraph":
		return "<p>" + inner() + "</p>\n"
	case "heading":
		lvl := n.headingLevel()
		return fmt.Sprintf("<h%d>%s</h%d>\n", lvl, inner(), lvl)
	case "bulletList":
		return "<ul>\n" + inner() + "</ul>\n"
	case "orderedList":
		return "<ol>\n" + inner() + "</ol>\n"
	case "listItem":
		return "<li>" + inner() + "</li>\n"
	case "blockquote":
		return "<blockquote>\n" + inner() + "</blockquote>\n"
	case "codeBlock":
		var code strings.Builder
		for _, c := range n.Content {
			code.WriteString(c.Text)
		}
		return "<pre><code>" + html.EscapeString(code.String()) + "</code></pre>\n"
	case "text":
		return textHTML(n.Text, n.Marks)
	case "hardBreak":
		return "<br>"
	case "horizontalRule":
		return "<hr>\n"
	default:
		return inner()
	}
}

func textHTML(text string, marks []Mark) string {
	if text == "" {
		return ""
	}
	out := html.EscapeString(text)
	for i := len(marks) - 1; i >= 0; i-- {
		switch marks[i].Type {
		case "bold":
			out = "<strong>" + out + "</strong>"
		case "italic":
			out = "<em>" + out + "</em>"
		case "code":
			out = "<code>" + out + "</code>"
		case "strike":
			out = "<s>" + out + "</s>"
		case "underline":
			out = "<u>" + out + "</u>"
		case "link":
			out = `<a href="` + html.EscapeString(safeHref(marks[i].href())) + `">` + out + "</a>"
		}
	}
	return out
}

func safeHref(href string) string {
	lower := strings.ToLower(strings.TrimSpace(href))
	for _, scheme := range []string{"http://", "https://", "mailto:"} {
		if strings.HasPrefix(lower, scheme) {
			return href
		}
	}
	return "#"
}
