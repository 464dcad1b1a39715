package outline

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
	"time"
)

type Status string

const (
	StatusDraft Status = "draft"
	StatusFinal Status = "final"
)

func (s Status) Valid() bool {
	return s == StatusDraft || s == StatusFinal
}

type ContentType string

const (
	ContentText        ContentType = "text"
	ContentChart       ContentType = "chart"
	ContentMedia       ContentType = "media"
	ContentInteractive ContentType = "interactive"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentChart, ContentMedia, ContentInteractive:
		return true
	default:
		return false
	}
}

// Payload is the single active body of an answer. Exactly one implementation
// exists per ContentType.
type Payload interface {
	Kind() ContentType
}

// TextPayload is a rich text document (editor JSON).
type TextPayload struct {
	Doc json.RawMessage
}

type ChartPayload struct {
	Config json.RawMessage
}

type MediaPayload struct {
	URLs []string
}

type InteractivePayload struct {
	Data json.RawMessage
}

func (TextPayload) Kind() ContentType        { return ContentText }
func (ChartPayload) Kind() ContentType       { return ContentChart }
func (MediaPayload) Kind() ContentType       { return ContentMedia }
func (InteractivePayload) Kind() ContentType { return ContentInteractive }

type Answer struct {
	ID         string
	QuestionID string
	Status     Status
	Payload    Payload
	UpdatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (a *Answer) ContentType() ContentType {
	if a == nil || a.Payload == nil {
		return ContentText
	}
	return a.Payload.Kind()
}

// answerJSON is the row shaped wire form: only the active payload column is non-null.
type answerJSON struct {
	ID              string          `json:"id"`
	QuestionID      string          `json:"question_id"`
	Status          Status          `json:"status"`
	ContentType     ContentType     `json:"content_type"`
	Content         json.RawMessage `json:"content"`
	ChartConfig     json.RawMessage `json:"chart_config"`
	MediaURLs       []string        `json:"media_urls"`
	InteractiveData json.RawMessage `json:"interactive_data"`
	UpdatedBy       string          `json:"updated_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (a Answer) MarshalJSON() ([]byte, error) {
	out := answerJSON{
		ID:          a.ID,
		QuestionID:  a.QuestionID,
		Status:      a.Status,
		ContentType: a.ContentType(),
		UpdatedBy:   a.UpdatedBy,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
	out.Content, out.ChartConfig, out.MediaURLs, out.InteractiveData = PayloadColumns(a.Payload)
	return json.Marshal(out)
}

func (a *Answer) UnmarshalJSON(b []byte) error {
	var in answerJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	payload, err := PayloadFromColumns(in.ContentType, in.Content, in.ChartConfig, in.MediaURLs, in.InteractiveData)
	if err != nil {
		return err
	}
	*a = Answer{
		ID:         in.ID,
		QuestionID: in.QuestionID,
		Status:     in.Status,
		Payload:    payload,
		UpdatedBy:  in.UpdatedBy,
		CreatedAt:  in.CreatedAt,
		UpdatedAt:  in.UpdatedAt,
	}
	return nil
}

// PayloadColumns splits a payload into the four storage columns. Inactive columns are nil.
func PayloadColumns(p Payload) (content, chart json.RawMessage, media []string, interactive json.RawMessage) {
	switch v := p.(type) {
	case TextPayload:
		content = v.Doc
	case ChartPayload:
		chart = v.Config
	case MediaPayload:
		media = v.URLs
	case InteractivePayload:
		interactive = v.Data
	}
	return content, chart, media, interactive
}

// PayloadFromColumns picks the column matching contentType and ignores the
// rest; switching type discards the previous type's payload.
func PayloadFromColumns(contentType ContentType, content, chart json.RawMessage, media []string, interactive json.RawMessage) (Payload, error) {
	if contentType == "" {
		contentType = ContentText
	}
	switch contentType {
	case ContentText:
		return TextPayload{Doc: compactJSON(content)}, nil
	case ContentChart:
		return ChartPayload{Config: compactJSON(chart)}, nil
	case ContentMedia:
		return MediaPayload{URLs: media}, nil
	case ContentInteractive:
		return InteractivePayload{Data: compactJSON(interactive)}, nil
	default:
		return nil, invalid("content_type", "must be one of: text, chart, media, interactive")
	}
}

// AnswerInput is an upsert request. The whole payload is replaced on save.
type AnswerInput struct {
	QuestionID      string
	Status          Status
	ContentType     ContentType
	Content         json.RawMessage
	ChartConfig     json.RawMessage
	MediaURLs       []string
	InteractiveData json.RawMessage
	UpdatedBy       string
}

// AnswerWrite is a validated upsert handed to the repository.
type AnswerWrite struct {
	QuestionID string
	Status     Status
	Payload    Payload
	UpdatedBy  string
}

// NormalizeAnswer applies defaults (draft, text) and validates the active payload.
func NormalizeAnswer(in AnswerInput) (AnswerWrite, error) {
	qid := strings.TrimSpace(in.QuestionID)
	if qid == "" {
		return AnswerWrite{}, invalid("question_id", "question id is required")
	}
	status := in.Status
	if status == "" {
		status = StatusDraft
	}
	if !status.Valid() {
		return AnswerWrite{}, invalid("status", `must be either "draft" or "final"`)
	}
	ct := in.ContentType
	if ct == "" {
		ct = ContentText
	}
	if !ct.Valid() {
		return AnswerWrite{}, invalid("content_type", "must be one of: text, chart, media, interactive")
	}

	payload, err := PayloadFromColumns(ct, in.Content, in.ChartConfig, normalizeURLs(in.MediaURLs), in.InteractiveData)
	if err != nil {
		return AnswerWrite{}, err
	}
	if err := validatePayload(payload); err != nil {
		return AnswerWrite{}, err
	}
	return AnswerWrite{
		QuestionID: qid,
		Status:     status,
		Payload:    payload,
		UpdatedBy:  strings.TrimSpace(in.UpdatedBy),
	}, nil
}

func validatePayload(p Payload) error {
	switch v := p.(type) {
	case TextPayload:
		return requireJSON("content", v.Doc)
	case ChartPayload:
		return requireJSON("chart_config", v.Config)
	case InteractivePayload:
		return requireJSON("interactive_data", v.Data)
	case MediaPayload:
		if len(v.URLs) == 0 {
			return invalid("media_urls", "answer must have some content")
		}
		for _, raw := range v.URLs {
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return invalid("media_urls", "invalid media url %q", raw)
			}
		}
		return nil
	default:
		return invalid("content_type", "unsupported payload")
	}
}

func requireJSON(field string, raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return invalid(field, "answer must have some content")
	}
	if !json.Valid(trimmed) {
		return invalid(field, "must be valid JSON")
	}
	return nil
}

func compactJSON(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return json.RawMessage(trimmed)
	}
	return json.RawMessage(buf.Bytes())
}

func normalizeURLs(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// Transition validates a status-only change. Both directions between draft
// and final are legal; content is untouched.
func Transition(questionID string, current *Answer, next Status) (Status, error) {
	if !next.Valid() {
		return "", invalid("status", `must be either "draft" or "final"`)
	}
	if current == nil {
		return "", notFound("answer for question", questionID)
	}
	return next, nil
}

func (h HistoryEntry) MarshalJSON() ([]byte, error) {
	content, chart, media, interactive := PayloadColumns(h.Payload)
	return json.Marshal(struct {
		ID              string          `json:"id"`
		QuestionID      string          `json:"question_id"`
		Status          Status          `json:"status"`
		ContentType     ContentType     `json:"content_type"`
		Content         json.RawMessage `json:"content"`
		ChartConfig     json.RawMessage `json:"chart_config"`
		MediaURLs       []string        `json:"media_urls"`
		InteractiveData json.RawMessage `json:"interactive_data"`
		ChangedBy       string          `json:"changed_by,omitempty"`
		ChangedAt       time.Time       `json:"changed_at"`
	}{
		ID:              h.ID,
		QuestionID:      h.QuestionID,
		Status:          h.Status,
		ContentType:     h.ContentType,
		Content:         content,
		ChartConfig:     chart,
		MediaURLs:       media,
		InteractiveData: interactive,
		ChangedBy:       h.ChangedBy,
		ChangedAt:       h.ChangedAt,
	})
}
