package outline

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNormalizeAnswerDefaults(t *testing.T) {
	w, err := NormalizeAnswer(AnswerInput{
		QuestionID: " q1 ",
		Content:    json.RawMessage(`{"type":"doc", "content":[]}`),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if w.QuestionID != "q1" || w.Status != StatusDraft {
		t.Fatalf("unexpected defaults: %+v", w)
	}
	text, ok := w.Payload.(TextPayload)
	if !ok {
		t.Fatalf("expected text payload, got %T", w.Payload)
	}
	if string(text.Doc) != `{"type":"doc","content":[]}` {
		t.Fatalf("expected compacted doc, got %s", text.Doc)
	}
}

func TestNormalizeAnswerValidation(t *testing.T) {
	tests := []struct {
		name    string
		in      AnswerInput
		field   string
		wantErr bool
	}{
		{name: "missing question", in: AnswerInput{Content: json.RawMessage(`{}`)}, field: "question_id", wantErr: true},
		{name: "bad status", in: AnswerInput{QuestionID: "q", Status: "done", Content: json.RawMessage(`{}`)}, field: "status", wantErr: true},
		{name: "bad content type", in: AnswerInput{QuestionID: "q", ContentType: "video"}, field: "content_type", wantErr: true},
		{name: "empty text", in: AnswerInput{QuestionID: "q"}, field: "content", wantErr: true},
		{name: "null text", in: AnswerInput{QuestionID: "q", Content: json.RawMessage(`null`)}, field: "content", wantErr: true},
		{name: "invalid json", in: AnswerInput{QuestionID: "q", Content: json.RawMessage(`{"type":`)}, field: "content", wantErr: true},
		{name: "chart without config", in: AnswerInput{QuestionID: "q", ContentType: ContentChart, Content: json.RawMessage(`{}`)}, field: "chart_config", wantErr: true},
		{name: "media empty", in: AnswerInput{QuestionID: "q", ContentType: ContentMedia, MediaURLs: []string{" "}}, field: "media_urls", wantErr: true},
		{name: "media relative", in: AnswerInput{QuestionID: "q", ContentType: ContentMedia, MediaURLs: []string{"/img.png"}}, field: "media_urls", wantErr: true},
		{name: "media ok", in: AnswerInput{QuestionID: "q", ContentType: ContentMedia, MediaURLs: []string{"https://cdn.example.com/a.png"}}},
		{name: "interactive ok", in: AnswerInput{QuestionID: "q", ContentType: ContentInteractive, InteractiveData: json.RawMessage(`{"rows":[1,2]}`)}},
		{name: "final chart ok", in: AnswerInput{QuestionID: "q", Status: StatusFinal, ContentType: ContentChart, ChartConfig: json.RawMessage(`{"type":"bar"}`)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizeAnswer(tc.in)
			if !tc.wantErr {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tc.field {
				t.Fatalf("expected field %q, got %v", tc.field, err)
			}
		})
	}
}

func TestSwitchingContentTypeDiscardsPreviousPayload(t *testing.T) {
	w, err := NormalizeAnswer(AnswerInput{
		QuestionID:  "q",
		ContentType: ContentChart,
		Content:     json.RawMessage(`{"type":"doc"}`),
		ChartConfig: json.RawMessage(`{"type":"line"}`),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	content, chart, media, interactive := PayloadColumns(w.Payload)
	if content != nil || media != nil || interactive != nil {
		t.Fatalf("expected only chart column, got content=%s media=%v interactive=%s", content, media, interactive)
	}
	if string(chart) != `{"type":"line"}` {
		t.Fatalf("unexpected chart config: %s", chart)
	}
}

func TestAnswerJSONKeepsRowShape(t *testing.T) {
	a := Answer{
		ID:         "a1",
		QuestionID: "q1",
		Status:     StatusFinal,
		Payload:    MediaPayload{URLs: []string{"https://x.test/a.png"}},
	}
	raw, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if row["content_type"] != "media" || row["content"] != nil || row["chart_config"] != nil || row["interactive_data"] != nil {
		t.Fatalf("unexpected row shape: %s", raw)
	}

	var back Answer
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal answer: %v", err)
	}
	media, ok := back.Payload.(MediaPayload)
	if !ok || len(media.URLs) != 1 {
		t.Fatalf("expected media payload back, got %#v", back.Payload)
	}
}

func TestTransition(t *testing.T) {
	current := &Answer{Status: StatusFinal, Payload: TextPayload{Doc: json.RawMessage(`{}`)}}
	next, err := Transition("q", current, StatusDraft)
	if err != nil || next != StatusDraft {
		t.Fatalf("expected final->draft to be allowed, got %v %v", next, err)
	}
	if _, err := Transition("q", nil, StatusFinal); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for absent answer, got %v", err)
	}
	if _, err := Transition("q", current, "archived"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHistoryEntryJSON(t *testing.T) {
	raw, err := json.Marshal(HistoryEntry{
		ID:          "h1",
		QuestionID:  "q1",
		Status:      StatusDraft,
		ContentType: ContentText,
		Payload:     TextPayload{Doc: json.RawMessage(`{"type":"doc"}`)},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"content":{"type":"doc"}`) {
		t.Fatalf("expected content column, got %s", raw)
	}
}
