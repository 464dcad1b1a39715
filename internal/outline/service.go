package outline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"aepblueprint/internal/platform/logger"

	"github.com/google/uuid"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 50
)

// Publisher fans invalidations out to other instances.
type Publisher interface {
	Publish(ctx context.Context, inv Invalidation) error
}

type ServiceConfig struct {
	Cache     *Cache
	Publisher Publisher
	Logger    *logger.Logger
	// Origin identifies this instance on the bus; generated when empty.
	Origin string
	Now    func() time.Time
}

// Service is the sync façade: every read and write of the outline goes
// through it so the cache and the bus stay consistent.
type Service struct {
	repo   Repository
	cache  *Cache
	pub    Publisher
	log    *logger.Logger
	origin string
	now    func() time.Time
}

func NewService(repo Repository, cfg ServiceConfig) *Service {
	s := &Service{
		repo:   repo,
		cache:  cfg.Cache,
		pub:    cfg.Publisher,
		log:    cfg.Logger,
		origin: cfg.Origin,
		now:    cfg.Now,
	}
	if s.cache == nil {
		s.cache = NewCache(DefaultCacheTTL)
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.origin == "" {
		s.origin = uuid.NewString()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) Cache() *Cache  { return s.cache }
func (s *Service) Origin() string { return s.origin }

// ApplyRemote applies an invalidation received from the bus. Our own
// invalidations were applied when the write returned and are skipped.
func (s *Service) ApplyRemote(inv Invalidation) {
	if inv.Origin == s.origin {
		return
	}
	s.cache.Invalidate(inv)
}

// --- reads

func (s *Service) ListSections(ctx context.Context) ([]Section, error) {
	sections, err := readThrough(s.cache, keySections, func() ([]Section, error) {
		items, err := s.repo.ListSections(ctx)
		if err != nil {
			return nil, err
		}
		SortSections(items)
		return items, nil
	})
	if err != nil {
		return nil, classify("list sections", err)
	}
	return cloneSections(sections), nil
}

func (s *Service) GetSection(ctx context.Context, id string) (*Section, error) {
	id, err := requireID("section_id", id)
	if err != nil {
		return nil, err
	}
	sec, err := readThrough(s.cache, sectionKey(id), func() (*Section, error) {
		out, err := s.repo.GetSection(ctx, id)
		if err != nil {
			return nil, err
		}
		SortQuestions(out.Questions)
		return out, nil
	})
	if err != nil {
		return nil, classify("get section", err)
	}
	out := cloneSection(*sec)
	return &out, nil
}

func (s *Service) ListQuestions(ctx context.Context, sectionID string) ([]Question, error) {
	sec, err := s.GetSection(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	return sec.Questions, nil
}

// GetAnswer returns nil without error when the question has no answer.
func (s *Service) GetAnswer(ctx context.Context, questionID string) (*Answer, error) {
	questionID, err := requireID("question_id", questionID)
	if err != nil {
		return nil, err
	}
	a, err := readThrough(s.cache, answerKey(questionID), func() (*Answer, error) {
		return s.repo.GetAnswer(ctx, questionID)
	})
	if err != nil {
		return nil, classify("get answer", err)
	}
	return cloneAnswer(a), nil
}

func (s *Service) ListAnswerHistory(ctx context.Context, questionID string, limit int) ([]HistoryEntry, error) {
	questionID, err := requireID("question_id", questionID)
	if err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	items, err := readThrough(s.cache, historyKey(questionID, limit), func() ([]HistoryEntry, error) {
		return s.repo.ListAnswerHistory(ctx, questionID, limit)
	})
	if err != nil {
		return nil, classify("list answer history", err)
	}
	return append([]HistoryEntry(nil), items...), nil
}

// SectionProgress scores one section. A missing section is reported as
// ErrNotFound; any other read failure degrades to a zeroed result.
func (s *Service) SectionProgress(ctx context.Context, sectionID string) (Progress, error) {
	sectionID, err := requireID("section_id", sectionID)
	if err != nil {
		return Progress{}, err
	}
	p, err := readThrough(s.cache, sectionProgressKey(sectionID), func() (Progress, error) {
		sec, err := s.repo.GetSection(ctx, sectionID)
		if err != nil {
			return Progress{}, err
		}
		return SectionProgress(*sec), nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Progress{}, err
		}
		s.log.Warn("section progress degraded", "section_id", sectionID, "error", degradedRead(err))
		return zeroProgress(sectionID), nil
	}
	return p, nil
}

// DocumentProgress scores the whole outline; read failures degrade to zero.
func (s *Service) DocumentProgress(ctx context.Context) Progress {
	p, err := readThrough(s.cache, keyDocumentProgress, func() (Progress, error) {
		sections, err := s.repo.ListSections(ctx)
		if err != nil {
			return Progress{}, err
		}
		return DocumentProgress(sections), nil
	})
	if err != nil {
		s.log.Warn("document progress degraded", "error", degradedRead(err))
		return zeroProgress("")
	}
	return p
}

// Snapshot is the complete ordered tree for exporters.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	sections, err := s.ListSections(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Sections:    sections,
		Progress:    DocumentProgress(sections),
		GeneratedAt: s.now().UTC(),
	}, nil
}

// --- section writes

func (s *Service) CreateSection(ctx context.Context, in CreateSectionInput) (*Section, error) {
	in, err := normalizeCreateSection(in)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.SectionOrder(ctx)
	if err != nil {
		return nil, classify("create section", err)
	}
	sec, err := s.repo.CreateSection(ctx, NewSection{
		Title:       in.Title,
		Description: optionalText(in.Description),
		OrderIdx:    NextAppendIndex(items),
	})
	if err != nil {
		return nil, classify("create section", err)
	}
	s.invalidate(ctx, Invalidation{
		Kind:      KindSectionCreated,
		Keys:      []string{keySections, keyDocumentProgress},
		SectionID: sec.ID,
	})
	return sec, nil
}

func (s *Service) UpdateSection(ctx context.Context, id string, patch SectionPatch) (*Section, error) {
	id, err := requireID("section_id", id)
	if err != nil {
		return nil, err
	}
	patch, err = normalizeSectionPatch(patch)
	if err != nil {
		return nil, err
	}
	sec, err := s.repo.UpdateSection(ctx, id, patch)
	if err != nil {
		return nil, classify("update section", err)
	}
	s.invalidate(ctx, Invalidation{
		Kind:      KindSectionUpdated,
		Keys:      []string{keySections, sectionKey(id)},
		SectionID: id,
	})
	return sec, nil
}

func (s *Service) DeleteSection(ctx context.Context, id string) error {
	id, err := requireID("section_id", id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSection(ctx, id); err != nil {
		return classify("delete section", err)
	}
	s.invalidate(ctx, Invalidation{
		Kind:      KindSectionDeleted,
		Keys:      []string{keySections, keyDocumentProgress},
		Prefixes:  []string{prefixSection, prefixProgress, prefixAnswer, prefixHistory},
		SectionID: id,
	})
	return nil
}

// ReorderSections moves the section at display position from to position to.
// The returned plan is empty when the move is a no-op.
func (s *Service) ReorderSections(ctx context.Context, from, to int) ([]OrderUpdate, error) {
	items, err := s.repo.SectionOrder(ctx)
	if err != nil {
		return nil, classify("reorder sections", err)
	}
	SortItems(items)
	plan := Reorder(items, from, to)
	if len(plan) == 0 {
		return plan, nil
	}
	if err := s.applySectionOrder(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// ApplySectionOrder writes a client computed plan as one batch.
func (s *Service) ApplySectionOrder(ctx context.Context, plan []OrderUpdate) error {
	if err := ValidatePlan(plan); err != nil {
		return err
	}
	return s.applySectionOrder(ctx, plan)
}

// RepairSectionOrder restores a contiguous 1..n ranking and returns the writes made.
func (s *Service) RepairSectionOrder(ctx context.Context) ([]OrderUpdate, error) {
	items, err := s.repo.SectionOrder(ctx)
	if err != nil {
		return nil, classify("repair section order", err)
	}
	plan := Normalize(items)
	if len(plan) == 0 {
		return plan, nil
	}
	if err := s.applySectionOrder(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *Service) applySectionOrder(ctx context.Context, plan []OrderUpdate) error {
	if err := s.repo.ApplySectionOrder(ctx, plan); err != nil {
		return classify("apply section order", err)
	}
	s.invalidate(ctx, Invalidation{
		Kind:     KindSectionsReordered,
		Keys:     []string{keySections},
		Prefixes: []string{prefixSection},
	})
	return nil
}

// --- question writes

func (s *Service) CreateQuestion(ctx context.Context, in CreateQuestionInput) (*Question, error) {
	in, err := normalizeCreateQuestion(in)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.QuestionOrder(ctx, in.SectionID)
	if err != nil {
		return nil, classify("create question", err)
	}
	q, err := s.repo.CreateQuestion(ctx, NewQuestion{
		SectionID: in.SectionID,
		Prompt:    in.Prompt,
		OrderIdx:  NextAppendIndex(items),
	})
	if err != nil {
		return nil, classify("create question", err)
	}
	s.invalidate(ctx, Invalidation{
		Kind:       KindQuestionCreated,
		Keys:       sectionTreeKeys(q.SectionID),
		SectionID:  q.SectionID,
		QuestionID: q.ID,
	})
	return q, nil
}

func (s *Service) UpdateQuestion(ctx context.Context, id string, patch QuestionPatch) (*Question, error) {
	id, err := requireID("question_id", id)
	if err != nil {
		return nil, err
	}
	patch, err = normalizeQuestionPatch(patch)
	if err != nil {
		return nil, err
	}
	q, err := s.repo.UpdateQuestion(ctx, id, patch)
	if err != nil {
		return nil, classify("update question", err)
	}
	s.invalidate(ctx, Invalidation{
		Kind:       KindQuestionUpdated,
		Keys:       []string{keySections, sectionKey(q.SectionID)},
		SectionID:  q.SectionID,
		QuestionID: id,
	})
	return q, nil
}

func (s *Service) DeleteQuestion(ctx context.Context, id string) error {
	id, err := requireID("question_id", id)
	if err != nil {
		return err
	}
	sectionID, err := s.repo.DeleteQuestion(ctx, id)
	if err != nil {
		return classify("delete question", err)
	}
	s.invalidate(ctx, Invalidation{
		Kind:       KindQuestionDeleted,
		Keys:       append(sectionTreeKeys(sectionID), answerKey(id)),
		Prefixes:   []string{historyPrefix(id)},
		SectionID:  sectionID,
		QuestionID: id,
	})
	return nil
}

func (s *Service) ReorderQuestions(ctx context.Context, sectionID string, from, to int) ([]OrderUpdate, error) {
	sectionID, err := requireID("section_id", sectionID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.QuestionOrder(ctx, sectionID)
	if err != nil {
		return nil, classify("reorder questions", err)
	}
	SortItems(items)
	plan := Reorder(items, from, to)
	if len(plan) == 0 {
		return plan, nil
	}
	if err := s.applyQuestionOrder(ctx, sectionID, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *Service) ApplyQuestionOrder(ctx context.Context, sectionID string, plan []OrderUpdate) error {
	sectionID, err := requireID("section_id", sectionID)
	if err != nil {
		return err
	}
	if err := ValidatePlan(plan); err != nil {
		return err
	}
	return s.applyQuestionOrder(ctx, sectionID, plan)
}

func (s *Service) RepairQuestionOrder(ctx context.Context, sectionID string) ([]OrderUpdate, error) {
	sectionID, err := requireID("section_id", sectionID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.QuestionOrder(ctx, sectionID)
	if err != nil {
		return nil, classify("repair question order", err)
	}
	plan := Normalize(items)
	if len(plan) == 0 {
		return plan, nil
	}
	if err := s.applyQuestionOrder(ctx, sectionID, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *Service) applyQuestionOrder(ctx context.Context, sectionID string, plan []OrderUpdate) error {
	if err := s.repo.ApplyQuestionOrder(ctx, sectionID, plan); err != nil {
		return classify("apply question order", err)
	}
	s.invalidate(ctx, Invalidation{
		Kind:      KindQuestionsReordered,
		Keys:      []string{keySections, sectionKey(sectionID)},
		SectionID: sectionID,
	})
	return nil
}

// --- answer writes

func (s *Service) UpsertAnswer(ctx context.Context, in AnswerInput) (*Answer, error) {
	w, err := NormalizeAnswer(in)
	if err != nil {
		return nil, err
	}
	a, err := s.repo.UpsertAnswer(ctx, w)
	if err != nil {
		return nil, classify("upsert answer", err)
	}
	s.invalidate(ctx, answerInvalidation(KindAnswerSaved, w.QuestionID))
	return a, nil
}

// SetAnswerStatus flips draft/final without touching the payload.
func (s *Service) SetAnswerStatus(ctx context.Context, questionID string, status Status, changedBy string) (*Answer, error) {
	questionID, err := requireID("question_id", questionID)
	if err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, invalid("status", `must be either "draft" or "final"`)
	}
	current, err := s.repo.GetAnswer(ctx, questionID)
	if err != nil {
		return nil, classify("set answer status", err)
	}
	next, err := Transition(questionID, current, status)
	if err != nil {
		return nil, err
	}
	a, err := s.repo.SetAnswerStatus(ctx, questionID, next, changedBy)
	if err != nil {
		return nil, classify("set answer status", err)
	}
	s.invalidate(ctx, answerInvalidation(KindAnswerStatus, questionID))
	return a, nil
}

// DeleteAnswer removes the answer. Deleting an absent answer is not an error;
// an unknown question is.
func (s *Service) DeleteAnswer(ctx context.Context, questionID string) error {
	questionID, err := requireID("question_id", questionID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteAnswer(ctx, questionID); err != nil {
		return classify("delete answer", err)
	}
	s.invalidate(ctx, answerInvalidation(KindAnswerDeleted, questionID))
	return nil
}

// --- templates

// ImportOutline appends the template's sections after the existing ones.
func (s *Service) ImportOutline(ctx context.Context, t Template) ([]Section, error) {
	t, err := t.Normalize()
	if err != nil {
		return nil, err
	}
	items, err := s.repo.SectionOrder(ctx)
	if err != nil {
		return nil, classify("import outline", err)
	}
	next := NextAppendIndex(items)
	rows := make([]NewSection, 0, len(t.Sections))
	for i, ts := range t.Sections {
		ns := NewSection{
			Title:       ts.Title,
			Description: optionalText(ts.Description),
			OrderIdx:    next + i,
		}
		for _, prompt := range ts.Questions {
			ns.Questions = append(ns.Questions, NewQuestion{Prompt: prompt, OrderIdx: len(ns.Questions) + 1})
		}
		rows = append(rows, ns)
	}
	created, err := s.repo.ImportSections(ctx, rows)
	if err != nil {
		return nil, classify("import outline", err)
	}
	s.invalidate(ctx, Invalidation{
		Kind: KindOutlineImported,
		Keys: []string{keySections, keyDocumentProgress},
	})
	return created, nil
}

func (s *Service) ExportTemplate(ctx context.Context) (Template, error) {
	sections, err := s.ListSections(ctx)
	if err != nil {
		return Template{}, err
	}
	return TemplateFromSections(sections), nil
}

// invalidate drops local cache entries before the write returns, then
// publishes to other instances. Publish failures are logged only.
func (s *Service) invalidate(ctx context.Context, inv Invalidation) {
	inv.Origin = s.origin
	inv.At = s.now().UTC()
	s.cache.Invalidate(inv)
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, inv); err != nil {
		s.log.Warn("publish invalidation failed", "kind", inv.Kind, "error", err)
	}
}

func sectionTreeKeys(sectionID string) []string {
	return []string{keySections, keyDocumentProgress, sectionKey(sectionID), sectionProgressKey(sectionID)}
}

func answerInvalidation(kind, questionID string) Invalidation {
	return Invalidation{
		Kind:       kind,
		Keys:       []string{keySections, keyDocumentProgress, answerKey(questionID)},
		Prefixes:   []string{prefixSection, prefixProgress, historyPrefix(questionID)},
		QuestionID: questionID,
	}
}

func optionalText(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func cloneSections(in []Section) []Section {
	if in == nil {
		return nil
	}
	out := make([]Section, len(in))
	for i := range in {
		out[i] = cloneSection(in[i])
	}
	return out
}

func cloneSection(s Section) Section {
	if s.Description != nil {
		d := *s.Description
		s.Description = &d
	}
	if s.Questions != nil {
		qs := make([]Question, len(s.Questions))
		for i, q := range s.Questions {
			q.Answer = cloneAnswer(q.Answer)
			qs[i] = q
		}
		s.Questions = qs
	}
	return s
}

func cloneAnswer(a *Answer) *Answer {
	if a == nil {
		return nil
	}
	out := *a
	out.Payload = clonePayload(a.Payload)
	return &out
}

func clonePayload(p Payload) Payload {
	switch v := p.(type) {
	case TextPayload:
		return TextPayload{Doc: cloneRaw(v.Doc)}
	case ChartPayload:
		return ChartPayload{Config: cloneRaw(v.Config)}
	case MediaPayload:
		return MediaPayload{URLs: append([]string(nil), v.URLs...)}
	case InteractivePayload:
		return InteractivePayload{Data: cloneRaw(v.Data)}
	}
	return p
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}
