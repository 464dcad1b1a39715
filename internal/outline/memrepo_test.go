package outline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memRepo is an in-memory Repository used by the façade tests.
type memRepo struct {
	mu        sync.Mutex
	seq       int
	clock     time.Time
	sections  map[string]Section
	questions map[string]Question
	answers   map[string]Answer
	history   []HistoryEntry

	failReads  error
	failWrites error
	calls      map[string]int
	lastLimit  int
}

func newMemRepo() *memRepo {
	return &memRepo{
		clock:     time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		sections:  map[string]Section{},
		questions: map[string]Question{},
		answers:   map[string]Answer{},
		calls:     map[string]int{},
	}
}

func (m *memRepo) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s%d", prefix, m.seq)
}

func (m *memRepo) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memRepo) record(op string) {
	m.calls[op]++
}

func (m *memRepo) tree(s Section) Section {
	s.Questions = []Question{}
	for _, q := range m.questions {
		if q.SectionID != s.ID {
			continue
		}
		if a, ok := m.answers[q.ID]; ok {
			a := a
			q.Answer = &a
		}
		s.Questions = append(s.Questions, q)
	}
	SortQuestions(s.Questions)
	return s
}

func (m *memRepo) ListSections(ctx context.Context) ([]Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ListSections")
	if m.failReads != nil {
		return nil, m.failReads
	}
	out := make([]Section, 0, len(m.sections))
	for _, s := range m.sections {
		out = append(out, m.tree(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) GetSection(ctx context.Context, id string) (*Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetSection")
	if m.failReads != nil {
		return nil, m.failReads
	}
	s, ok := m.sections[id]
	if !ok {
		return nil, notFound("section", id)
	}
	out := m.tree(s)
	return &out, nil
}

func (m *memRepo) SectionOrder(ctx context.Context) ([]OrderedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return nil, m.failReads
	}
	out := make([]OrderedItem, 0, len(m.sections))
	for _, s := range m.sections {
		out = append(out, sectionItem(s))
	}
	return out, nil
}

func (m *memRepo) CreateSection(ctx context.Context, in NewSection) (*Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateSection")
	if m.failWrites != nil {
		return nil, m.failWrites
	}
	now := m.tick()
	s := Section{ID: m.nextID("s"), Title: in.Title, Description: in.Description, OrderIdx: in.OrderIdx, CreatedAt: now, UpdatedAt: now}
	m.sections[s.ID] = s
	out := m.tree(s)
	return &out, nil
}

func (m *memRepo) UpdateSection(ctx context.Context, id string, patch SectionPatch) (*Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UpdateSection")
	if m.failWrites != nil {
		return nil, m.failWrites
	}
	s, ok := m.sections[id]
	if !ok {
		return nil, notFound("section", id)
	}
	if patch.Title != nil {
		s.Title = *patch.Title
	}
	if patch.Description != nil {
		s.Description = optionalText(*patch.Description)
	}
	s.UpdatedAt = m.tick()
	m.sections[id] = s
	out := m.tree(s)
	return &out, nil
}

func (m *memRepo) DeleteSection(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DeleteSection")
	if m.failWrites != nil {
		return m.failWrites
	}
	if _, ok := m.sections[id]; !ok {
		return notFound("section", id)
	}
	delete(m.sections, id)
	for qid, q := range m.questions {
		if q.SectionID == id {
			delete(m.questions, qid)
			delete(m.answers, qid)
		}
	}
	items := make([]OrderedItem, 0, len(m.sections))
	for _, s := range m.sections {
		items = append(items, sectionItem(s))
	}
	for _, u := range Normalize(items) {
		s := m.sections[u.ID]
		s.OrderIdx = u.OrderIdx
		m.sections[u.ID] = s
	}
	return nil
}

func (m *memRepo) ApplySectionOrder(ctx context.Context, plan []OrderUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ApplySectionOrder")
	if m.failWrites != nil {
		return m.failWrites
	}
	for _, u := range plan {
		if _, ok := m.sections[u.ID]; !ok {
			return notFound("section", u.ID)
		}
	}
	for _, u := range plan {
		s := m.sections[u.ID]
		s.OrderIdx = u.OrderIdx
		m.sections[u.ID] = s
	}
	return nil
}

func (m *memRepo) ListQuestions(ctx context.Context, sectionID string) ([]Question, error) {
	s, err := m.GetSection(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	return s.Questions, nil
}

func (m *memRepo) QuestionOrder(ctx context.Context, sectionID string) ([]OrderedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return nil, m.failReads
	}
	if _, ok := m.sections[sectionID]; !ok {
		return nil, notFound("section", sectionID)
	}
	out := make([]OrderedItem, 0)
	for _, q := range m.questions {
		if q.SectionID == sectionID {
			out = append(out, questionItem(q))
		}
	}
	return out, nil
}

func (m *memRepo) CreateQuestion(ctx context.Context, in NewQuestion) (*Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateQuestion")
	if m.failWrites != nil {
		return nil, m.failWrites
	}
	if _, ok := m.sections[in.SectionID]; !ok {
		return nil, notFound("section", in.SectionID)
	}
	now := m.tick()
	q := Question{ID: m.nextID("q"), SectionID: in.SectionID, Prompt: in.Prompt, OrderIdx: in.OrderIdx, CreatedAt: now, UpdatedAt: now}
	m.questions[q.ID] = q
	return &q, nil
}

func (m *memRepo) UpdateQuestion(ctx context.Context, id string, patch QuestionPatch) (*Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UpdateQuestion")
	if m.failWrites != nil {
		return nil, m.failWrites
	}
	q, ok := m.questions[id]
	if !ok {
		return nil, notFound("question", id)
	}
	q.Prompt = *patch.Prompt
	q.UpdatedAt = m.tick()
	m.questions[id] = q
	return &q, nil
}

func (m *memRepo) DeleteQuestion(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DeleteQuestion")
	if m.failWrites != nil {
		return "", m.failWrites
	}
	q, ok := m.questions[id]
	if !ok {
		return "", notFound("question", id)
	}
	delete(m.questions, id)
	delete(m.answers, id)
	items := make([]OrderedItem, 0)
	for _, other := range m.questions {
		if other.SectionID == q.SectionID {
			items = append(items, questionItem(other))
		}
	}
	for _, u := range Normalize(items) {
		other := m.questions[u.ID]
		other.OrderIdx = u.OrderIdx
		m.questions[u.ID] = other
	}
	return q.SectionID, nil
}

func (m *memRepo) ApplyQuestionOrder(ctx context.Context, sectionID string, plan []OrderUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ApplyQuestionOrder")
	if m.failWrites != nil {
		return m.failWrites
	}
	for _, u := range plan {
		q, ok := m.questions[u.ID]
		if !ok || q.SectionID != sectionID {
			return notFound("question", u.ID)
		}
	}
	for _, u := range plan {
		q := m.questions[u.ID]
		q.OrderIdx = u.OrderIdx
		m.questions[u.ID] = q
	}
	return nil
}

func (m *memRepo) GetAnswer(ctx context.Context, questionID string) (*Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetAnswer")
	if m.failReads != nil {
		return nil, m.failReads
	}
	if _, ok := m.questions[questionID]; !ok {
		return nil, notFound("question", questionID)
	}
	a, ok := m.answers[questionID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memRepo) UpsertAnswer(ctx context.Context, in AnswerWrite) (*Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UpsertAnswer")
	if m.failWrites != nil {
		return nil, m.failWrites
	}
	if _, ok := m.questions[in.QuestionID]; !ok {
		return nil, notFound("question", in.QuestionID)
	}
	now := m.tick()
	a, ok := m.answers[in.QuestionID]
	if !ok {
		a = Answer{ID: m.nextID("a"), QuestionID: in.QuestionID, CreatedAt: now}
	}
	a.Status = in.Status
	a.Payload = in.Payload
	a.UpdatedBy = in.UpdatedBy
	a.UpdatedAt = now
	m.answers[in.QuestionID] = a
	m.appendHistory(a, in.UpdatedBy)
	return &a, nil
}

func (m *memRepo) SetAnswerStatus(ctx context.Context, questionID string, status Status, changedBy string) (*Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SetAnswerStatus")
	if m.failWrites != nil {
		return nil, m.failWrites
	}
	a, ok := m.answers[questionID]
	if !ok {
		return nil, notFound("answer for question", questionID)
	}
	a.Status = status
	a.UpdatedBy = changedBy
	a.UpdatedAt = m.tick()
	m.answers[questionID] = a
	m.appendHistory(a, changedBy)
	return &a, nil
}

func (m *memRepo) appendHistory(a Answer, by string) {
	m.history = append(m.history, HistoryEntry{
		ID:          m.nextID("h"),
		QuestionID:  a.QuestionID,
		Status:      a.Status,
		ContentType: a.ContentType(),
		Payload:     a.Payload,
		ChangedBy:   by,
		ChangedAt:   a.UpdatedAt,
	})
}

func (m *memRepo) DeleteAnswer(ctx context.Context, questionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DeleteAnswer")
	if m.failWrites != nil {
		return m.failWrites
	}
	if _, ok := m.questions[questionID]; !ok {
		return notFound("question", questionID)
	}
	delete(m.answers, questionID)
	return nil
}

func (m *memRepo) ListAnswerHistory(ctx context.Context, questionID string, limit int) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	if m.failReads != nil {
		return nil, m.failReads
	}
	out := make([]HistoryEntry, 0)
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		if m.history[i].QuestionID == questionID {
			out = append(out, m.history[i])
		}
	}
	return out, nil
}

func (m *memRepo) ImportSections(ctx context.Context, sections []NewSection) ([]Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ImportSections")
	if m.failWrites != nil {
		return nil, m.failWrites
	}
	out := make([]Section, 0, len(sections))
	for _, ns := range sections {
		now := m.tick()
		s := Section{ID: m.nextID("s"), Title: ns.Title, Description: ns.Description, OrderIdx: ns.OrderIdx, CreatedAt: now, UpdatedAt: now}
		m.sections[s.ID] = s
		for _, nq := range ns.Questions {
			q := Question{ID: m.nextID("q"), SectionID: s.ID, Prompt: nq.Prompt, OrderIdx: nq.OrderIdx, CreatedAt: now, UpdatedAt: now}
			m.questions[q.ID] = q
		}
		out = append(out, m.tree(s))
	}
	return out, nil
}
