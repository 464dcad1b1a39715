package outline

import (
	"context"
	"sync"
)

// CommitFunc persists an order plan, typically Service.ApplySectionOrder or a
// remote call doing the same.
type CommitFunc func(ctx context.Context, plan []OrderUpdate) error

// LocalOutline is a client side mirror of the section list. Reorders are
// applied to the mirror immediately, then committed; a failed commit restores
// the pre-mutation snapshot and a successful one reconciles with Refresh.
type LocalOutline struct {
	opMu     sync.Mutex
	mu       sync.RWMutex
	sections []Section
	fetch    func(ctx context.Context) ([]Section, error)
}

func NewLocalOutline(fetch func(ctx context.Context) ([]Section, error)) *LocalOutline {
	return &LocalOutline{fetch: fetch}
}

// Refresh replaces the mirror with server truth.
func (l *LocalOutline) Refresh(ctx context.Context) error {
	sections, err := l.fetch(ctx)
	if err != nil {
		return err
	}
	sections = cloneSections(sections)
	SortSections(sections)
	l.mu.Lock()
	l.sections = sections
	l.mu.Unlock()
	return nil
}

// Sections returns a copy of the current (possibly optimistic) view.
func (l *LocalOutline) Sections() []Section {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSections(l.sections)
}

func (l *LocalOutline) ReorderSections(ctx context.Context, from, to int, commit CommitFunc) ([]OrderUpdate, error) {
	return l.mutate(ctx, commit, func(sections []Section) ([]Section, []OrderUpdate, error) {
		plan := Reorder(SectionItems(sections), from, to)
		if len(plan) == 0 {
			return sections, plan, nil
		}
		pos := planPositions(plan)
		for i := range sections {
			sections[i].OrderIdx = pos[sections[i].ID]
		}
		SortSections(sections)
		return sections, plan, nil
	})
}

func (l *LocalOutline) ReorderQuestions(ctx context.Context, sectionID string, from, to int, commit CommitFunc) ([]OrderUpdate, error) {
	return l.mutate(ctx, commit, func(sections []Section) ([]Section, []OrderUpdate, error) {
		idx := -1
		for i := range sections {
			if sections[i].ID == sectionID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, nil, notFound("section", sectionID)
		}
		questions := sections[idx].Questions
		plan := Reorder(QuestionItems(questions), from, to)
		if len(plan) == 0 {
			return sections, plan, nil
		}
		pos := planPositions(plan)
		for i := range questions {
			questions[i].OrderIdx = pos[questions[i].ID]
		}
		SortQuestions(questions)
		return sections, plan, nil
	})
}

func (l *LocalOutline) mutate(ctx context.Context, commit CommitFunc, apply func([]Section) ([]Section, []OrderUpdate, error)) ([]OrderUpdate, error) {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	snapshot := cloneSections(l.sections)
	next, plan, err := apply(cloneSections(l.sections))
	if err != nil || len(plan) == 0 {
		l.mu.Unlock()
		return plan, err
	}
	l.sections = next
	l.mu.Unlock()

	if err := commit(ctx, plan); err != nil {
		l.mu.Lock()
		l.sections = snapshot
		l.mu.Unlock()
		return nil, err
	}
	// A failed reconcile keeps the committed optimistic view until the next Refresh.
	_ = l.Refresh(ctx)
	return plan, nil
}

func planPositions(plan []OrderUpdate) map[string]int {
	pos := make(map[string]int, len(plan))
	for _, u := range plan {
		pos[u.ID] = u.OrderIdx
	}
	return pos
}
