package outline

import (
	"sort"
	"strings"
	"time"
)

// OrderedItem is one member of a sibling collection: sections of the document
// or questions of a section.
type OrderedItem struct {
	ID        string
	OrderIdx  int
	CreatedAt time.Time
}

// Reorder moves the item at from to position to (array-move semantics) and
// renumbers the whole collection 1..n. items must be in display order.
// from == to, or either index outside [0, len), yields an empty plan.
func Reorder(items []OrderedItem, from, to int) []OrderUpdate {
	n := len(items)
	if from == to || from < 0 || to < 0 || from >= n || to >= n {
		return []OrderUpdate{}
	}

	moved := make([]OrderedItem, 0, n)
	moved = append(moved, items[:from]...)
	moved = append(moved, items[from+1:]...)
	moved = append(moved[:to], append([]OrderedItem{items[from]}, moved[to:]...)...)

	plan := make([]OrderUpdate, 0, n)
	for i, it := range moved {
		plan = append(plan, OrderUpdate{ID: it.ID, OrderIdx: i + 1})
	}
	return plan
}

// NextAppendIndex returns max(order_idx)+1, or 1 for an empty collection.
func NextAppendIndex(items []OrderedItem) int {
	max := 0
	for _, it := range items {
		if it.OrderIdx > max {
			max = it.OrderIdx
		}
	}
	return max + 1
}

// Normalize sorts the collection with the tie-break rule and returns only the
// writes needed to bring it back to a contiguous 1..n ranking.
func Normalize(items []OrderedItem) []OrderUpdate {
	sorted := append([]OrderedItem(nil), items...)
	SortItems(sorted)

	plan := make([]OrderUpdate, 0)
	for i, it := range sorted {
		if it.OrderIdx != i+1 {
			plan = append(plan, OrderUpdate{ID: it.ID, OrderIdx: i + 1})
		}
	}
	return plan
}

// SortItems orders by order_idx, then creation time, then id. Duplicate
// positions from racing writers therefore still render deterministically.
func SortItems(items []OrderedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return itemLess(items[i], items[j])
	})
}

func itemLess(a, b OrderedItem) bool {
	if a.OrderIdx != b.OrderIdx {
		return a.OrderIdx < b.OrderIdx
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func SortSections(sections []Section) {
	sort.SliceStable(sections, func(i, j int) bool {
		return itemLess(sectionItem(sections[i]), sectionItem(sections[j]))
	})
	for i := range sections {
		SortQuestions(sections[i].Questions)
	}
}

func SortQuestions(questions []Question) {
	sort.SliceStable(questions, func(i, j int) bool {
		return itemLess(questionItem(questions[i]), questionItem(questions[j]))
	})
}

func SectionItems(sections []Section) []OrderedItem {
	out := make([]OrderedItem, 0, len(sections))
	for _, s := range sections {
		out = append(out, sectionItem(s))
	}
	return out
}

func QuestionItems(questions []Question) []OrderedItem {
	out := make([]OrderedItem, 0, len(questions))
	for _, q := range questions {
		out = append(out, questionItem(q))
	}
	return out
}

func sectionItem(s Section) OrderedItem {
	return OrderedItem{ID: s.ID, OrderIdx: s.OrderIdx, CreatedAt: s.CreatedAt}
}

func questionItem(q Question) OrderedItem {
	return OrderedItem{ID: q.ID, OrderIdx: q.OrderIdx, CreatedAt: q.CreatedAt}
}

// ValidatePlan checks a client supplied order plan before it is applied.
func ValidatePlan(plan []OrderUpdate) error {
	if len(plan) == 0 {
		return invalid("updates", "no items to update")
	}
	seenIDs := make(map[string]struct{}, len(plan))
	seenIdx := make(map[int]struct{}, len(plan))
	for i, u := range plan {
		id := strings.TrimSpace(u.ID)
		if id == "" {
			return invalid("updates", "item %d: id is required", i+1)
		}
		if u.OrderIdx < 1 {
			return invalid("updates", "item %d: order_idx must be >= 1", i+1)
		}
		if _, dup := seenIDs[id]; dup {
			return invalid("updates", "duplicate id %s", id)
		}
		if _, dup := seenIdx[u.OrderIdx]; dup {
			return invalid("updates", "duplicate order_idx %d", u.OrderIdx)
		}
		seenIDs[id] = struct{}{}
		seenIdx[u.OrderIdx] = struct{}{}
	}
	return nil
}
