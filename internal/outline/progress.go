package outline

import "math"

const (
	weightFinal = 1.0
	weightDraft = 0.5
)

// Progress is a completion score. Score is derived from the discrete counts
// (final=1, draft=0.5, unanswered=0) so consumers never have to reconstruct
// them from the float.
type Progress struct {
	SectionID  string  `json:"section_id,omitempty"`
	Score      float64 `json:"score"`
	Total      int     `json:"total"`
	Final      int     `json:"final"`
	Draft      int     `json:"draft"`
	Unanswered int     `json:"unanswered"`
	Percent    int     `json:"percent"`
	Degraded   bool    `json:"degraded,omitempty"`
}

// Weight is the progress contribution of a question whose answer has the given status.
// A nil answer (absent) contributes nothing.
func Weight(a *Answer) float64 {
	if a == nil {
		return 0
	}
	switch a.Status {
	case StatusFinal:
		return weightFinal
	case StatusDraft:
		return weightDraft
	default:
		return 0
	}
}

// SectionProgress scores one section from its questions and their answers.
func SectionProgress(s Section) Progress {
	p := Progress{SectionID: s.ID}
	for _, q := range s.Questions {
		p.Total++
		switch {
		case q.Answer == nil:
			p.Unanswered++
		case q.Answer.Status == StatusFinal:
			p.Final++
		case q.Answer.Status == StatusDraft:
			p.Draft++
		default:
			p.Unanswered++
		}
	}
	return p.finish()
}

// DocumentProgress is the elementwise sum of SectionProgress over every section.
func DocumentProgress(sections []Section) Progress {
	var p Progress
	for _, s := range sections {
		sp := SectionProgress(s)
		p.Total += sp.Total
		p.Final += sp.Final
		p.Draft += sp.Draft
		p.Unanswered += sp.Unanswered
	}
	return p.finish()
}

func (p Progress) finish() Progress {
	p.Score = float64(p.Final)*weightFinal + float64(p.Draft)*weightDraft
	p.Percent = Percent(p.Score, p.Total)
	return p
}

// Percent rounds score/total to a whole percentage; an empty collection is 0%.
func Percent(score float64, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(score / float64(total) * 100))
}

// CountsFromScore recovers final/draft/unanswered counts from a bare score for
// consumers that only carry the single float. It assumes the score was produced
// with the fixed 1/0.5/0 weights and is read while the section is not being mutated.
// The result is lossy: each pair of drafts comes back as one final.
func CountsFromScore(score float64, total int) (final, draft, unanswered int) {
	if total <= 0 || score <= 0 {
		return 0, 0, max(total, 0)
	}
	final = int(math.Floor(score))
	draft = int(math.Round((score - float64(final)) * 2))
	unanswered = total - final - draft
	if unanswered < 0 {
		unanswered = 0
	}
	return final, draft, unanswered
}

func zeroProgress(sectionID string) Progress {
	return Progress{SectionID: sectionID, Degraded: true}
}
