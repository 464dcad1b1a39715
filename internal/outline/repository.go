package outline

import "context"

// NewSection is a section row ready to insert; OrderIdx comes from NextAppendIndex.
type NewSection struct {
	Title       string
	Description *string
	OrderIdx    int
	Questions   []NewQuestion
}

type NewQuestion struct {
	SectionID string
	Prompt    string
	OrderIdx  int
}

// Repository is the persistence collaborator behind the façade.
//
// Single-row lookups of a missing entity return an error wrapping ErrNotFound.
// GetAnswer returns (nil, nil) when the question exists but has no answer.
// Order plans are applied atomically: an unknown id fails the whole batch.
// Deletes cascade to dependent rows and renumber the remaining siblings in
// the same transaction.
type Repository interface {
	ListSections(ctx context.Context) ([]Section, error)
	GetSection(ctx context.Context, id string) (*Section, error)
	SectionOrder(ctx context.Context) ([]OrderedItem, error)
	CreateSection(ctx context.Context, in NewSection) (*Section, error)
	UpdateSection(ctx context.Context, id string, patch SectionPatch) (*Section, error)
	DeleteSection(ctx context.Context, id string) error
	ApplySectionOrder(ctx context.Context, plan []OrderUpdate) error

	ListQuestions(ctx context.Context, sectionID string) ([]Question, error)
	QuestionOrder(ctx context.Context, sectionID string) ([]OrderedItem, error)
	CreateQuestion(ctx context.Context, in NewQuestion) (*Question, error)
	UpdateQuestion(ctx context.Context, id string, patch QuestionPatch) (*Question, error)
	DeleteQuestion(ctx context.Context, id string) (sectionID string, err error)
	ApplyQuestionOrder(ctx context.Context, sectionID string, plan []OrderUpdate) error

	GetAnswer(ctx context.Context, questionID string) (*Answer, error)
	UpsertAnswer(ctx context.Context, in AnswerWrite) (*Answer, error)
	SetAnswerStatus(ctx context.Context, questionID string, status Status, changedBy string) (*Answer, error)
	DeleteAnswer(ctx context.Context, questionID string) error
	ListAnswerHistory(ctx context.Context, questionID string, limit int) ([]HistoryEntry, error)

	// ImportSections inserts every section with its questions in one transaction.
	ImportSections(ctx context.Context, sections []NewSection) ([]Section, error)
}
