package outline

import "time"

type Section struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	OrderIdx    int        `json:"order_idx"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Questions   []Question `json:"questions"`
}

type Question struct {
	ID        string    `json:"id"`
	SectionID string    `json:"section_id"`
	Prompt    string    `json:"prompt"`
	OrderIdx  int       `json:"order_idx"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Answer    *Answer   `json:"answer"`
}

// OrderUpdate is a single order_idx write produced by the ordering engine.
type OrderUpdate struct {
	ID       string `json:"id"`
	OrderIdx int    `json:"order_idx"`
}

type CreateSectionInput struct {
	Title       string
	Description string
}

// SectionPatch carries the fields of a section edit. Nil means unchanged.
type SectionPatch struct {
	Title       *string
	Description *string
}

type CreateQuestionInput struct {
	SectionID string
	Prompt    string
}

type QuestionPatch struct {
	Prompt *string
}

// HistoryEntry is one row of the append-only answer log.
type HistoryEntry struct {
	ID          string
	QuestionID  string
	Status      Status
	ContentType ContentType
	Payload     Payload
	ChangedBy   string
	ChangedAt   time.Time
}

// Snapshot is the complete, ordered outline handed to exporters.
type Snapshot struct {
	Sections    []Section `json:"sections"`
	Progress    Progress  `json:"progress"`
	GeneratedAt time.Time `json:"generated_at"`
}
