package model

// Context pack field names.
const (
	FieldIdentity         = "identity_core"
	FieldRuntimeState     = "runtime_state"
	FieldMemory           = "memory_compact"
	FieldSynopsis         = "previous_synopsis"
	FieldThreads          = "open_threads"
	FieldPreviousChapters = "previous_chapters"
	FieldStats            = "budget_stats"
)

// ContextPack is the bounded input assembled for one generation call. It is never persisted.
type ContextPack struct {
	Chapter          int              `json:"chapter"`
	IdentityCore     string           `json:"identity_core"`
	RuntimeState     string           `json:"runtime_state"`
	MemoryCompact    string           `json:"memory_compact"`
	PreviousSynopsis string           `json:"previous_chapter_synopsis"`
	OpenThreads      []OpenThread     `json:"open_threads"`
	PreviousChapters []ChapterCompact `json:"previous_chapters_compact"`
	BudgetStats      BudgetStats      `json:"budget_stats"`
}

// ChapterCompact is the compact form of a prior chapter.
type ChapterCompact struct {
	Number    int    `json:"chapter_number"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	WordCount int    `json:"word_count"`
}

// FieldBudget is the allotted and consumed tokens of one field.
type FieldBudget struct {
	Budget int `json:"budget"`
	Used   int `json:"used"`
}

// BudgetStats reports per-field allocation for observability.
type BudgetStats struct {
	Fields      map[string]FieldBudget `json:"fields"`
	TotalBudget int                    `json:"total_budget"`
	TotalUsed   int                    `json:"total_used"`
}
