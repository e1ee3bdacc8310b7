// apps/go-server/internal/vocab/types.go
//
// Core type definitions for the vocabulary repository.
// Defines:
//   - Word: one vocabulary entry with its learn/error flags.
//   - Level: one unit of study content with aggregate counters.
//   - Mode: the word filter used for paging and counting.
//   - Sort: the ordering applied before paging.
//   - SheetResult: per-sheet outcome of a workbook import.

package vocab

// Word is one vocabulary entry. The pair (LevelID, En) is unique
// within the store, enforced by the level_en index.
type Word struct {
	ID      int64  `json:"id"`       // Auto-assigned insertion id.
	En      string `json:"en"`       // Source-language text (required).
	Cn      string `json:"cn"`       // Target-language text (required).
	LevelID int64  `json:"levelId"`  // Owning level.
	Root    string `json:"root"`     // Optional grouping, "" when absent.
	IsLearn bool   `json:"is_learn"` // Matched at least once.
	IsError bool   `json:"is_error"` // Mismatched and pending review.
}

// SetRecordID lets the record store inject the auto-assigned id on reads.
func (w *Word) SetRecordID(id int64) { w.ID = id }

// Level is one unit of study content, created one-per-sheet at import.
type Level struct {
	LevelID int64  `json:"levelId"` // Explicit primary key, max(existing)+1 at import.
	Title   string `json:"title"`   // Display name, taken from the sheet name.
	Total   int    `json:"total"`   // Raw sheet row count at import time.
	Learned int    `json:"learned"` // Words that have transitioned to learned.
}

// Mode selects which words of a level an operation sees.
type Mode string

const (
	ModeAll       Mode = "all"
	ModeLearned   Mode = "learned"
	ModeUnlearned Mode = "unlearned"
	ModeError     Mode = "error"
)

// Sort selects the ordering applied before paging.
// Possible values:
//   - "raw":      insertion order (no-op).
//   - "alphabet": lexicographic on En.
//   - "random":   one-shot unseeded shuffle, not stable across calls.
//   - "root":     grouped by Root, tie-broken by En.
type Sort string

const (
	SortRaw      Sort = "raw"
	SortAlphabet Sort = "alphabet"
	SortRandom   Sort = "random"
	SortRoot     Sort = "root"
)

// SheetResult reports one imported sheet: its name and how many rows
// passed validation and were stored. Count can be lower than the
// resulting Level.Total, which counts raw rows.
type SheetResult struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}
