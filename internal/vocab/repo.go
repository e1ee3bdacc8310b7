// apps/go-server/internal/vocab/repo.go
//
// Vocabulary repository: the sole writer of Word and Level records.
// Responsibilities:
//   - Owning the words/levels schema and its version.
//   - Database lifecycle: init with first-run seeding, existence probe,
//     destructive reset-and-reseed.
//   - Domain queries: levels, level words, filtered/sorted/paged words,
//     per-mode counts.
//   - Mutations: level upsert, learn/error flag writes with the level
//     learned-counter bookkeeping.
//
// Paging is fetch-filter-sort-slice in memory. Levels hold tens to low
// hundreds of words, so an index-backed pager would buy nothing here;
// revisit only if level sizes change by orders of magnitude.

package vocab

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"

	"github.com/wordlink/wordlink/apps/go-server/internal/record"
)

// ErrImportFailure wraps seed fetch/parse failures during InitDatabase.
// It rejects the whole initialization; the half-seeded database is
// destroyed rather than left silently usable.
var ErrImportFailure = errors.New("vocab: seed import failed")

// schemaVersion is bumped whenever the persisted layout changes.
const schemaVersion = 1

const (
	tableWords  = "words"
	tableLevels = "levels"

	// ixLevelEn enforces the (levelId, en) uniqueness invariant.
	ixLevelEn = "level_en"
	ixLevelID = "level_id"
)

// schemas returns the static table descriptors for the current version.
func schemas() []record.Schema {
	return []record.Schema{
		{
			Table:         tableWords,
			KeyPath:       "id",
			AutoIncrement: true,
			Indexes: []record.Index{
				{Name: ixLevelEn, Paths: []string{"levelId", "en"}, Unique: true},
				{Name: ixLevelID, Paths: []string{"levelId"}},
				{Name: "en", Paths: []string{"en"}},
				{Name: "root", Paths: []string{"root"}},
				{Name: "is_learn", Paths: []string{"is_learn"}},
				{Name: "is_error", Paths: []string{"is_error"}},
			},
		},
		{
			Table:   tableLevels,
			KeyPath: "levelId",
			Indexes: []record.Index{
				{Name: "title", Paths: []string{"title"}},
			},
		},
	}
}

// Repository owns the persisted vocabulary tables. One instance per
// process; construct with NewRepository and pass it to collaborators
// explicitly (no package-level singleton).
type Repository struct {
	path     string
	store    *record.Store
	seedPath string
}

// NewRepository returns an unopened repository for the database at path.
func NewRepository(dbPath string) *Repository {
	return &Repository{path: dbPath}
}

/**
 * InitDatabase opens (creating if absent) the store at the current
 * schema version. If the upgrade fired — a genuinely fresh database —
 * and a seed path is known, the seed workbook is read and imported.
 *
 * - seedPath overrides the remembered seed source when non-empty;
 *   ResetDb passes "" to reuse the last-used source.
 * - Any seed read/parse/import failure destroys the half-seeded
 *   database and returns ErrImportFailure (wrapped).
 */
func (r *Repository) InitDatabase(ctx context.Context, seedPath string) error {
	store, fresh, err := record.Open(r.path, schemaVersion, schemas())
	if err != nil {
		return err
	}
	r.store = store
	if seedPath != "" {
		r.seedPath = seedPath
	}
	if !fresh || r.seedPath == "" {
		return nil
	}

	buf, err := os.ReadFile(r.seedPath)
	if err != nil {
		r.discard()
		return fmt.Errorf("%w: read seed %s: %v", ErrImportFailure, r.seedPath, err)
	}
	if _, err := r.ImportExcelData(ctx, buf); err != nil {
		r.discard()
		if errors.Is(err, ErrImportFailure) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrImportFailure, err)
	}
	return nil
}

// discard destroys the store after a failed seeding so a retry starts
// from a clean slate.
func (r *Repository) discard() {
	_ = r.store.Destroy()
	r.store = nil
}

// CheckDatabaseExists probes for the words table without mutating
// persisted content. When no connection is up the probe goes through a
// read-only handle, so a schemaless file stays schemaless and a later
// InitDatabase still sees a fresh database. A missing file counts as
// absent.
func (r *Repository) CheckDatabaseExists(ctx context.Context) (bool, error) {
	if r.store == nil {
		return record.Probe(r.path, tableWords)
	}
	return r.store.HasTable(ctx, tableWords)
}

// lazyOpen opens the store at the current version without seeding.
func (r *Repository) lazyOpen() error {
	store, _, err := record.Open(r.path, schemaVersion, schemas())
	if err != nil {
		return err
	}
	r.store = store
	return nil
}

// ResetDb physically deletes the database, then reinitializes from the
// last-used seed source. Level ids restart at 0 by construction: the
// reset discards all prior levels, so max(existing)+1 recomputes from
// an empty store. Destructive; callers confirm intent first.
func (r *Repository) ResetDb(ctx context.Context) error {
	if r.store == nil {
		if err := r.lazyOpen(); err != nil {
			return err
		}
	}
	if err := r.store.Destroy(); err != nil {
		return err
	}
	r.store = nil
	return r.InitDatabase(ctx, "")
}

// Close releases the database handle.
func (r *Repository) Close() error {
	if r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	return err
}

// GetLevels returns all levels. Lazily opens the database when the
// connection is not yet up — deliberate auto-heal, not an error path.
func (r *Repository) GetLevels(ctx context.Context) ([]Level, error) {
	if r.store == nil {
		if err := r.lazyOpen(); err != nil {
			return nil, err
		}
	}
	return record.GetAll[Level](ctx, r.store, tableLevels, nil, "")
}

// UpdateLevel upserts a level by its levelId.
func (r *Repository) UpdateLevel(ctx context.Context, level Level) error {
	return record.Put(ctx, r.store, tableLevels, level)
}

// GetLevelWords returns the level's words in ascending insertion id
// order — the stable base ordering for downstream paging.
func (r *Repository) GetLevelWords(ctx context.Context, levelID int64) ([]Word, error) {
	return record.GetAll[Word](ctx, r.store, tableWords, record.K(levelID), ixLevelID)
}

// GetWords returns one page of the level's words, unfiltered.
func (r *Repository) GetWords(ctx context.Context, levelID int64, sortBy Sort, pageSize, pageID int) ([]Word, error) {
	return r.page(ctx, levelID, nil, sortBy, pageSize, pageID)
}

// GetUnlearnedWords returns one page of the level's not-yet-learned words.
func (r *Repository) GetUnlearnedWords(ctx context.Context, levelID int64, sortBy Sort, pageSize, pageID int) ([]Word, error) {
	return r.page(ctx, levelID, func(w Word) bool { return !w.IsLearn }, sortBy, pageSize, pageID)
}

// GetErrorWords returns one page of the level's error-flagged words.
func (r *Repository) GetErrorWords(ctx context.Context, levelID int64, sortBy Sort, pageSize, pageID int) ([]Word, error) {
	return r.page(ctx, levelID, func(w Word) bool { return w.IsError }, sortBy, pageSize, pageID)
}

// page is the shared fetch → filter → sort → slice path.
func (r *Repository) page(ctx context.Context, levelID int64, keep func(Word) bool, sortBy Sort, pageSize, pageID int) ([]Word, error) {
	words, err := record.Search(ctx, r.store, tableWords, record.K(levelID), ixLevelID, keep)
	if err != nil {
		return nil, err
	}
	sortWords(words, sortBy)

	if pageSize <= 0 {
		return words, nil
	}
	start := pageID * pageSize
	if start < 0 || start >= len(words) {
		return []Word{}, nil
	}
	end := start + pageSize
	if end > len(words) {
		end = len(words)
	}
	return words[start:end], nil
}

// sortWords orders words in place per the requested sort.
func sortWords(words []Word, sortBy Sort) {
	switch sortBy {
	case SortAlphabet:
		sort.SliceStable(words, func(i, j int) bool { return words[i].En < words[j].En })
	case SortRoot:
		sort.SliceStable(words, func(i, j int) bool {
			if words[i].Root != words[j].Root {
				return words[i].Root < words[j].Root
			}
			return words[i].En < words[j].En
		})
	case SortRandom:
		rand.Shuffle(len(words), func(i, j int) { words[i], words[j] = words[j], words[i] })
	default:
		// SortRaw: keep insertion order.
	}
}

// GetWordCount counts the level's words matching mode. Counted in
// memory over the fetched level — fine at this data scale.
func (r *Repository) GetWordCount(ctx context.Context, levelID int64, mode Mode) (int, error) {
	words, err := r.GetLevelWords(ctx, levelID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, w := range words {
		switch mode {
		case ModeLearned:
			if w.IsLearn {
				n++
			}
		case ModeUnlearned:
			if !w.IsLearn {
				n++
			}
		case ModeError:
			if w.IsError {
				n++
			}
		default:
			n++
		}
	}
	return n, nil
}

// SetWordLearn looks the word up by its (levelId, en) natural key and
// writes IsLearn. A missing word is a silent no-op: a learner's
// mismatched tile pick is frequent and non-exceptional.
//
// The owning level's Learned counter increments only on a false→true
// transition, so re-matching an already-learned word never
// double-counts.
func (r *Repository) SetWordLearn(ctx context.Context, word Word, value bool) error {
	cur, err := record.Get[Word](ctx, r.store, tableWords, record.K(word.LevelID, word.En), ixLevelEn)
	if errors.Is(err, record.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	wasLearned := cur.IsLearn
	cur.IsLearn = value
	if err := record.Put(ctx, r.store, tableWords, cur); err != nil {
		return err
	}
	if !value || wasLearned {
		return nil
	}

	lvl, err := record.Get[Level](ctx, r.store, tableLevels, record.K(cur.LevelID), "")
	if errors.Is(err, record.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	lvl.Learned++
	return record.Put(ctx, r.store, tableLevels, lvl)
}

// SetWordError looks the word up by (levelId, en) and writes IsError.
// Missing word ⇒ silent no-op. No level-level side effect.
func (r *Repository) SetWordError(ctx context.Context, word Word, value bool) error {
	cur, err := record.Get[Word](ctx, r.store, tableWords, record.K(word.LevelID, word.En), ixLevelEn)
	if errors.Is(err, record.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	cur.IsError = value
	return record.Put(ctx, r.store, tableWords, cur)
}
