// apps/go-server/internal/session/session.go
//
// Match-session engine for one page of gameplay.
// Responsibilities:
//   - Materialize one page of word pairs for a level+mode via the
//     vocabulary repository.
//   - Validate match attempts (exact pair vs. half-right pick) and
//     persist learn/error flags through the repository.
//   - Track match progress and fire the page-complete hook exactly once
//     when every pair on the page has been matched.
//
// Notes:
//   - A session holds only a transient view of its page plus counters;
//     nothing is cached across Init calls.
//   - CheckMatch is not safe for overlapping calls; the caller
//     serializes attempts per session (one drag resolves before the
//     next is accepted).

package session

import (
	"context"
	"math"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/wordlink/wordlink/apps/go-server/internal/vocab"
)

// Pair is one en/cn word pairing as seen by the presentation layer.
type Pair struct {
	En string `json:"en"`
	Cn string `json:"cn"`
}

// Stat reports persisted counts for the session's level.
type Stat struct {
	Learned int `json:"learned"`
	Error   int `json:"error"`
	Total   int `json:"total"`
}

// Hooks are optional callbacks fired by CheckMatch. Nil hooks are
// skipped.
type Hooks struct {
	OnMatch        func(Pair) // fired on an exact match
	OnMiss         func(Pair) // fired on any failed attempt
	OnPageComplete func()     // fired once, when the page is done
}

// Session bridges one page of gameplay to the repository.
type Session struct {
	repo  *vocab.Repository
	hooks Hooks

	levelID  int64
	mode     vocab.Mode
	sortBy   vocab.Sort
	pageSize int
	pageID   int

	pageWords []vocab.Word
	matched   int
	last      *Pair
	complete  bool
}

// New constructs an uninitialized session over repo.
func New(repo *vocab.Repository, hooks Hooks) *Session {
	return &Session{repo: repo, hooks: hooks}
}

// Init loads one page of word pairs for the level and mode, resetting
// all per-page state. Mode selects the repository filter: all words,
// unlearned only, or error-flagged only.
func (s *Session) Init(ctx context.Context, levelID int64, mode vocab.Mode, sortBy vocab.Sort, pageSize, pageID int) error {
	var words []vocab.Word
	var err error
	switch mode {
	case vocab.ModeUnlearned:
		words, err = s.repo.GetUnlearnedWords(ctx, levelID, sortBy, pageSize, pageID)
	case vocab.ModeError:
		words, err = s.repo.GetErrorWords(ctx, levelID, sortBy, pageSize, pageID)
	default:
		words, err = s.repo.GetWords(ctx, levelID, sortBy, pageSize, pageID)
	}
	if err != nil {
		return err
	}

	s.levelID = levelID
	s.mode = mode
	s.sortBy = sortBy
	s.pageSize = pageSize
	s.pageID = pageID
	s.pageWords = words
	s.matched = 0
	s.last = nil
	s.complete = false
	return nil
}

// CheckMatch resolves one match attempt.
//
// Exact pair on the page: the word is marked learned (and, in error
// mode, its error flag is cleared — a successful re-match removes it
// from the review set), the counter advances, OnMatch fires, and when
// the counter first reaches the page length OnPageComplete fires.
//
// No exact pair: if either half matches a page word alone, that word's
// error flag is set for later review. OnMiss fires either way.
//
// Repository mutation failures propagate; a miss itself is never an
// error.
func (s *Session) CheckMatch(ctx context.Context, en, cn string) (bool, error) {
	if w, ok := s.findExact(en, cn); ok {
		if err := s.repo.SetWordLearn(ctx, w, true); err != nil {
			return false, err
		}
		if s.mode == vocab.ModeError {
			if err := s.repo.SetWordError(ctx, w, false); err != nil {
				return false, err
			}
		}
		if s.matched < len(s.pageWords) {
			s.matched++
		}
		s.last = &Pair{En: w.En, Cn: w.Cn}
		if s.hooks.OnMatch != nil {
			s.hooks.OnMatch(*s.last)
		}
		if s.matched == len(s.pageWords) && !s.complete {
			s.complete = true
			if s.hooks.OnPageComplete != nil {
				s.hooks.OnPageComplete()
			}
		}
		return true, nil
	}

	// Half-right pick: one correct tile paired with a wrong one.
	if w, ok := s.findHalf(en, cn); ok {
		if err := s.repo.SetWordError(ctx, w, true); err != nil {
			return false, err
		}
	}
	s.last = &Pair{En: en, Cn: cn}
	if s.hooks.OnMiss != nil {
		s.hooks.OnMiss(*s.last)
	}
	return false, nil
}

// findExact locates the page word matching both halves.
func (s *Session) findExact(en, cn string) (vocab.Word, bool) {
	for _, w := range s.pageWords {
		if w.En == en && w.Cn == cn {
			return w, true
		}
	}
	return vocab.Word{}, false
}

// findHalf locates a page word matching either half alone.
func (s *Session) findHalf(en, cn string) (vocab.Word, bool) {
	for _, w := range s.pageWords {
		if w.En == en || w.Cn == cn {
			return w, true
		}
	}
	return vocab.Word{}, false
}

// CalcPages recomputes the total page count for the session's level and
// mode. Failures are logged and default to 1: a page-count hiccup must
// never block gameplay.
func (s *Session) CalcPages(ctx context.Context) int {
	if s.pageSize <= 0 {
		return 1
	}
	count, err := s.repo.GetWordCount(ctx, s.levelID, s.countMode())
	if err != nil {
		log.Warn().Err(err).Int64("levelId", s.levelID).Msg("calc pages")
		return 1
	}
	return int(math.Ceil(float64(count) / float64(s.pageSize)))
}

// countMode maps the session mode onto a counting filter.
func (s *Session) countMode() vocab.Mode {
	switch s.mode {
	case vocab.ModeUnlearned, vocab.ModeError:
		return s.mode
	default:
		return vocab.ModeAll
	}
}

// GetStat re-queries the repository for the level's current counts.
// Never cached, so it always reflects the latest persisted truth.
func (s *Session) GetStat(ctx context.Context) (Stat, error) {
	learned, err := s.repo.GetWordCount(ctx, s.levelID, vocab.ModeLearned)
	if err != nil {
		return Stat{}, err
	}
	errCount, err := s.repo.GetWordCount(ctx, s.levelID, vocab.ModeError)
	if err != nil {
		return Stat{}, err
	}
	total, err := s.repo.GetWordCount(ctx, s.levelID, s.countMode())
	if err != nil {
		return Stat{}, err
	}
	return Stat{Learned: learned, Error: errCount, Total: total}, nil
}

// EnWords returns the page's en texts in page order.
func (s *Session) EnWords() []string {
	out := make([]string, len(s.pageWords))
	for i, w := range s.pageWords {
		out[i] = w.En
	}
	return out
}

// ShuffledCnWords returns the page's cn texts in a fresh random order,
// so the two tile columns never line up.
func (s *Session) ShuffledCnWords() []string {
	out := make([]string, len(s.pageWords))
	for i, w := range s.pageWords {
		out[i] = w.Cn
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// MatchWord returns the most recent matched/unmatched pair, or nil
// before any attempt.
func (s *Session) MatchWord() *Pair { return s.last }

// Matched returns the number of pairs matched on this page.
func (s *Session) Matched() int { return s.matched }

// PageComplete reports whether every pair on the page has been matched.
func (s *Session) PageComplete() bool { return s.complete }
