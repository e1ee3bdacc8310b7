package vocab

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type testSheet struct {
	Name string
	Rows [][]string
}

// workbookBytes builds an xlsx workbook in memory.
func workbookBytes(t *testing.T, sheets []testSheet) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, sh := range sheets {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", sh.Name))
		} else {
			_, err := f.NewSheet(sh.Name)
			require.NoError(t, err)
		}
		for rIdx, row := range sh.Rows {
			for cIdx, val := range row {
				cell, err := excelize.CoordinatesToCellName(cIdx+1, rIdx+1)
				require.NoError(t, err)
				require.NoError(t, f.SetCellValue(sh.Name, cell, val))
			}
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	r := NewRepository(filepath.Join(t.TempDir(), "vocab_test.db"))
	require.NoError(t, r.InitDatabase(context.Background(), ""))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// importOne imports a single sheet and returns its level id.
func importOne(t *testing.T, r *Repository, sheet testSheet) int64 {
	t.Helper()
	results, err := r.ImportExcelData(context.Background(), workbookBytes(t, []testSheet{sheet}))
	require.NoError(t, err)
	require.Len(t, results, 1)
	levels, err := r.GetLevels(context.Background())
	require.NoError(t, err)
	return levels[len(levels)-1].LevelID
}

func TestImportCreatesLevelAndWords(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	results, err := r.ImportExcelData(ctx, workbookBytes(t, []testSheet{{
		Name: "Level1",
		Rows: [][]string{
			{"英文", "中文", "词根"},
			{"cat", "猫", "animal"},
			{"dog", "狗", "animal"},
			{"run", "跑", ""},
			{"orphan", ""}, // missing cn: silently skipped
		},
	}}))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, SheetResult{Name: "Level1", Count: 3}, results[0])

	levels, err := r.GetLevels(ctx)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, int64(0), levels[0].LevelID)
	assert.Equal(t, "Level1", levels[0].Title)
	// Total counts raw sheet rows, including the skipped one.
	assert.Equal(t, 4, levels[0].Total)
	assert.Equal(t, 0, levels[0].Learned)

	words, err := r.GetLevelWords(ctx, 0)
	require.NoError(t, err)
	require.Len(t, words, 3)
	for _, w := range words {
		assert.False(t, w.IsLearn)
		assert.False(t, w.IsError)
	}

	count, err := r.GetWordCount(ctx, 0, ModeAll)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestImportEnglishAliasHeaders(t *testing.T) {
	r := newTestRepo(t)
	levelID := importOne(t, r, testSheet{
		Name: "Aliases",
		Rows: [][]string{
			{"english", "CHINESE", "root"},
			{"sun", "太阳", "sol"},
		},
	})

	words, err := r.GetLevelWords(context.Background(), levelID)
	require.NoError(t, err)
	require.Len(t, words, 1)
	assert.Equal(t, "sun", words[0].En)
	assert.Equal(t, "太阳", words[0].Cn)
	assert.Equal(t, "sol", words[0].Root)
}

func TestImportAssignsMonotonicLevelIDs(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	results, err := r.ImportExcelData(ctx, workbookBytes(t, []testSheet{
		{Name: "One", Rows: [][]string{{"英文", "中文"}, {"a", "甲"}}},
		{Name: "Two", Rows: [][]string{{"英文", "中文"}, {"b", "乙"}}},
	}))
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Title collisions are allowed and never merged.
	importOne(t, r, testSheet{Name: "One", Rows: [][]string{{"英文", "中文"}, {"c", "丙"}}})

	levels, err := r.GetLevels(ctx)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []int64{0, 1, 2}, []int64{levels[0].LevelID, levels[1].LevelID, levels[2].LevelID})
	assert.Equal(t, "One", levels[0].Title)
	assert.Equal(t, "One", levels[2].Title)
}

func TestImportSkipsDuplicateEnWithinSheet(t *testing.T) {
	r := newTestRepo(t)
	levelID := importOne(t, r, testSheet{
		Name: "Dups",
		Rows: [][]string{
			{"英文", "中文"},
			{"cat", "猫"},
			{"cat", "猫咪"}, // duplicate (levelId, en): logged and skipped
		},
	})

	words, err := r.GetLevelWords(context.Background(), levelID)
	require.NoError(t, err)
	require.Len(t, words, 1)
	assert.Equal(t, "猫", words[0].Cn)
}

func TestImportRequiresOpenStore(t *testing.T) {
	r := NewRepository(filepath.Join(t.TempDir(), "closed.db"))
	_, err := r.ImportExcelData(context.Background(), []byte("ignored"))
	require.Error(t, err)
}

func seedSevenWords(t *testing.T, r *Repository) int64 {
	rows := [][]string{{"英文", "中文", "词根"}}
	for _, w := range []struct{ en, cn, root string }{
		{"delta", "丁", "g2"}, {"alpha", "甲", "g1"}, {"echo", "戊", "g1"},
		{"bravo", "乙", "g2"}, {"golf", "庚", "g1"}, {"charlie", "丙", "g3"},
		{"foxtrot", "己", "g2"},
	} {
		rows = append(rows, []string{w.en, w.cn, w.root})
	}
	return importOne(t, r, testSheet{Name: "Paging", Rows: rows})
}

func TestPagingDeterministicSorts(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	levelID := seedSevenWords(t, r)

	for _, sortBy := range []Sort{SortRaw, SortAlphabet, SortRoot} {
		var paged []Word
		for page := 0; ; page++ {
			words, err := r.GetWords(ctx, levelID, sortBy, 3, page)
			require.NoError(t, err)
			if len(words) == 0 {
				break
			}
			paged = append(paged, words...)
		}
		require.Len(t, paged, 7, "sort %s: pages must cover the set", sortBy)

		// Concatenated pages reproduce one deterministic full ordering.
		full, err := r.GetWords(ctx, levelID, sortBy, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, full, paged, "sort %s", sortBy)
	}
}

func TestPagingSortOrders(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	levelID := seedSevenWords(t, r)

	raw, err := r.GetWords(ctx, levelID, SortRaw, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "delta", raw[0].En, "raw keeps insertion order")

	alpha, err := r.GetWords(ctx, levelID, SortAlphabet, 0, 0)
	require.NoError(t, err)
	assert.True(t, sort.SliceIsSorted(alpha, func(i, j int) bool { return alpha[i].En < alpha[j].En }))

	byRoot, err := r.GetWords(ctx, levelID, SortRoot, 0, 0)
	require.NoError(t, err)
	assert.True(t, sort.SliceIsSorted(byRoot, func(i, j int) bool {
		if byRoot[i].Root != byRoot[j].Root {
			return byRoot[i].Root < byRoot[j].Root
		}
		return byRoot[i].En < byRoot[j].En
	}))
}

func TestRandomSortStillPartitions(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	levelID := seedSevenWords(t, r)

	// Every call reshuffles before slicing, so page contents are not
	// stable across calls; the slice bounds still partition each
	// materialization into 3/3/1.
	wantSizes := []int{3, 3, 1}
	for page := 0; page < 3; page++ {
		words, err := r.GetWords(ctx, levelID, SortRandom, 3, page)
		require.NoError(t, err)
		assert.Len(t, words, wantSizes[page])
		for _, w := range words {
			assert.Equal(t, levelID, w.LevelID)
		}
	}

	// Within one materialization the full shuffled set covers every word.
	full, err := r.GetWords(ctx, levelID, SortRandom, 0, 0)
	require.NoError(t, err)
	ens := map[string]bool{}
	for _, w := range full {
		ens[w.En] = true
	}
	assert.Len(t, ens, 7)
}

func TestModeFiltersComplement(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	levelID := seedSevenWords(t, r)

	words, err := r.GetLevelWords(ctx, levelID)
	require.NoError(t, err)
	for _, w := range words[:3] {
		require.NoError(t, r.SetWordLearn(ctx, w, true))
	}

	learned, err := r.GetWordCount(ctx, levelID, ModeLearned)
	require.NoError(t, err)
	unlearned, err := r.GetWordCount(ctx, levelID, ModeUnlearned)
	require.NoError(t, err)
	all, err := r.GetWordCount(ctx, levelID, ModeAll)
	require.NoError(t, err)

	assert.Equal(t, 3, learned)
	assert.Equal(t, 4, unlearned)
	assert.Equal(t, all, learned+unlearned, "learned and unlearned partition the level")

	unlearnedWords, err := r.GetUnlearnedWords(ctx, levelID, SortRaw, 0, 0)
	require.NoError(t, err)
	for _, w := range unlearnedWords {
		assert.False(t, w.IsLearn)
	}
}

func TestSetWordLearnIdempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	levelID := importOne(t, r, testSheet{
		Name: "Learn",
		Rows: [][]string{{"英文", "中文"}, {"cat", "猫"}, {"dog", "狗"}},
	})

	words, err := r.GetLevelWords(ctx, levelID)
	require.NoError(t, err)

	require.NoError(t, r.SetWordLearn(ctx, words[0], true))
	require.NoError(t, r.SetWordLearn(ctx, words[0], true))

	levels, err := r.GetLevels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, levels[0].Learned, "re-learning must not double-count")

	got, err := r.GetLevelWords(ctx, levelID)
	require.NoError(t, err)
	assert.True(t, got[0].IsLearn)

	// Unlearning and re-learning counts the new transition.
	require.NoError(t, r.SetWordLearn(ctx, words[0], false))
	require.NoError(t, r.SetWordLearn(ctx, words[0], true))
	levels, err = r.GetLevels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, levels[0].Learned)
}

func TestSetWordLearnMissingWordIsNoop(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	levelID := importOne(t, r, testSheet{
		Name: "Miss",
		Rows: [][]string{{"英文", "中文"}, {"cat", "猫"}},
	})

	require.NoError(t, r.SetWordLearn(ctx, Word{LevelID: levelID, En: "ghost"}, true))
	levels, err := r.GetLevels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, levels[0].Learned)
}

func TestSetWordError(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	levelID := importOne(t, r, testSheet{
		Name: "Err",
		Rows: [][]string{{"英文", "中文"}, {"cat", "猫"}},
	})

	words, err := r.GetLevelWords(ctx, levelID)
	require.NoError(t, err)
	require.NoError(t, r.SetWordError(ctx, words[0], true))

	errCount, err := r.GetWordCount(ctx, levelID, ModeError)
	require.NoError(t, err)
	assert.Equal(t, 1, errCount)

	require.NoError(t, r.SetWordError(ctx, words[0], false))
	errCount, err = r.GetWordCount(ctx, levelID, ModeError)
	require.NoError(t, err)
	assert.Equal(t, 0, errCount)

	levels, err := r.GetLevels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, levels[0].Learned, "error flag writes have no level side effect")
}

func TestCheckDatabaseExists(t *testing.T) {
	dir := t.TempDir()
	r := NewRepository(filepath.Join(dir, "probe.db"))
	ctx := context.Background()

	exists, err := r.CheckDatabaseExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, r.InitDatabase(ctx, ""))
	exists, err = r.CheckDatabaseExists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCheckDatabaseExistsLeavesSchemalessFileFresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bare.db")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	seedPath := filepath.Join(dir, "seed.xlsx")
	require.NoError(t, os.WriteFile(seedPath, workbookBytes(t, []testSheet{{
		Name: "Seed",
		Rows: [][]string{{"英文", "中文"}, {"cat", "猫"}},
	}}), 0o644))

	r := NewRepository(path)
	ctx := context.Background()
	exists, err := r.CheckDatabaseExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists, "a schemaless file carries no words table")

	// The probe must not have applied the schema: a subsequent init
	// still sees a fresh database and seeds it.
	require.NoError(t, r.InitDatabase(ctx, seedPath))
	t.Cleanup(func() { _ = r.Close() })
	levels, err := r.GetLevels(ctx)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, "Seed", levels[0].Title)
}

func TestInitDatabaseSeedsFreshStore(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.xlsx")
	require.NoError(t, os.WriteFile(seedPath, workbookBytes(t, []testSheet{{
		Name: "Seed",
		Rows: [][]string{{"英文", "中文"}, {"cat", "猫"}, {"dog", "狗"}},
	}}), 0o644))

	r := NewRepository(filepath.Join(dir, "seeded.db"))
	ctx := context.Background()
	require.NoError(t, r.InitDatabase(ctx, seedPath))

	levels, err := r.GetLevels(ctx)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, "Seed", levels[0].Title)

	// Re-opening an already-seeded database must not import again.
	require.NoError(t, r.Close())
	require.NoError(t, r.InitDatabase(ctx, seedPath))
	levels, err = r.GetLevels(ctx)
	require.NoError(t, err)
	assert.Len(t, levels, 1)
}

func TestInitDatabaseRejectsBadSeed(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "garbage.xlsx")
	require.NoError(t, os.WriteFile(seedPath, []byte("not a workbook"), 0o644))

	r := NewRepository(filepath.Join(dir, "broken.db"))
	ctx := context.Background()
	err := r.InitDatabase(ctx, seedPath)
	require.ErrorIs(t, err, ErrImportFailure)

	// The half-seeded database must not be left silently usable.
	exists, err := r.CheckDatabaseExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestResetDbReseedsFromLastSource(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.xlsx")
	require.NoError(t, os.WriteFile(seedPath, workbookBytes(t, []testSheet{{
		Name: "Seed",
		Rows: [][]string{{"英文", "中文"}, {"cat", "猫"}},
	}}), 0o644))

	r := NewRepository(filepath.Join(dir, "reset.db"))
	ctx := context.Background()
	require.NoError(t, r.InitDatabase(ctx, seedPath))

	// Grow past the seed, then learn a word.
	importOne(t, r, testSheet{Name: "Extra", Rows: [][]string{{"英文", "中文"}, {"dog", "狗"}}})
	words, err := r.GetLevelWords(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, r.SetWordLearn(ctx, words[0], true))

	require.NoError(t, r.ResetDb(ctx))

	levels, err := r.GetLevels(ctx)
	require.NoError(t, err)
	require.Len(t, levels, 1, "reset discards everything and reseeds")
	assert.Equal(t, int64(0), levels[0].LevelID, "level ids restart at 0")
	assert.Equal(t, "Seed", levels[0].Title)
	assert.Equal(t, 0, levels[0].Learned)
}
