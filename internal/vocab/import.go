// apps/go-server/internal/vocab/import.go
//
// Bulk import of level/word content from xlsx workbooks.
//
// Contract:
//   - Each sheet becomes exactly one new Level, never merged into an
//     existing one; title collisions are allowed and not deduplicated.
//   - Level ids are assigned max(existing)+1, starting at 0.
//   - Level.Total records the raw data-row count before validation, so
//     it can overcount rows that are skipped (see DESIGN.md).
//   - Rows missing a non-empty en or cn are silently skipped.
//   - Per-row insert failures are logged and skipped; they never abort
//     the remaining rows.
//
// Recognized columns (first header match wins, English aliases are
// case-insensitive):
//   en:   英文 / English
//   cn:   中文 / Chinese
//   root: 词根 / Root (optional, defaults to "")

package vocab

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"github.com/wordlink/wordlink/apps/go-server/internal/record"
)

var (
	enAliases   = []string{"英文", "English"}
	cnAliases   = []string{"中文", "Chinese"}
	rootAliases = []string{"词根", "Root"}
)

// ImportExcelFile reads the workbook at path and imports it.
func (r *Repository) ImportExcelFile(ctx context.Context, path string) ([]SheetResult, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrImportFailure, path, err)
	}
	return r.ImportExcelData(ctx, buf)
}

// ImportExcelData imports a parsed workbook: one new level per sheet.
// Returns the sheet name and validated row count per sheet.
func (r *Repository) ImportExcelData(ctx context.Context, buf []byte) ([]SheetResult, error) {
	if err := r.requireStore(); err != nil {
		return nil, err
	}
	f, err := excelize.OpenReader(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: parse workbook: %v", ErrImportFailure, err)
	}
	defer f.Close()

	results := make([]SheetResult, 0, len(f.GetSheetList()))
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("%w: read sheet %s: %v", ErrImportFailure, sheet, err)
		}
		res, err := r.importSheet(ctx, sheet, rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// importSheet creates one level from a sheet and inserts its rows.
func (r *Repository) importSheet(ctx context.Context, name string, rows [][]string) (SheetResult, error) {
	levelID, err := r.nextLevelID(ctx)
	if err != nil {
		return SheetResult{}, err
	}

	total := 0
	if len(rows) > 0 {
		total = len(rows) - 1 // data rows under the header, pre-validation
	}
	level := Level{LevelID: levelID, Title: name, Total: total, Learned: 0}
	if _, err := record.Add(ctx, r.store, tableLevels, level); err != nil {
		return SheetResult{}, fmt.Errorf("insert level %q: %w", name, err)
	}
	if len(rows) == 0 {
		return SheetResult{Name: name, Count: 0}, nil
	}

	enCol, cnCol, rootCol := columnIndexes(rows[0])
	count := 0
	for _, row := range rows[1:] {
		en := cell(row, enCol)
		cn := cell(row, cnCol)
		if en == "" || cn == "" {
			continue
		}
		word := Word{En: en, Cn: cn, LevelID: levelID, Root: cell(row, rootCol)}
		if _, err := record.Add(ctx, r.store, tableWords, word); err != nil {
			// Duplicate (levelId, en) within one sheet, or any other
			// per-row failure: skip and keep importing.
			log.Warn().Err(err).Str("sheet", name).Str("en", en).Msg("skip word row")
			continue
		}
		count++
	}
	return SheetResult{Name: name, Count: count}, nil
}

// nextLevelID computes max(existing levelIds)+1, or 0 when none exist.
func (r *Repository) nextLevelID(ctx context.Context) (int64, error) {
	levels, err := record.GetAll[Level](ctx, r.store, tableLevels, nil, "")
	if err != nil {
		return 0, err
	}
	next := int64(0)
	for _, lvl := range levels {
		if lvl.LevelID >= next {
			next = lvl.LevelID + 1
		}
	}
	return next, nil
}

// columnIndexes resolves the en/cn/root column positions from a header
// row. Returns -1 for columns that are absent.
func columnIndexes(header []string) (en, cn, root int) {
	en, cn, root = -1, -1, -1
	for i, cell := range header {
		name := strings.TrimSpace(cell)
		switch {
		case en == -1 && matchesAlias(name, enAliases):
			en = i
		case cn == -1 && matchesAlias(name, cnAliases):
			cn = i
		case root == -1 && matchesAlias(name, rootAliases):
			root = i
		}
	}
	return en, cn, root
}

// matchesAlias reports whether name equals any alias, ignoring case.
func matchesAlias(name string, aliases []string) bool {
	for _, a := range aliases {
		if strings.EqualFold(name, a) {
			return true
		}
	}
	return false
}

// cell returns the trimmed cell at col, or "" when the row is short or
// the column is absent. Trailing empty cells are not materialized by
// the workbook reader, so short rows are routine.
func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// requireStore reports ErrNotInitialized when the database is not open.
func (r *Repository) requireStore() error {
	if r.store == nil {
		return record.ErrNotInitialized
	}
	return nil
}
