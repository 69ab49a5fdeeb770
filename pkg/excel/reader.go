package excel

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ferd/sift/internal/models"
	"github.com/xuri/excelize/v2"
)

// ReaderConfig controls how a workbook is read.
type ReaderConfig struct {
	Sheet string // sheet name or zero-based index; empty means first sheet
	Limit int    // maximum data rows to read; 0 means all
	Now   func() time.Time
}

// Column name candidates, checked case-insensitively in order. Exports
// from different ticketing systems name these fields differently.
var (
	idColumns      = []string{"id", "case_id", "doc_id", "incident_id"}
	titleColumns   = []string{"title", "subject", "summary"}
	bodyColumns    = []string{"body", "description", "details", "content"}
	updatedColumns = []string{"updated_at", "opendate", "date", "created_at", "timestamp"}
)

const (
	maxIDLen    = 64
	maxTitleLen = 500
)

// Read loads incidents from the workbook at path. Rows with an empty
// identifier are skipped and reported, not fatal; a workbook without any
// recognizable identifier column is an error since generated identifiers
// could not survive a reload with reordered rows.
func Read(path string, cfg ReaderConfig) ([]models.Incident, []models.SkippedRow, error) {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet, err := resolveSheet(f, cfg.Sheet)
	if err != nil {
		return nil, nil, err
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	header := rows[0]
	idCol := findColumn(header, idColumns)
	titleCol := findColumn(header, titleColumns)
	bodyCol := findColumn(header, bodyColumns)
	updatedCol := findColumn(header, updatedColumns)

	if idCol < 0 {
		return nil, nil, fmt.Errorf("no identifier column found in sheet %q (looked for %s)",
			sheet, strings.Join(idColumns, ", "))
	}

	var incidents []models.Incident
	var skipped []models.SkippedRow

	for i, row := range rows[1:] {
		if cfg.Limit > 0 && len(incidents) >= cfg.Limit {
			break
		}
		rowNum := i + 2 // 1-based, after the header

		if emptyRow(row) {
			continue
		}

		id := truncateRunes(strings.TrimSpace(cell(row, idCol)), maxIDLen)
		if id == "" {
			skipped = append(skipped, models.SkippedRow{
				Row:    rowNum,
				Reason: "empty identifier",
			})
			continue
		}

		title := strings.TrimSpace(cell(row, titleCol))
		if title == "" {
			title = id
		}
		title = truncateRunes(title, maxTitleLen)

		body := stripHTML(strings.TrimSpace(cell(row, bodyCol)))

		updated, parsed := parseTimestamp(cell(row, updatedCol))
		if !parsed {
			updated = cfg.Now()
		}

		incidents = append(incidents, models.Incident{
			ID:        id,
			Title:     title,
			Body:      body,
			Content:   strings.TrimSpace(title + "\n" + body),
			UpdatedAt: updated,
		})
	}

	return incidents, skipped, nil
}

func resolveSheet(f *excelize.File, sheet string) (string, error) {
	list := f.GetSheetList()
	if len(list) == 0 {
		return "", fmt.Errorf("workbook has no sheets")
	}
	if sheet == "" {
		return list[0], nil
	}
	if idx, err := strconv.Atoi(sheet); err == nil {
		if idx < 0 || idx >= len(list) {
			return "", fmt.Errorf("sheet index %d out of range (workbook has %d sheets)", idx, len(list))
		}
		return list[idx], nil
	}
	for _, name := range list {
		if name == sheet {
			return name, nil
		}
	}
	return "", fmt.Errorf("sheet %q not found in workbook", sheet)
}

func findColumn(header []string, candidates []string) int {
	lower := make(map[string]int, len(header))
	for i, h := range header {
		lower[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, cand := range candidates {
		if i, ok := lower[cand]; ok {
			return i
		}
	}
	return -1
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

func emptyRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Layouts seen in incident exports; excelize hands back display strings.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"1/2/2006 15:04",
	"1/2/2006",
	"01-02-06 15:04",
	"01-02-06",
	"2-Jan-06",
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	// Date cells sometimes survive as raw Excel serial numbers.
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

var htmlTagRe = regexp.MustCompile(`<[a-zA-Z/!][^>]*>`)

// stripHTML reduces HTML-bearing body cells to their text. Ticketing
// systems export rich-text descriptions as markup.
func stripHTML(s string) string {
	if !htmlTagRe.MatchString(s) {
		return s
	}
	// Pad the tags so adjacent blocks do not fuse once they are gone;
	// the whitespace collapse below cleans up the padding.
	padded := strings.ReplaceAll(s, "<", " <")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(padded))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
