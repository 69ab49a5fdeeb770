package excel

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T, rows [][]interface{}) string {
	t.Helper()

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	path := filepath.Join(t.TempDir(), "incidents.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestRead_MapsCandidateColumns(t *testing.T) {
	path := writeWorkbook(t, [][]interface{}{
		{"Case_ID", "Subject", "Description", "OpenDate"},
		{"INC-001", "Router down", "Core router unreachable in DC-2.", "2024-03-01 10:30:00"},
	})

	incidents, skipped, err := Read(path, ReaderConfig{})
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, incidents, 1)

	inc := incidents[0]
	assert.Equal(t, "INC-001", inc.ID)
	assert.Equal(t, "Router down", inc.Title)
	assert.Equal(t, "Core router unreachable in DC-2.", inc.Body)
	assert.Equal(t, "Router down\nCore router unreachable in DC-2.", inc.Content)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), inc.UpdatedAt)
}

func TestRead_SkipsRowsWithoutIdentifier(t *testing.T) {
	path := writeWorkbook(t, [][]interface{}{
		{"id", "title", "body", "updated_at"},
		{"INC-001", "First", "body one", "2024-01-01"},
		{"", "No id", "body two", "2024-01-02"},
		{"INC-003", "Third", "body three", "2024-01-03"},
	})

	incidents, skipped, err := Read(path, ReaderConfig{})
	require.NoError(t, err)
	require.Len(t, incidents, 2)
	assert.Equal(t, "INC-001", incidents[0].ID)
	assert.Equal(t, "INC-003", incidents[1].ID)

	require.Len(t, skipped, 1)
	assert.Equal(t, 3, skipped[0].Row)
	assert.Equal(t, "empty identifier", skipped[0].Reason)
}

func TestRead_NoIdentifierColumnIsFatal(t *testing.T) {
	path := writeWorkbook(t, [][]interface{}{
		{"title", "body"},
		{"No ids here", "body"},
	})

	_, _, err := Read(path, ReaderConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no identifier column")
}

func TestRead_StableAcrossReloads(t *testing.T) {
	path := writeWorkbook(t, [][]interface{}{
		{"id", "title", "body", "updated_at"},
		{"INC-001", "First", "one", "2024-01-01"},
		{"INC-002", "Second", "two", "2024-01-02"},
	})

	first, _, err := Read(path, ReaderConfig{})
	require.NoError(t, err)
	second, _, err := Read(path, ReaderConfig{})
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestRead_TruncatesOversizedFields(t *testing.T) {
	longID := ""
	for i := 0; i < 10; i++ {
		longID += "0123456789"
	}

	path := writeWorkbook(t, [][]interface{}{
		{"id", "title", "body"},
		{longID, "t", "b"},
	})

	incidents, _, err := Read(path, ReaderConfig{})
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Len(t, incidents[0].ID, 64)
}

func TestRead_StripsHTMLBodies(t *testing.T) {
	path := writeWorkbook(t, [][]interface{}{
		{"id", "title", "body"},
		{"INC-001", "Markup", "<div><p>Service <b>down</b></p><p>in DC-2</p></div>"},
		{"INC-002", "Plain", "a < b and b > c"},
	})

	incidents, _, err := Read(path, ReaderConfig{})
	require.NoError(t, err)
	require.Len(t, incidents, 2)
	assert.Equal(t, "Service down in DC-2", incidents[0].Body)
	assert.Equal(t, "a < b and b > c", incidents[1].Body)
}

func TestRead_SheetSelection(t *testing.T) {
	f := excelize.NewFile()
	first := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(first, "A1", &[]interface{}{"id", "title"}))
	require.NoError(t, f.SetSheetRow(first, "A2", &[]interface{}{"FIRST", "from sheet one"}))

	_, err := f.NewSheet("Archive")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Archive", "A1", &[]interface{}{"id", "title"}))
	require.NoError(t, f.SetSheetRow("Archive", "A2", &[]interface{}{"ARCHIVED", "from sheet two"}))

	path := filepath.Join(t.TempDir(), "multi.xlsx")
	require.NoError(t, f.SaveAs(path))

	byIndex, _, err := Read(path, ReaderConfig{Sheet: "1"})
	require.NoError(t, err)
	byName, _, err := Read(path, ReaderConfig{Sheet: "Archive"})
	require.NoError(t, err)

	require.Len(t, byIndex, 1)
	require.Len(t, byName, 1)
	assert.Equal(t, "ARCHIVED", byIndex[0].ID)
	assert.Equal(t, byName[0].ID, byIndex[0].ID)

	_, _, err = Read(path, ReaderConfig{Sheet: "nope"})
	require.Error(t, err)
}

func TestRead_Limit(t *testing.T) {
	path := writeWorkbook(t, [][]interface{}{
		{"id", "title"},
		{"INC-001", "one"},
		{"INC-002", "two"},
		{"INC-003", "three"},
	})

	incidents, _, err := Read(path, ReaderConfig{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, incidents, 2)
}

func TestRead_TimestampFallback(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	path := writeWorkbook(t, [][]interface{}{
		{"id", "title", "updated_at"},
		{"INC-001", "no date", ""},
		{"INC-002", "garbage date", "not a date"},
	})

	incidents, _, err := Read(path, ReaderConfig{Now: func() time.Time { return now }})
	require.NoError(t, err)
	require.Len(t, incidents, 2)
	assert.Equal(t, now, incidents[0].UpdatedAt)
	assert.Equal(t, now, incidents[1].UpdatedAt)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-01T10:30:00Z", time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)},
		{"2024-03-01 10:30:00", time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"01/02/2006", time.Date(2006, 1, 2, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got, ok := parseTimestamp(tt.in)
		require.True(t, ok, "parseTimestamp(%q)", tt.in)
		assert.Equal(t, tt.want, got, "parseTimestamp(%q)", tt.in)
	}

	_, ok := parseTimestamp("")
	assert.False(t, ok)
}
