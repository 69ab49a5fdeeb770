package models

import "time"

// Incident is one row of the staging table. The external shipper copies
// these rows into the search index on its own schedule, keyed on ID, so
// IDs must stay stable across reloads.
type Incident struct {
	ID        string
	Title     string
	Body      string
	Content   string // title + body; the field the ingest pipeline expands
	UpdatedAt time.Time
}

// SearchHit is an incident as returned by the search index for a query,
// ranked by relevance.
type SearchHit struct {
	Score     float64
	ID        string
	Title     string
	Body      string
	UpdatedAt string
}

// SkippedRow reports a spreadsheet row the loader refused and why.
type SkippedRow struct {
	Row    int
	Reason string
}
