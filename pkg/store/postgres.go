package store

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/ferd/sift/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type StoreConfig struct {
	ConnString string
	TableName  string
	// OnRowError is called for every row that fails to upsert; the run
	// continues so one bad row cannot sink a whole load.
	OnRowError func(id string, err error)
}

// IncidentStore writes incidents into the staging table the external
// shipper reads from.
type IncidentStore struct {
	config StoreConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(ctx context.Context, config StoreConfig) (*IncidentStore, error) {
	if config.TableName == "" {
		config.TableName = "docs"
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	// pgxpool connects lazily; ping now so a bad DSN fails the run
	// before any rows are read.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %v", err)
	}

	s := &IncidentStore{
		config: config,
		pool:   pool,
	}

	if err := s.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *IncidentStore) initialize(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			title VARCHAR(500),
			body TEXT,
			content TEXT,
			updated_at TIMESTAMPTZ
		)`, s.config.TableName)

	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	// The shipper polls for recently changed rows.
	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_updated_at_idx
		ON %s (updated_at)`,
		s.config.TableName, s.config.TableName)

	if _, err := s.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %v", err)
	}

	return nil
}

// Upsert writes each incident keyed on its id. Rows are written
// individually so a failing row is counted and skipped instead of
// aborting the batch; rerunning after an interrupt is safe because a
// second upsert of the same row is a no-op.
func (s *IncidentStore) Upsert(ctx context.Context, incidents []models.Incident) (int, int, error) {
	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, title, body, content, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			content = EXCLUDED.content,
			updated_at = EXCLUDED.updated_at`,
		s.config.TableName)

	ok := 0
	failed := 0

	for _, inc := range incidents {
		if err := ctx.Err(); err != nil {
			return ok, failed, err
		}

		_, err := s.pool.Exec(ctx, stmt,
			inc.ID,
			sanitizeUTF8(inc.Title),
			sanitizeUTF8(inc.Body),
			sanitizeUTF8(inc.Content),
			inc.UpdatedAt,
		)
		if err != nil {
			failed++
			if s.config.OnRowError != nil {
				s.config.OnRowError(inc.ID, err)
			}
			continue
		}
		ok++
	}

	return ok, failed, nil
}

func (s *IncidentStore) Count(ctx context.Context) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.config.TableName)
	if err := s.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows: %v", err)
	}
	return count, nil
}

func (s *IncidentStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
