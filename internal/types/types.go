package types

import (
	"context"

	"github.com/ferd/sift/internal/models"
)

// Core interfaces
type Store interface {
	Upsert(ctx context.Context, incidents []models.Incident) (ok int, failed int, err error)
	Count(ctx context.Context) (int64, error)
	Close()
}

type Searcher interface {
	Search(ctx context.Context, query string, size int) ([]models.SearchHit, error)
	Info(ctx context.Context) (string, error)
}

type Generator interface {
	Answer(ctx context.Context, question string, hits []models.SearchHit) (string, error)
}
