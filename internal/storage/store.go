package storage

import (
	"context"

	"gbmbkg/internal/model"
)

// Store catalogs finished fits by run id.
type Store interface {
	Init(ctx context.Context) error
	SaveFit(ctx context.Context, record model.FitRecord) error
	GetFit(ctx context.Context, runID string) (model.FitRecord, bool, error)
	// ListFits returns every record, newest first.
	ListFits(ctx context.Context) ([]model.FitRecord, error)
	DeleteFit(ctx context.Context, runID string) error
}
