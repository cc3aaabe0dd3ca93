package ports

import (
	"context"
	"time"

	"github.com/99minutos/tracking-sync/internal/core/domain"
)

// RecordStore is the abstract keyed store for tracking records.
type RecordStore interface {
	// Get returns domain.ErrRecordNotFound for unknown pairs.
	Get(ctx context.Context, ref domain.RecordRef) (*domain.TrackingRecord, error)
	// Put writes rec if the stored version still equals rec.Version, then
	// increments rec.Version. A stale version yields domain.ErrMergeConflict;
	// Version 0 means insert-only.
	Put(ctx context.Context, rec *domain.TrackingRecord) error
	// ListActive returns records that still need scheduling: non-terminal, or
	// terminal after terminalSince.
	ListActive(ctx context.Context, terminalSince time.Time) ([]*domain.TrackingRecord, error)
	// FindByTrackingNumbers returns every stored record for the given numbers,
	// optionally restricted to one carrier.
	FindByTrackingNumbers(ctx context.Context, numbers []string, carrier domain.Carrier) ([]*domain.TrackingRecord, error)
}
