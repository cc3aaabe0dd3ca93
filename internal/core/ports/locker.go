package ports

import (
	"context"

	"github.com/99minutos/tracking-sync/internal/core/domain"
)

// Locker hands out per-record exclusion tokens. TryAcquire never waits: a
// busy record reports ok=false. The returned release func is idempotent.
type Locker interface {
	TryAcquire(ctx context.Context, ref domain.RecordRef) (release func(), ok bool, err error)
}
