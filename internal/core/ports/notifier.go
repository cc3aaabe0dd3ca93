package ports

import (
	"context"

	"github.com/99minutos/tracking-sync/internal/core/domain"
)

// TriggerSink accepts notification triggers without blocking the caller.
type TriggerSink interface {
	Emit(trigger domain.NotificationTrigger)
}

// TriggerHandler delivers a trigger to one downstream consumer (stream,
// audit log, ...).
type TriggerHandler interface {
	Name() string
	Handle(ctx context.Context, trigger domain.NotificationTrigger) error
}
