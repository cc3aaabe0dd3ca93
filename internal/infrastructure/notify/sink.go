// Package notify hands notification triggers from the sync pipeline to the
// downstream handlers without blocking polls.
package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
	"github.com/99minutos/tracking-sync/internal/pkg/metrics"
)

const (
	defaultBuffer         = 256
	defaultWorkers        = 2
	defaultHandlerTimeout = 10 * time.Second
)

// Config sizes the sink.
type Config struct {
	Buffer         int
	Workers        int
	HandlerTimeout time.Duration
}

// Sink is a buffered ports.TriggerSink. Emit never blocks: when the buffer
// is full the trigger is dropped and counted.
type Sink struct {
	ch       chan domain.NotificationTrigger
	handlers []ports.TriggerHandler
	workers  int
	timeout  time.Duration
	log      zerolog.Logger
}

var _ ports.TriggerSink = (*Sink)(nil)

// New returns a sink delivering to handlers. Call Run to start delivery.
func New(cfg Config, handlers []ports.TriggerHandler, log zerolog.Logger) *Sink {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaultHandlerTimeout
	}
	return &Sink{
		ch:       make(chan domain.NotificationTrigger, cfg.Buffer),
		handlers: handlers,
		workers:  cfg.Workers,
		timeout:  cfg.HandlerTimeout,
		log:      log.With().Str("component", "trigger_sink").Logger(),
	}
}

// Emit queues trigger for delivery.
func (s *Sink) Emit(trigger domain.NotificationTrigger) {
	select {
	case s.ch <- trigger:
	default:
		metrics.TriggerDeliveriesTotal.WithLabelValues("sink", "dropped").Inc()
		s.log.Error().
			Str("trigger_id", trigger.ID).
			Str("ref", trigger.Ref.Key()).
			Msg("trigger buffer full, trigger dropped")
	}
}

// Pending returns the number of queued triggers.
func (s *Sink) Pending() int { return len(s.ch) }

// Run delivers queued triggers until ctx is cancelled. Triggers still queued
// at shutdown are drained with a bounded deadline.
func (s *Sink) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			s.runWorker(gctx, i)
			return nil
		})
	}
	err := g.Wait()
	s.drain()
	return err
}

func (s *Sink) runWorker(ctx context.Context, id int) {
	log := s.log.With().Str("worker_id", strconv.Itoa(id)).Logger()
	log.Debug().Msg("trigger worker started")
	for {
		select {
		case <-ctx.Done():
			return
		case trigger := <-s.ch:
			s.deliver(ctx, trigger)
		}
	}
}

func (s *Sink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	for {
		select {
		case trigger := <-s.ch:
			s.deliver(ctx, trigger)
		default:
			return
		}
	}
}

// deliver hands trigger to every handler. A failing handler does not stop
// the others.
func (s *Sink) deliver(ctx context.Context, trigger domain.NotificationTrigger) {
	for _, h := range s.handlers {
		hctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := h.Handle(hctx, trigger)
		cancel()

		if err != nil {
			metrics.TriggerDeliveriesTotal.WithLabelValues(h.Name(), "error").Inc()
			s.log.Error().Err(err).
				Str("handler", h.Name()).
				Str("trigger_id", trigger.ID).
				Str("ref", trigger.Ref.Key()).
				Msg("trigger delivery failed")
			continue
		}
		metrics.TriggerDeliveriesTotal.WithLabelValues(h.Name(), "ok").Inc()
	}
}

// LogHandler writes triggers to the log. It is the fallback handler when no
// transport is configured.
type LogHandler struct {
	log zerolog.Logger
}

func NewLogHandler(log zerolog.Logger) *LogHandler {
	return &LogHandler{log: log.With().Str("component", "trigger_log").Logger()}
}

func (h *LogHandler) Name() string { return "log" }

// Handle logs trigger at info level.
func (h *LogHandler) Handle(_ context.Context, trigger domain.NotificationTrigger) error {
	reasons := make([]string, len(trigger.Reasons))
	for i, r := range trigger.Reasons {
		reasons[i] = string(r)
	}
	h.log.Info().
		Str("trigger_id", trigger.ID).
		Str("ref", trigger.Ref.Key()).
		Str("old_status", string(trigger.OldStatus)).
		Str("new_status", string(trigger.NewStatus)).
		Strs("reasons", reasons).
		Msg("notification trigger")
	return nil
}
