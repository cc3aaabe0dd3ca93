package queue

import (
	"context"
	"hash/fnv"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/pkg/metrics"
)

const (
	defaultWorkers = 4
	channelBuffer  = 64
)

// PollFunc processes one due record. It owns reporting the outcome.
type PollFunc func(ctx context.Context, ref domain.RecordRef)

// LaneConfig sizes one carrier lane.
type LaneConfig struct {
	Workers int
	Buffer  int
}

type lane struct {
	carrier domain.Carrier
	workers []chan domain.RecordRef
}

// Lanes is one worker pool per carrier. Inside a lane, refs are sharded by
// tracking number so a record is never handled by two local workers at once.
// A slow carrier only fills its own lane.
type Lanes struct {
	lanes map[domain.Carrier]*lane
	poll  PollFunc
	log   zerolog.Logger
}

// NewLanes creates a lane per configured carrier. Zero sizes use defaults.
func NewLanes(cfg map[domain.Carrier]LaneConfig, poll PollFunc, log zerolog.Logger) *Lanes {
	l := &Lanes{
		lanes: make(map[domain.Carrier]*lane, len(cfg)),
		poll:  poll,
		log:   log.With().Str("component", "lanes").Logger(),
	}
	for carrier, c := range cfg {
		workers, buffer := c.Workers, c.Buffer
		if workers <= 0 {
			workers = defaultWorkers
		}
		if buffer <= 0 {
			buffer = channelBuffer
		}
		ln := &lane{carrier: carrier, workers: make([]chan domain.RecordRef, workers)}
		for i := range ln.workers {
			ln.workers[i] = make(chan domain.RecordRef, buffer)
		}
		l.lanes[carrier] = ln
	}
	return l
}

// Run starts every worker and blocks until ctx is cancelled and all workers
// have returned.
func (l *Lanes) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, ln := range l.lanes {
		for i, ch := range ln.workers {
			g.Go(func() error {
				l.runWorker(ctx, ln.carrier, i, ch)
				return nil
			})
		}
	}
	return g.Wait()
}

// Enqueue hands ref to its carrier lane without blocking. It returns false
// when the carrier has no lane or the worker's buffer is full.
func (l *Lanes) Enqueue(ref domain.RecordRef) bool {
	ln, ok := l.lanes[ref.Carrier]
	if !ok {
		return false
	}
	select {
	case ln.workers[shardIndex(ref.TrackingNumber, len(ln.workers))] <- ref:
		metrics.LaneQueueDepth.WithLabelValues(string(ref.Carrier)).Inc()
		return true
	default:
		l.log.Warn().Str("carrier", string(ref.Carrier)).Str("ref", ref.Key()).Msg("lane full, poll deferred")
		return false
	}
}

// shardIndex maps a tracking number deterministically to a worker index.
func shardIndex(trackingNumber string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(trackingNumber))
	return int(h.Sum32() % uint32(n))
}

func (l *Lanes) runWorker(ctx context.Context, carrier domain.Carrier, id int, ch <-chan domain.RecordRef) {
	log := l.log.With().Str("carrier", string(carrier)).Str("worker_id", strconv.Itoa(id)).Logger()
	log.Debug().Msg("lane worker started")
	for {
		select {
		case <-ctx.Done():
			return
		case ref := <-ch:
			metrics.LaneQueueDepth.WithLabelValues(string(carrier)).Dec()
			l.poll(ctx, ref)
		}
	}
}
