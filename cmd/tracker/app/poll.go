package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/pkg/config"
	"github.com/99minutos/tracking-sync/pkg/logger"
)

func newPollCmd() *cobra.Command {
	var carrierName string
	cmd := &cobra.Command{
		Use:   "poll <tracking-number>",
		Short: "Poll one tracking number once and print the stored record",
		Long: `Run a single sync for one tracking number against the configured store,
outside the scheduler. The carrier is detected from the number format unless
--carrier is given. Logs go to stderr; the record is printed as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoll(cmd.Context(), args[0], carrierName)
		},
	}
	cmd.Flags().StringVar(&carrierName, "carrier", "", "Carrier (fedex, ups, dhl, usps, canada-post, purolator)")
	return cmd
}

func runPoll(ctx context.Context, trackingNumber, carrierName string) error {
	cfg := config.Load()
	log := logger.Init(logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Output: os.Stderr})

	ref, err := pollRef(trackingNumber, carrierName)
	if err != nil {
		return err
	}

	c, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.close(context.Background(), log)

	sinkCtx, stopSink := context.WithCancel(context.Background())
	sinkDone := make(chan error, 1)
	go func() { sinkDone <- c.sink.Run(sinkCtx) }()
	defer func() {
		stopSink()
		<-sinkDone
	}()

	if err := c.sched.Acquire(ref.Carrier, time.Now().UTC()); err != nil {
		return err
	}
	out, err := c.syncer.Sync(ctx, ref, nil)
	if err != nil {
		return fmt.Errorf("poll %s: %w", ref, err)
	}

	pollLog := logger.Component("poll")
	pollLog.Info().
		Str("ref", ref.Key()).
		Bool("created", out.Created).
		Int("events_added", len(out.Merge.Added)).
		Bool("triggered", out.Trigger != nil).
		Msg("poll complete")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out.Record)
}

func pollRef(trackingNumber, carrierName string) (domain.RecordRef, error) {
	tn := domain.NormalizeTrackingNumber(trackingNumber)
	var (
		c   domain.Carrier
		err error
	)
	if carrierName == "" {
		c, err = domain.DetectCarrier(tn)
	} else {
		c, err = domain.ParseCarrier(carrierName)
	}
	if err != nil {
		return domain.RecordRef{}, fmt.Errorf("%q: %w", trackingNumber, err)
	}
	ref := domain.RecordRef{TrackingNumber: tn, Carrier: c}
	return ref, ref.Validate()
}
