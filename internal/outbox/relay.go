package outbox

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flicky/storefront-api/internal/tracing"
)

type Store interface {
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string, maxRetries int) error
}

type RelayConfig struct {
	RelayID    string
	BatchSize  int
	Interval   time.Duration
	Lease      time.Duration
	MaxRetries int
}

// Relay polls the outbox table and hands pending events to the dispatcher.
// Several relays may run at once; rows are leased to one relay at a time.
type Relay struct {
	log      *slog.Logger
	store    Store
	dispatch *Dispatcher
	cfg      RelayConfig
	tracer   trace.Tracer
}

func NewRelay(log *slog.Logger, store Store, dispatch *Dispatcher, cfg RelayConfig) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	return &Relay{log: log, store: store, dispatch: dispatch, cfg: cfg, tracer: tracing.Tracer()}
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()

	r.log.Info("outbox relay started", "relay_id", r.cfg.RelayID)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopping", "relay_id", r.cfg.RelayID)
			return nil
		case <-t.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.Error("outbox relay batch failed", "error", err)
			}
		}
	}
}

// RunOnce processes a single batch and returns how many events were sent.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.LockBatch(ctx, r.cfg.RelayID, r.cfg.BatchSize, r.cfg.Lease)
	if err != nil {
		return 0, err
	}

	ids := make([]int64, 0, len(events))
	for _, e := range events {
		if err := r.send(ctx, e); err != nil {
			if markErr := r.store.MarkFailed(ctx, e.ID, err.Error(), r.cfg.MaxRetries); markErr != nil {
				r.log.Error("outbox mark failed", "event_id", e.ID, "error", markErr)
			}
			continue
		}
		ids = append(ids, e.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := r.store.MarkSent(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (r *Relay) send(ctx context.Context, e Event) error {
	ctx = tracing.ContextFromHeaders(ctx, e.Headers)
	ctx, span := r.tracer.Start(ctx, "outbox.dispatch",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("event.type", e.Type),
			attribute.Int64("event.id", e.ID),
		))
	defer span.End()

	if err := r.dispatch.Dispatch(ctx, e); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		return err
	}
	return nil
}
