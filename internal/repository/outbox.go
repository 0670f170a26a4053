package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flicky/storefront-api/internal/outbox"
)

type OutboxRepository interface {
	// Enqueue records an event; it joins the transaction carried by ctx.
	Enqueue(ctx context.Context, event *outbox.Event) error
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string, maxRetries int) error
	DeleteSentBefore(ctx context.Context, before time.Time) (int64, error)
}

type pgOutboxRepo struct{ pool *pgxpool.Pool }

func NewOutboxRepository(pool *pgxpool.Pool) OutboxRepository {
	return &pgOutboxRepo{pool: pool}
}

func (r *pgOutboxRepo) Enqueue(ctx context.Context, event *outbox.Event) error {
	if event.Headers == nil {
		event.Headers = map[string]string{}
	}
	event.Status = outbox.StatusPending
	err := conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, status)
		 VALUES ($1, $2, $3, $4, $5, 'pending') RETURNING id, created_at`,
		event.AggregateType, event.AggregateID, event.Type, event.Payload, event.Headers,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}

// LockBatch claims pending events, plus in-progress ones whose lease ran out,
// for relayID.
func (r *pgOutboxRepo) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, type, payload, headers, retry_count, created_at
		FROM outbox
		WHERE status = 'pending'
		   OR (status = 'in_progress' AND lease_until < NOW())
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, batchSize)
	if err != nil {
		return nil, fmt.Errorf("select outbox batch: %w", err)
	}

	var events []outbox.Event
	for rows.Next() {
		var e outbox.Event
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.Type, &e.Payload, &e.Headers, &e.RetryCount, &e.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		e.Status = outbox.StatusInProgress
		events = append(events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select outbox batch: %w", err)
	}

	if len(events) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}

	_, err = tx.Exec(ctx,
		`UPDATE outbox SET status = 'in_progress', relay_id = $1, lease_until = NOW() + $2::interval
		 WHERE id = ANY($3)`,
		relayID, lease.String(), ids,
	)
	if err != nil {
		return nil, fmt.Errorf("lease outbox batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return events, nil
}

func (r *pgOutboxRepo) MarkSent(ctx context.Context, ids []int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE outbox SET status = 'sent', sent_at = NOW(), lease_until = NULL WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return fmt.Errorf("mark outbox sent: %w", err)
	}
	return nil
}

// MarkFailed returns the event to pending for another attempt until
// maxRetries is reached, after which it is parked as failed.
func (r *pgOutboxRepo) MarkFailed(ctx context.Context, id int64, errMsg string, maxRetries int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE outbox
		 SET retry_count = retry_count + 1,
		     last_error = $2,
		     lease_until = NULL,
		     status = CASE WHEN retry_count + 1 >= $3 THEN 'failed' ELSE 'pending' END
		 WHERE id = $1`,
		id, errMsg, maxRetries,
	)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

func (r *pgOutboxRepo) DeleteSentBefore(ctx context.Context, before time.Time) (int64, error) {
	ct, err := r.pool.Exec(ctx, `DELETE FROM outbox WHERE status = 'sent' AND sent_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return ct.RowsAffected(), nil
}
