package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/flicky/storefront-api/internal/model"
)

// Invalidator records every invalidated cache key.
type Invalidator struct {
	mu   sync.Mutex
	keys []string
}

func (i *Invalidator) Invalidate(_ context.Context, paths ...string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.keys = append(i.keys, paths...)
}

func (i *Invalidator) Keys() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return slices.Clone(i.keys)
}

func (i *Invalidator) Has(key string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return slices.Contains(i.keys, key)
}

func (i *Invalidator) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.keys = nil
}

// MailQueue collects queued mail jobs. Err fails every Enqueue.
type MailQueue struct {
	mu   sync.Mutex
	jobs []model.MailJob
	Err  error
}

func (q *MailQueue) Enqueue(_ context.Context, job model.MailJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return q.Err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *MailQueue) Jobs() []model.MailJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.jobs)
}
