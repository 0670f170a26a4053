// Package service holds the business operations behind the HTTP handlers.
package service

import (
	"context"

	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/outbox"
)

// CacheInvalidator drops cached read responses for the given paths.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, paths ...string)
}

// EventRecorder stores an integration event in the transaction carried by ctx.
type EventRecorder interface {
	Enqueue(ctx context.Context, event *outbox.Event) error
}

type MailQueue interface {
	Enqueue(ctx context.Context, job model.MailJob) error
}

type TokenIssuer interface {
	Issue(user *model.User) (string, error)
}
