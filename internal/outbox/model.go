package outbox

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

const (
	AggregateOrder  = "order"
	TypeOrderPlaced = "order.placed"
	HeaderEventType = "event_type"
	HeaderEventID   = "event_id"
)

// Event is a row of the outbox table. Headers carry W3C trace context
// captured when the event was recorded.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Status        Status
	RetryCount    int
	LastError     *string
	CreatedAt     time.Time
}
