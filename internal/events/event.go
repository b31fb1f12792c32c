// Package events publishes and consumes item change events over Kafka.
//
// Data clients wrapped by the Notify decorator publish one ChangeEvent per
// successful create, update or delete. A Listener consumes the same topic so
// that other instances can react, for example by dropping cached items.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/data-repository-service/internal/observability"
)

// Operation is the kind of change an event describes.
type Operation string

// Change operations.
const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// IsValid checks if the operation is a known value.
func (o Operation) IsValid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// ChangeEvent describes a committed change to one item.
type ChangeEvent struct {
	EventID    string    `json:"event_id"`
	Source     string    `json:"source"`
	Collection string    `json:"collection"`
	Operation  Operation `json:"operation"`
	ItemID     string    `json:"item_id"`
	UserID     string    `json:"user_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Key returns the partitioning key: events for one item share a partition.
func (e ChangeEvent) Key() string {
	return e.Collection + "/" + e.ItemID
}

// Publisher delivers change events.
type Publisher interface {
	Publish(ctx context.Context, events ...ChangeEvent) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, ...ChangeEvent) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }

const defaultSource = "data-repository-service"

// EmitterConfig configures the Emitter with service context.
type EmitterConfig struct {
	// ServiceName identifies the source service.
	ServiceName string
}

// EmitParams contains the parameters for emitting an event.
type EmitParams struct {
	Collection string
	Operation  Operation
	ItemID     string
	// UserID is the scoping user of the write (optional).
	UserID *string
}

// Emitter builds change events enriched with service and request context.
type Emitter struct {
	config EmitterConfig
	now    func() time.Time
}

// NewEmitter creates a new Emitter with the given service configuration.
func NewEmitter(config EmitterConfig) *Emitter {
	if config.ServiceName == "" {
		config.ServiceName = defaultSource
	}
	return &Emitter{config: config, now: time.Now}
}

// Source returns the service name stamped on emitted events.
func (e *Emitter) Source() string {
	return e.config.ServiceName
}

// Emit creates a ChangeEvent from params. The request id is taken from ctx.
func (e *Emitter) Emit(ctx context.Context, params EmitParams) (ChangeEvent, error) {
	if params.Collection == "" {
		return ChangeEvent{}, fmt.Errorf("collection is required")
	}
	if params.ItemID == "" {
		return ChangeEvent{}, fmt.Errorf("item_id is required")
	}
	if !params.Operation.IsValid() {
		return ChangeEvent{}, fmt.Errorf("invalid operation %q", params.Operation)
	}

	ev := ChangeEvent{
		EventID:    uuid.NewString(),
		Source:     e.config.ServiceName,
		Collection: params.Collection,
		Operation:  params.Operation,
		ItemID:     params.ItemID,
		RequestID:  observability.RequestIDFromContext(ctx),
		OccurredAt: e.now().UTC(),
	}
	if params.UserID != nil {
		ev.UserID = *params.UserID
	}
	return ev, nil
}
