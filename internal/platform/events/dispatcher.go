// Package events provides in-process event dispatch between domain services.
// Publishers emit typed events after state changes commit; subscribers react
// synchronously, and subscriber failures are logged rather than propagated so
// a broken projection never rolls back a clinical action.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types published by the visit lifecycle.
const (
	TypeConsultationCompleted = "consultation.completed"
	TypeVisitCancelled        = "visit.cancelled"
	TypePrescriptionIssued    = "prescription.issued"
)

// Event is a single occurrence delivered to subscribers.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	BranchID  string          `json:"branch_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler reacts to a published event. Returned errors are logged by the
// dispatcher and do not stop delivery to other subscribers.
type Handler func(ctx context.Context, evt Event) error

// Dispatcher routes published events to subscribers by event type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
}

func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for the given event type. Handlers are
// invoked in registration order.
func (d *Dispatcher) Subscribe(eventType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], h)
}

// Publish builds an event from the payload and delivers it synchronously to
// every subscriber of the type. Delivery continues past handler errors; the
// count of failed handlers is returned for observability only.
func (d *Dispatcher) Publish(ctx context.Context, eventType, branchID string, payload interface{}) int {
	data, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error().Err(err).Str("event_type", eventType).Msg("marshal event payload")
		return 0
	}

	evt := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		BranchID:  branchID,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}

	d.mu.RLock()
	subs := make([]Handler, len(d.handlers[eventType]))
	copy(subs, d.handlers[eventType])
	d.mu.RUnlock()

	failed := 0
	for _, h := range subs {
		if err := h(ctx, evt); err != nil {
			failed++
			d.logger.Error().
				Err(err).
				Str("event_id", evt.ID).
				Str("event_type", eventType).
				Msg("event handler failed")
		}
	}

	return failed
}

// SubscriberCount reports how many handlers are registered for a type.
func (d *Dispatcher) SubscriberCount(eventType string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType])
}
