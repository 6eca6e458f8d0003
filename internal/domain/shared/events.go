// Package shared contains common domain types, errors and events
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Notification event types. The names are the ones downstream automations
// already subscribe to, so they must not change.
const (
	EventNewDidactics       EventType = "classeviva_new_didactics"
	EventNewNoticeboard     EventType = "classeviva_new_noticeboard"
	EventNewAgenda          EventType = "classeviva_new_agenda"
	EventStudentAgendaEvent EventType = "classeviva_student_agenda_event"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	// For notifications this is the account name.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped with the current time.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return NewBaseEventAt(eventType, aggregateID, time.Now())
}

// NewBaseEventAt creates a new base event stamped with at.
func NewBaseEventAt(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Notification Events
// ═══════════════════════════════════════════════════════════════════════════

// NewDidacticsEvent is emitted for a didactics item not seen in the previous cycle.
type NewDidacticsEvent struct {
	BaseEvent
	Teacher   string `json:"teacher"`
	Folder    string `json:"folder"`
	ItemName  string `json:"item_name"`
	ShareDate string `json:"share_date"`
}

// Payload implements Event interface.
func (e NewDidacticsEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"teacher":    e.Teacher,
		"folder":     e.Folder,
		"item_name":  e.ItemName,
		"share_date": e.ShareDate,
	}
}

// NewNoticeboardEvent is emitted for a notice not seen in the previous cycle.
type NewNoticeboardEvent struct {
	BaseEvent
	Title     string `json:"title"`
	Author    string `json:"author"`
	Category  string `json:"category"`
	BeginDate string `json:"begin_date"`
}

// Payload implements Event interface.
func (e NewNoticeboardEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"title":      e.Title,
		"author":     e.Author,
		"category":   e.Category,
		"begin_date": e.BeginDate,
	}
}

// AgendaEventNotification is the payload shared by the generic new-agenda
// notification and the student-relevant one. Type tells them apart.
type AgendaEventNotification struct {
	BaseEvent
	Notes   string `json:"notes"`
	Author  string `json:"author"`
	Subject string `json:"subject"`
	Begin   string `json:"begin"`
	End     string `json:"end"`
}

// Payload implements Event interface.
func (e AgendaEventNotification) Payload() map[string]interface{} {
	return map[string]interface{}{
		"notes":   e.Notes,
		"author":  e.Author,
		"subject": e.Subject,
		"begin":   e.Begin,
		"end":     e.End,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
