// Package events defines the lifecycle event types the scheduler's control
// loop emits as tasks and workers move through their state machines, and the
// Publisher interface that fans them out to subscribers (the Redis
// implementation in redis_pubsub.go, consumed in turn by the websocket hub).
package events

import (
	"context"
	"encoding/json"
	"time"
)

// EventType names one kind of scheduler lifecycle event.
type EventType string

const (
	// Task events, one per state transition the scheduler's tick can drive.
	EventTaskCreated  EventType = "task.created"
	EventTaskQueued   EventType = "task.queued"
	EventTaskExecuted EventType = "task.executed"
	EventTaskFinished EventType = "task.finished"
	EventTaskKilled   EventType = "task.killed"

	// Worker pool events.
	EventWorkerSpawned EventType = "worker.spawned"
	EventWorkerPaused  EventType = "worker.paused"
	EventWorkerResumed EventType = "worker.resumed"
	EventWorkerReaped  EventType = "worker.reaped"

	// Deadlock mitigation.
	EventDeadlockDetected EventType = "deadlock.detected"
)

// Event is one lifecycle occurrence, timestamped at publish time and
// carrying a free-form data payload shaped by the TaskEventData/
// WorkerEventData helpers below.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new event.
func NewEvent(eventType EventType, data map[string]interface{}) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// ToJSON serializes the event to JSON.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an event from JSON.
func FromJSON(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Publisher defines the interface for event publishers. The scheduler does
// not use it (it emits through scheduler.EventSink); Subscribe/Close exist
// for the websocket hub and any other consumer of the full event stream.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error)
	Close() error
}

// TaskEventData creates event data for task lifecycle events. command and
// state mirror task.Command.Name and task.State.String() without importing
// the task package, keeping events dependency-free of the scheduler's core
// model.
func TaskEventData(ident, command, state string, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"ident":   ident,
		"command": command,
		"state":   state,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

// WorkerEventData creates event data for worker pool events.
func WorkerEventData(pid int, temporary bool, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"pid":       pid,
		"temporary": temporary,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}
