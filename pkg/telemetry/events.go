package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencomply/opencomply/pkg/engine"
)

// Event represents an in-process event emitted by the reconciliation engine.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// Workspace is the workspace the event relates to, if applicable.
	Workspace string `json:"workspace,omitempty"`

	// RunID is the associated apply run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// ResourceType is the affected resource type, if applicable.
	ResourceType string `json:"resource_type,omitempty"`

	// Path is the affected config file path, if applicable.
	Path string `json:"path,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypePlanComputed     = "plan.computed"
	EventTypeApplyStarted     = "apply.started"
	EventTypeApplyCompleted   = "apply.completed"
	EventTypeApplyPartial     = "apply.partial"
	EventTypeFileUpdated      = "file.updated"
	EventTypeCacheInvalidated = "cache.invalidated"
	EventTypePolicyDenied     = "policy.denied"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans engine events out to in-process subscribers. It also
// implements engine.CacheInvalidator so cached resource projections learn
// about mutations through the same bus.
type EventPublisher struct {
	subscribers []subscriberEntry
	mu          sync.RWMutex
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher.
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		subscribers: make([]subscriberEntry, 0),
	}
}

// Publish delivers an event to all matching subscribers. Delivery is
// synchronous; subscribers must not block.
func (ep *EventPublisher) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Subscribe adds a new event subscriber. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// Invalidate implements engine.CacheInvalidator by publishing a cache
// invalidation event for the mutated (workspace, type) pair.
func (ep *EventPublisher) Invalidate(ctx context.Context, workspace string, t engine.ResourceType) {
	ep.Publish(Event{
		Type:         EventTypeCacheInvalidated,
		Source:       "applier",
		Workspace:    workspace,
		ResourceType: string(t),
		Message:      fmt.Sprintf("resources of type %s changed in workspace %s", t, workspace),
		Level:        EventLevelInfo,
	})
}

// PublishPlanComputed publishes a plan computed event.
func (ep *EventPublisher) PublishPlanComputed(workspace, path string, summary engine.PlanSummary) {
	ep.Publish(Event{
		Type:      EventTypePlanComputed,
		Source:    "planner",
		Workspace: workspace,
		Path:      path,
		Message:   fmt.Sprintf("plan for %s: %d to create, %d to update, %d to delete", path, summary.ToCreate, summary.ToUpdate, summary.ToDelete),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"to_create": summary.ToCreate,
			"to_update": summary.ToUpdate,
			"to_delete": summary.ToDelete,
		},
	})
}

// PublishApplyStarted publishes an apply started event. The run id does not
// exist yet at this point, so the event carries the file path instead.
func (ep *EventPublisher) PublishApplyStarted(workspace, path, actor string) {
	ep.Publish(Event{
		Type:      EventTypeApplyStarted,
		Source:    "applier",
		Workspace: workspace,
		Path:      path,
		Message:   fmt.Sprintf("apply of %s started by %s", path, actor),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"actor": actor,
		},
	})
}

// PublishApplyCompleted publishes an apply completed event. A partial apply
// (some operations failed) is published at warning level under its own type.
func (ep *EventPublisher) PublishApplyCompleted(workspace, runID string, result *engine.ApplyResult, duration time.Duration) {
	eventType := EventTypeApplyCompleted
	level := EventLevelInfo
	if len(result.Errors) > 0 {
		eventType = EventTypeApplyPartial
		level = EventLevelWarning
	}

	ep.Publish(Event{
		Type:      eventType,
		Source:    "applier",
		Workspace: workspace,
		RunID:     runID,
		Message:   fmt.Sprintf("apply %s finished: %d succeeded, %d failed", runID, result.Succeeded(), len(result.Errors)),
		Level:     level,
		Data: map[string]interface{}{
			"created":  result.Created,
			"updated":  result.Updated,
			"deleted":  result.Deleted,
			"failed":   len(result.Errors),
			"duration": duration.Seconds(),
		},
	})
}

// PublishFileUpdated publishes a config file persisted event.
func (ep *EventPublisher) PublishFileUpdated(workspace, path string, version int64) {
	ep.Publish(Event{
		Type:      EventTypeFileUpdated,
		Source:    "filestore",
		Workspace: workspace,
		Path:      path,
		Message:   fmt.Sprintf("config file %s saved at version %d", path, version),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"version": version,
		},
	})
}

// PublishPolicyDenied publishes a policy denial event.
func (ep *EventPublisher) PublishPolicyDenied(workspace, path, reason string) {
	ep.Publish(Event{
		Type:      EventTypePolicyDenied,
		Source:    "policy_engine",
		Workspace: workspace,
		Path:      path,
		Message:   fmt.Sprintf("apply of %s denied: %s", path, reason),
		Level:     EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level
// or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByWorkspace creates a filter that only allows events for a specific
// workspace.
func FilterByWorkspace(workspace string) EventFilter {
	return func(event Event) bool {
		return event.Workspace == workspace
	}
}
