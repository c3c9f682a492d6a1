package manager

// Event represents a manager lifecycle event.
// Minimal and stable: name + model name and optional fields via key/values.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// Event names published by the manager.
const (
	EventLoadStart     = "load_start"
	EventLoadReady     = "load_ready"
	EventLoadFailed    = "load_failed"
	EventEvicted       = "evicted"
	EventUnloadStart   = "unload_start"
	EventUnloadDone    = "unload_done"
	EventUnloadTimeout = "unload_timeout"
	EventCrashed       = "crashed"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
