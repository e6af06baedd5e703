package service

import (
	"strconv"
	"sync"
)

// Event represents a resource mutation.
type Event struct {
	Resource string `json:"resource"` // "layers", "geodata", "features"
	Action   string `json:"action"`   // "created", "updated", "deleted", "imported"
	ID       string `json:"id"`
	LayerID  string `json:"layer_id,omitempty"`
}

const (
	ResourceLayers   = "layers"
	ResourceGeoData  = "geodata"
	ResourceFeatures = "features"

	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionDeleted  = "deleted"
	ActionImported = "imported"
)

func featureEvent(action string, id int64, layerID string) Event {
	return Event{Resource: ResourceFeatures, Action: action, ID: strconv.FormatInt(id, 10), LayerID: layerID}
}

// EventBus is a fan-out pub/sub for resource change events.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to all subscribers without blocking. A subscriber
// whose buffer is full misses the event.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; !ok {
		return
	}
	delete(b.subs, ch)
	close(ch)
}

func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
