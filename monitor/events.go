package monitor

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/ringchan"
	"github.com/srg/hrmon/profile"
)

// EventType names the three signals a monitor emits.
type EventType int

const (
	// EventConnected signals that the GATT link is established.
	EventConnected EventType = iota
	// EventDisconnected signals teardown, whether requested or caused by a link drop.
	EventDisconnected
	// EventData carries exactly one decoded reading.
	EventData
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventData:
		return "data-available"
	default:
		return "unknown"
	}
}

// Event is a single monitor signal. Reading is non-nil only for EventData.
type Event struct {
	Type    EventType
	Reading *profile.Reading
}

// EventCallback receives monitor events. Callbacks run on the monitor's
// dispatch path: they must return promptly and must not call back into the
// Monitor.
type EventCallback func(Event)

// eventRelay forwards monitor events to registered callbacks and to a
// drop-oldest channel view. It keeps no event state: no deduplication, no
// replay for late subscribers. Dispatch is serialized, so every callback
// observes events in publication order.
type eventRelay struct {
	dispatchMu sync.Mutex // serializes publish and close

	mu        sync.RWMutex
	callbacks map[string]EventCallback
	order     []string
	closed    bool

	events *ringchan.RingChannel[Event]
	logger *logrus.Logger
}

func newEventRelay(bufferSize int, logger *logrus.Logger) *eventRelay {
	return &eventRelay{
		callbacks: make(map[string]EventCallback),
		events:    ringchan.NewRingChannel[Event](bufferSize),
		logger:    logger,
	}
}

// subscribe registers cb and returns its removal token.
func (r *eventRelay) subscribe(cb EventCallback) string {
	token := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.logger.Debug("Subscription to a closed event relay will never fire")
		return token
	}

	r.callbacks[token] = cb
	r.order = append(r.order, token)
	return token
}

// unsubscribe removes the callback registered under token and reports
// whether the token was known.
func (r *eventRelay) unsubscribe(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.callbacks[token]; !ok {
		return false
	}
	delete(r.callbacks, token)
	for i, t := range r.order {
		if t == token {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// publish forwards ev to the channel view and to every callback in
// subscription order. Events published after close are dropped.
func (r *eventRelay) publish(ev Event) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	cbs := make([]EventCallback, 0, len(r.order))
	for _, token := range r.order {
		cbs = append(cbs, r.callbacks[token])
	}
	r.mu.RUnlock()

	r.events.ForceSend(ev)

	for _, cb := range cbs {
		cb(ev)
	}
}

// close stops delivery and closes the channel view. Idempotent.
func (r *eventRelay) close() {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.callbacks = make(map[string]EventCallback)
	r.order = nil
	r.events.Close()
}

// channel returns the drop-oldest view of the event stream.
func (r *eventRelay) channel() <-chan Event {
	return r.events.C()
}
