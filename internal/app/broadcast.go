package app

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/channel"
	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/notification"
)

// SessionUpdate is the payload pushed to status observers: the session
// snapshot, the pairing code while one is awaiting confirmation, and the
// last pairing error surfaced to the operator.
type SessionUpdate struct {
	Session     channel.Session             `json:"session"`
	PairingCode string                      `json:"pairingCode,omitempty"`
	LastError   *notification.DispatchError `json:"lastError,omitempty"`
}

const subscriberBuffer = 8

// StatusBroadcaster fans session-state changes out to any number of
// concurrent observers. A new observer immediately receives the current
// snapshot; later transitions are delivered in order, at most once each.
// There is no replay: a slow observer misses intermediate transitions and
// only ever converges on current state.
type StatusBroadcaster struct {
	log *logrus.Entry

	mu      sync.Mutex
	current SessionUpdate
	subs    map[uint64]chan SessionUpdate
	nextID  uint64
}

func NewStatusBroadcaster(log *logrus.Entry) *StatusBroadcaster {
	return &StatusBroadcaster{
		log: log,
		current: SessionUpdate{
			Session: channel.Session{Status: channel.StatusDisconnected},
		},
		subs: make(map[uint64]chan SessionUpdate),
	}
}

// Subscribe registers an observer. The returned channel carries the current
// snapshot first, then every subsequent transition. The cancel func must be
// called when the observer goes away; it closes the channel.
func (b *StatusBroadcaster) Subscribe() (<-chan SessionUpdate, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan SessionUpdate, subscriberBuffer)
	ch <- b.current
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish replaces the current snapshot and pushes it to all subscribers.
// Sends never block: an observer whose buffer is full loses the update.
func (b *StatusBroadcaster) Publish(update SessionUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = update
	for id, sub := range b.subs {
		select {
		case sub <- update:
		default:
			b.log.WithFields(logrus.Fields{
				"subscriber": id,
				"status":     string(update.Session.Status),
			}).Debug("Dropped status update for slow subscriber")
		}
	}
}

// Current returns the latest published snapshot.
func (b *StatusBroadcaster) Current() SessionUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}
