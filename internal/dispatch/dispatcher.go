// Package dispatch provides the topic-scoped fan-out used for inbound
// envelopes, store change notifications, session state listeners and the
// local command bus.
package dispatch

import (
	"sync"
)

// Unsubscribe removes a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

type subscription[V any] struct {
	handler func(V)
}

type wildcard[K comparable, V any] struct {
	handler func(K, V)
}

// Dispatcher delivers values published on a topic to every handler
// subscribed to that topic, in subscription order, synchronously.
//
// Subscriber lists are copy-on-write: Publish works on a snapshot taken
// under a read lock, so handlers may subscribe or unsubscribe (themselves
// included) while a publish is in flight. Such changes take effect from
// the next Publish.
type Dispatcher[K comparable, V any] struct {
	mu        sync.RWMutex
	topics    map[K][]*subscription[V]
	wildcards []*wildcard[K, V]
	closed    bool

	onPanic func(topic K, recovered any)
}

// New creates an empty Dispatcher.
func New[K comparable, V any]() *Dispatcher[K, V] {
	return &Dispatcher[K, V]{
		topics: make(map[K][]*subscription[V]),
	}
}

// SetPanicHandler sets the callback invoked when a handler panics.
// Delivery to the remaining handlers continues either way.
func (d *Dispatcher[K, V]) SetPanicHandler(fn func(topic K, recovered any)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onPanic = fn
}

// Subscribe registers handler for topic. After Close it returns a no-op
// Unsubscribe and the handler is never called.
func (d *Dispatcher[K, V]) Subscribe(topic K, handler func(V)) Unsubscribe {
	if handler == nil {
		return func() {}
	}

	sub := &subscription[V]{handler: handler}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return func() {}
	}
	current := d.topics[topic]
	next := make([]*subscription[V], len(current), len(current)+1)
	copy(next, current)
	d.topics[topic] = append(next, sub)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(topic, sub) })
	}
}

// SubscribeAll registers handler for every topic. Wildcard handlers run
// after the topic's own handlers.
func (d *Dispatcher[K, V]) SubscribeAll(handler func(K, V)) Unsubscribe {
	if handler == nil {
		return func() {}
	}

	w := &wildcard[K, V]{handler: handler}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return func() {}
	}
	next := make([]*wildcard[K, V], len(d.wildcards), len(d.wildcards)+1)
	copy(next, d.wildcards)
	d.wildcards = append(next, w)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			kept := make([]*wildcard[K, V], 0, len(d.wildcards))
			for _, existing := range d.wildcards {
				if existing != w {
					kept = append(kept, existing)
				}
			}
			d.wildcards = kept
		})
	}
}

func (d *Dispatcher[K, V]) remove(topic K, sub *subscription[V]) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.topics[topic]
	kept := make([]*subscription[V], 0, len(current))
	for _, existing := range current {
		if existing != sub {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		delete(d.topics, topic)
		return
	}
	d.topics[topic] = kept
}

// Publish delivers value to the handlers of topic and then to wildcard
// handlers. It returns the number of handlers invoked. A panicking
// handler is recovered and reported; it never stops delivery.
func (d *Dispatcher[K, V]) Publish(topic K, value V) int {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return 0
	}
	subs := d.topics[topic]
	wildcards := d.wildcards
	onPanic := d.onPanic
	d.mu.RUnlock()

	for _, sub := range subs {
		d.invoke(topic, onPanic, func() { sub.handler(value) })
	}
	for _, w := range wildcards {
		d.invoke(topic, onPanic, func() { w.handler(topic, value) })
	}
	return len(subs) + len(wildcards)
}

func (d *Dispatcher[K, V]) invoke(topic K, onPanic func(K, any), call func()) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(topic, r)
		}
	}()
	call()
}

// Count returns the number of handlers subscribed to topic.
func (d *Dispatcher[K, V]) Count(topic K) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.topics[topic])
}

// Topics returns the topics that currently have subscribers.
func (d *Dispatcher[K, V]) Topics() []K {
	d.mu.RLock()
	defer d.mu.RUnlock()

	topics := make([]K, 0, len(d.topics))
	for topic := range d.topics {
		topics = append(topics, topic)
	}
	return topics
}

// Close drops every subscription. Later calls to Publish deliver nothing.
func (d *Dispatcher[K, V]) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.topics = make(map[K][]*subscription[V])
	d.wildcards = nil
}
