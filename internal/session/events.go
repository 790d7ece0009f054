package session

import "sync"

// Event is delivered to a session's Observer.
type Event interface {
	event()
}

// Connected fires after the broker handshake and room subscription, both on
// the first connect and after every reconnect.
type Connected struct{}

// Disconnected fires when the connection ends. Err is nil for a
// caller-requested disconnect and the transport error otherwise.
type Disconnected struct {
	Err error
}

// MessageReceived carries one inbound message. When decryption failed, Err
// is set and Payload holds a diagnostic placeholder instead of plaintext.
type MessageReceived struct {
	Topic   string
	Payload []byte
	Err     error
}

// MessagePublished echoes the plaintext of an outbound message.
type MessagePublished struct {
	Topic   string
	Payload []byte
}

func (Connected) event()        {}
func (Disconnected) event()     {}
func (MessageReceived) event()  {}
func (MessagePublished) event() {}

// Observer receives session events. Calls come from a session-owned
// goroutine, one at a time and in emission order; an Observer that touches
// UI state must marshal onto its own thread.
type Observer func(Event)

// dispatcher queues events without blocking the emitter and delivers them
// sequentially from a single goroutine.
type dispatcher struct {
	obs Observer

	mu     sync.Mutex
	queue  []Event
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newDispatcher(obs Observer) *dispatcher {
	d := &dispatcher{
		obs:  obs,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) emit(ev Event) {
	if d.obs == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for range d.wake {
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				closed := d.closed
				d.mu.Unlock()
				if closed {
					return
				}
				break
			}
			ev := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()
			if d.obs != nil {
				d.obs(ev)
			}
		}
	}
}

// close delivers what is already queued, then stops. Must not be called
// from inside the Observer.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}
