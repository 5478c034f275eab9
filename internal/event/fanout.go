package event

import "sync"

// Fanout delivers one event stream to any number of subscribers.
//
// Each subscriber drains from its own growable queue in its own goroutine,
// so Publish never blocks and a stalled subscriber cannot delay another.
// Events arrive at every subscriber in publish order.
type Fanout struct {
	mu     sync.Mutex
	subs   []*Subscription
	closed bool
}

// NewFanout creates an empty fanout.
func NewFanout() *Fanout {
	return &Fanout{}
}

// Subscribe registers a new subscriber. Subscribing after Close returns a
// subscription whose channel is already closed.
func (f *Fanout) Subscribe() *Subscription {
	s := &Subscription{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}

	f.mu.Lock()
	if f.closed {
		s.closed = true
	} else {
		f.subs = append(f.subs, s)
	}
	f.mu.Unlock()

	go s.run()
	return s
}

// Publish queues ev for every live subscriber. No-op after Close.
func (f *Fanout) Publish(ev Event) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	subs := f.subs
	f.mu.Unlock()

	for _, s := range subs {
		s.push(ev)
	}
}

// Close marks the stream finished. Subscribers still receive everything
// already queued, then their channels close.
func (f *Fanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()

	for _, s := range subs {
		s.finish()
	}
}

// Subscription is one subscriber's view of the stream.
type Subscription struct {
	mu       sync.Mutex
	queue    []Event
	closed   bool // no more pushes coming
	canceled bool

	wake chan struct{}
	out  chan Event
	done chan struct{}

	cancelOnce sync.Once
}

// Events returns the subscriber's delivery channel. It closes after the
// stream closes and every queued event has been delivered, or immediately
// after Cancel.
func (s *Subscription) Events() <-chan Event {
	return s.out
}

// Cancel detaches the subscription. Idempotent; undelivered events are
// discarded and the channel closes promptly.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() {
		s.mu.Lock()
		s.canceled = true
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed || s.canceled {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) finish() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			if s.closed || s.canceled {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			select {
			case <-s.wake:
			case <-s.done:
				return
			}
			continue
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
