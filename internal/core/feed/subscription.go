package feed

import "sync"

// Subscription is the handle returned by a subscribe call.
type Subscription struct {
	once   sync.Once
	cancel func()
	done   chan struct{}
}

// NewSubscription wraps a cancel function. cancel runs at most once.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel, done: make(chan struct{})}
}

// Cancel detaches the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		close(s.done)
	})
}

// Done is closed once the subscription has been cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Mailbox delivers events to a handler in order on its own goroutine. Push
// never blocks, so producers holding locks cannot deadlock against handlers.
type Mailbox struct {
	mu      sync.Mutex
	pending []Event
	signal  chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	closed  bool
}

// NewMailbox starts a mailbox that calls fn for every pushed event.
func NewMailbox(fn Handler) *Mailbox {
	m := &Mailbox{
		signal:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.run(fn)
	return m
}

// Push queues events for delivery. Events pushed after Close are dropped.
func (m *Mailbox) Push(events ...Event) {
	if len(events) == 0 {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.pending = append(m.pending, events...)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Close stops delivery. A handler call already running is not interrupted,
// but no further call starts.
func (m *Mailbox) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.pending = nil
	m.mu.Unlock()
	close(m.stop)
}

// Wait blocks until the delivery goroutine has exited.
func (m *Mailbox) Wait() {
	<-m.stopped
}

func (m *Mailbox) run(fn Handler) {
	defer close(m.stopped)
	for {
		select {
		case <-m.stop:
			return
		case <-m.signal:
		}

		for {
			m.mu.Lock()
			if m.closed || len(m.pending) == 0 {
				m.mu.Unlock()
				break
			}
			ev := m.pending[0]
			m.pending = m.pending[1:]
			m.mu.Unlock()

			fn(ev)
		}
	}
}
