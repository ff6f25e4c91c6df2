package modem

import (
	"sync"
)

type subscription struct {
	id int
	fn func(line string)
}

// urcListeners is the registry behind Subscribe.
type urcListeners struct {
	mu     sync.Mutex
	nextID int
	subs   []subscription
}

func (l *urcListeners) add(fn func(line string)) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	l.subs = append(l.subs, subscription{id: l.nextID, fn: fn})
	return l.nextID
}

func (l *urcListeners) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.subs {
		if s.id == id {
			l.subs = append(l.subs[:i], l.subs[i+1:]...)
			return
		}
	}
}

func (l *urcListeners) snapshot() []subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]subscription, len(l.subs))
	copy(out, l.subs)
	return out
}

// Subscribe registers fn to receive unsolicited lines: URCs and any line
// that arrives while no command is outstanding. Lines are delivered in
// arrival order on a single dispatcher goroutine, so fn may issue
// commands, but must not block for long. The returned function removes
// the subscription. Lines arriving while nobody is subscribed are dropped.
func (m *Modem) Subscribe(fn func(line string)) (cancel func()) {
	id := m.listeners.add(fn)
	var once sync.Once
	return func() {
		once.Do(func() { m.listeners.remove(id) })
	}
}

// publish queues a line for the dispatcher without ever blocking the Loop.
func (m *Modem) publish(line string) {
	select {
	case m.urcChan <- line:
	default:
		m.logger.Warn("URC buffer full, dropping", "line", line)
	}
}

// dispatch delivers queued lines to the subscribers until Close.
func (m *Modem) dispatch() {
	for {
		select {
		case <-m.done:
			return
		case line := <-m.urcChan:
			m.logger.Debug("URC", "line", line)
			for _, s := range m.listeners.snapshot() {
				m.deliver(s, line)
			}
		}
	}
}

// deliver isolates the dispatcher from misbehaving subscribers.
func (m *Modem) deliver(s subscription, line string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("URC subscriber panicked", "line", line, "panic", r)
		}
	}()
	s.fn(line)
}
