package network

import (
	"log/slog"
	"sync"
	"time"
)

// listeners is a registry of callbacks invoked in registration order. A
// panicking listener is logged and does not affect the others.
type listeners[T any] struct {
	mu     sync.Mutex
	nextID int
	fns    []listener[T]
	logger *slog.Logger
}

type listener[T any] struct {
	id int
	fn func(T)
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.fns = append(l.fns, listener[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, f := range l.fns {
				if f.id == id {
					l.fns = append(l.fns[:i], l.fns[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	fns := make([]listener[T], len(l.fns))
	copy(fns, l.fns)
	l.mu.Unlock()

	for _, f := range fns {
		l.call(f.fn, v)
	}
}

func (l *listeners[T]) call(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil && l.logger != nil {
			l.logger.Error("listener panicked", "panic", r)
		}
	}()
	fn(v)
}

// handleUnsolicited runs on the channel's dispatcher goroutine. It never
// blocks on the modem: reactivation happens in the background.
func (n *Network) handleUnsolicited(line string) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("unsolicited handler panicked", "line", line, "panic", r)
		}
	}()

	u := n.commands.ParseUnsolicited(line)
	switch u.Kind {
	case UnsolicitedDeactivated:
		n.deactivated()
	case UnsolicitedActivated:
		n.activated()
	case UnsolicitedTime:
		n.logger.Debug("network time", "time", u.Time)
		n.dateTimes.emit(u.Time)
	}
}

// deactivated handles the network dropping the data context. While a
// bring-up is running it owns the state and the line is ignored.
func (n *Network) deactivated() {
	n.mu.Lock()
	if n.state != Connected {
		n.mu.Unlock()
		return
	}
	n.setStateLocked(Disconnected)
	reactivate := n.autoReconnect && n.wanted && !n.closed
	if reactivate {
		n.background.Add(1)
	}
	n.mu.Unlock()

	n.logger.Warn("data connection lost", "auto_reconnect", reactivate)
	n.changes.emit(NetworkEvent{Connected: false})

	if reactivate {
		go func() {
			defer n.background.Done()
			n.reactivations.Do("reactivate", func() (any, error) {
				n.reactivate()
				return nil, nil
			})
		}()
	}
}

// activated handles the modem announcing an active data context while the
// Network considered itself disconnected.
func (n *Network) activated() {
	n.mu.Lock()
	if n.state != Disconnected {
		n.mu.Unlock()
		return
	}
	changed := n.setStateLocked(Connecting) && n.setStateLocked(Connected)
	n.mu.Unlock()

	if changed {
		n.changes.emit(NetworkEvent{Connected: true})
	}
}

// reactivate issues the single reactivation command of the model.
func (n *Network) reactivate() {
	n.opMu.Lock()
	defer n.opMu.Unlock()

	n.mu.Lock()
	if n.state != Disconnected || !n.wanted || !n.autoReconnect || n.closed {
		n.mu.Unlock()
		return
	}
	n.setStateLocked(Connecting)
	n.mu.Unlock()

	c := n.commands.Reactivate()
	start := time.Now()
	err := n.send(n.ctx, c)

	n.mu.Lock()
	var changed bool
	if err != nil {
		n.setStateLocked(Disconnected)
	} else {
		changed = n.setStateLocked(Connected)
	}
	n.mu.Unlock()

	if err != nil {
		n.logger.Warn("reactivation failed", "cmd", c.Text, "error", err)
		return
	}
	n.logger.Info("reactivated", "cmd", c.Text, "took", time.Since(start))
	if changed {
		n.changes.emit(NetworkEvent{Connected: true})
	}
}
