package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Notifier publishes events without blocking the caller and without
// reporting delivery failures.
type Notifier interface {
	Publish(ctx context.Context, e Event)
}

// Transport delivers one event over one channel (WebSocket hub, MQTT,
// AMQP, Redis stream).  Send may block; the Dispatcher calls it from a
// dedicated goroutine per transport.
type Transport interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

const (
	defaultBuffer = 256
	sendTimeout   = 5 * time.Second
)

// Dispatcher queues events per transport.  Each transport has its own
// bounded lane and worker so a stalled broker never delays the hub or the
// publisher.  A full lane drops the event.
type Dispatcher struct {
	log    logrus.FieldLogger
	lanes  []*lane
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type lane struct {
	t  Transport
	ch chan Event
}

// NewDispatcher starts one worker per transport.  buffer <= 0 selects the
// default lane size.
func NewDispatcher(log logrus.FieldLogger, buffer int, transports ...Transport) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	d := &Dispatcher{log: log}
	for _, t := range transports {
		l := &lane{t: t, ch: make(chan Event, buffer)}
		d.lanes = append(d.lanes, l)
		d.wg.Add(1)
		go d.run(l)
	}
	return d
}

func (d *Dispatcher) run(l *lane) {
	defer d.wg.Done()
	for e := range l.ch {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := l.t.Send(ctx, e)
		cancel()
		if err != nil {
			d.log.WithFields(logrus.Fields{
				"transport":    l.t.Name(),
				"screening_id": e.ScreeningID,
			}).WithError(err).Warn("seat update not delivered")
		}
	}
}

// Publish enqueues e on every lane and returns immediately.
func (d *Dispatcher) Publish(_ context.Context, e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, l := range d.lanes {
		select {
		case l.ch <- e:
		default:
			d.log.WithFields(logrus.Fields{
				"transport":    l.t.Name(),
				"screening_id": e.ScreeningID,
			}).Warn("notify lane full, seat update dropped")
		}
	}
}

// Close stops accepting events and waits until queued ones were handed to
// their transports.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, l := range d.lanes {
		close(l.ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
