package raknet

import (
	"context"
	"net"
	"sync"
)

type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventPacket
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "Connected"
	case EventDisconnected:
		return "Disconnected"
	case EventPacket:
		return "Packet"
	case EventError:
		return "Error"
	}
	return "Unknown"
}

type DisconnectReason int

const (
	// ReasonDisconnect means either side closed the connection on purpose.
	ReasonDisconnect DisconnectReason = iota
	// ReasonTimeout means nothing was heard from the peer for too long.
	ReasonTimeout
)

func (r DisconnectReason) String() string {
	if r == ReasonTimeout {
		return "timeout"
	}
	return "disconnect"
}

// Event is what a Server or Client reports to the application. Which fields
// are set depends on Type.
type Event struct {
	Type   EventType
	Addr   net.Addr
	GUID   uint64
	Reason DisconnectReason
	Data   []byte
	Err    error
}

// Handler consumes events pushed by Server.Serve or Client.Serve.
type Handler interface {
	OnConnect(addr net.Addr, guid uint64)
	OnDisconnect(addr net.Addr, guid uint64, reason DisconnectReason)
	OnMessage(addr net.Addr, guid uint64, data []byte)
	OnError(addr net.Addr, err error)
}

// Dispatch calls h for every event, in order.
func Dispatch(h Handler, events []Event) {
	for _, ev := range events {
		switch ev.Type {
		case EventConnected:
			h.OnConnect(ev.Addr, ev.GUID)
		case EventDisconnected:
			h.OnDisconnect(ev.Addr, ev.GUID, ev.Reason)
		case EventPacket:
			h.OnMessage(ev.Addr, ev.GUID, ev.Data)
		case EventError:
			h.OnError(ev.Addr, ev.Err)
		}
	}
}

// eventQueue hands events over through a bounded channel. Events that don't
// fit are parked in an order preserving recovery buffer and retried before
// anything newer is sent.
type eventQueue struct {
	ch          chan Event
	recovery    []Event
	maxRecovery int
}

func newEventQueue(size, maxRecovery int) *eventQueue {
	return &eventQueue{ch: make(chan Event, size), maxRecovery: maxRecovery}
}

func (q *eventQueue) push(ev Event) {
	q.drainRecovery()
	if len(q.recovery) == 0 {
		select {
		case q.ch <- ev:
			return
		default:
		}
	}
	if len(q.recovery) >= q.maxRecovery {
		log.Errorf("Recovery buffer full, dropping %v event for %v", ev.Type, ev.Addr)
		return
	}
	q.recovery = append(q.recovery, ev)
}

func (q *eventQueue) drainRecovery() {
	for len(q.recovery) > 0 {
		select {
		case q.ch <- q.recovery[0]:
			q.recovery[0] = Event{}
			q.recovery = q.recovery[1:]
		default:
			return
		}
	}
}

// room is how many more events push takes without dropping any.
func (q *eventQueue) room() int {
	return cap(q.ch) - len(q.ch) + q.maxRecovery - len(q.recovery)
}

// drain returns up to limit events, refilling the channel from the recovery
// buffer as it goes. A negative limit takes everything.
func (q *eventQueue) drain(limit int) []Event {
	var events []Event
	for limit < 0 || len(events) < limit {
		q.drainRecovery()
		select {
		case ev := <-q.ch:
			events = append(events, ev)
		default:
			return events
		}
	}
	return events
}

// eventList collects the events of every session for the application, which
// either takes them with Recv or has them pushed to a Handler by Serve.
type eventList struct {
	mu      sync.Mutex
	events  []Event
	chReady chan struct{}
}

func newEventList() *eventList {
	return &eventList{chReady: make(chan struct{}, 1)}
}

func (l *eventList) push(events ...Event) {
	if len(events) == 0 {
		return
	}
	l.mu.Lock()
	for _, ev := range events {
		if len(l.events) >= maxPendingEvents {
			log.Errorf("Too many pending events, dropping %v event for %v", ev.Type, ev.Addr)
			continue
		}
		l.events = append(l.events, ev)
	}
	l.mu.Unlock()
	select {
	case l.chReady <- struct{}{}:
	default:
	}
}

// room is how many events push accepts before it starts dropping.
func (l *eventList) room() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return maxPendingEvents - len(l.events)
}

func (l *eventList) take() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := l.events
	l.events = nil
	return events
}

func (l *eventList) serve(ctx context.Context, chClose <-chan struct{}, h Handler) error {
	for {
		Dispatch(h, l.take())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-chClose:
			Dispatch(h, l.take())
			return ErrClosed
		case <-l.chReady:
		}
	}
}
