package events

import (
	"context"
	"sync"
)

// Bus fans events out per call. Queues are unbounded and strictly FIFO
// within one call; there is no ordering relationship across calls and no
// replay for late subscribers beyond what is still queued.
type Bus struct {
	mu      sync.Mutex
	streams map[string]*Stream
}

func NewBus() *Bus {
	return &Bus{streams: make(map[string]*Stream)}
}

// StartSession creates (or reuses) the call's queue and enqueues a
// session_start event.
func (b *Bus) StartSession(callSid string) {
	s := b.Subscribe(callSid)
	s.push(newEvent(KindSessionStart, callSid))
}

// Publish enqueues the event if the call has a live queue and silently
// no-ops otherwise. It never fails.
func (b *Bus) Publish(callSid string, ev Event) {
	b.mu.Lock()
	s := b.streams[callSid]
	b.mu.Unlock()
	if s == nil {
		return
	}
	if ev.ID == "" {
		filled := newEvent(ev.Type, callSid)
		filled.Speaker = ev.Speaker
		filled.Text = ev.Text
		filled.Command = ev.Command
		filled.Value = ev.Value
		filled.Prompt = ev.Prompt
		filled.Target = ev.Target
		filled.Error = ev.Error
		ev = filled
	}
	s.push(ev)
}

// Subscribe returns the call's stream, lazily creating an empty one.
func (b *Bus) Subscribe(callSid string) *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.streams[callSid]
	if s == nil {
		s = newStream()
		b.streams[callSid] = s
	}
	return s
}

// EndSession enqueues session_end, then the end-of-stream sentinel, and
// removes the queue from the live set. Subsequent Publish calls for the
// call are no-ops.
func (b *Bus) EndSession(callSid string) {
	b.mu.Lock()
	s := b.streams[callSid]
	delete(b.streams, callSid)
	b.mu.Unlock()
	if s == nil {
		return
	}
	s.push(newEvent(KindSessionEnd, callSid))
	s.close()
}

// Live reports whether the call currently has a queue.
func (b *Bus) Live(callSid string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.streams[callSid]
	return ok
}

// Stream is a single-writer FIFO queue of events terminated by a
// sentinel once the session ends.
type Stream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
}

func newStream() *Stream {
	s := &Stream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Stream) push(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, ev)
	s.cond.Broadcast()
}

func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

// Next blocks until an event is available or the stream ends. The second
// return value is false once the end-of-stream sentinel is reached or
// ctx is done; queued events are still drained after close.
func (s *Stream) Next(ctx context.Context) (Event, bool) {
	if ctx != nil {
		stop := context.AfterFunc(ctx, func() {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		defer stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		if ctx != nil && ctx.Err() != nil {
			return Event{}, false
		}
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}
