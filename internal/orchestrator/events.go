package orchestrator

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	tokenFlushInterval = 100 * time.Millisecond
	subscriberBuffer   = 64
	statusEvent        = "task_status"
)

// Event is the payload published to task subscribers.
type Event struct {
	Event   string `json:"event"`
	TaskID  string `json:"task_id"`
	Payload any    `json:"payload,omitempty"`
}

// Hub fans task events out to subscribers. A subscriber that falls behind
// loses step and token events, but task_status events always reach it: they
// displace the oldest buffered event when the buffer is full.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}

	streamsMu sync.Mutex
	streams   map[string]*tokenStream
}

func NewHub() *Hub {
	return &Hub{
		subs:    map[string]map[chan []byte]struct{}{},
		streams: map[string]*tokenStream{},
	}
}

// Subscribe registers a subscriber for taskID. The returned func unsubscribes
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(taskID string) (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	if h.subs[taskID] == nil {
		h.subs[taskID] = map[chan []byte]struct{}{}
	}
	h.subs[taskID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[taskID], ch)
			if len(h.subs[taskID]) == 0 {
				delete(h.subs, taskID)
			}
			close(ch)
		})
	}
}

func (h *Hub) Publish(taskID string, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[taskID] {
		if ev.Event == statusEvent {
			deliver(ch, b)
			continue
		}
		select {
		case ch <- b:
		default:
		}
	}
}

// deliver sends b on ch, evicting buffered events until there is room.
// Callers hold the read lock, so ch cannot be closed underneath.
func deliver(ch chan []byte, b []byte) {
	for {
		select {
		case ch <- b:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// TokenAppender returns a func that buffers token chunks per step of taskID.
// Buffered chunks are published as coalesced "token" events every 100ms until
// StopTokenAppender is called.
func (h *Hub) TokenAppender(taskID string) func(stepID, chunk string) {
	h.streamsMu.Lock()
	defer h.streamsMu.Unlock()
	ts, ok := h.streams[taskID]
	if !ok {
		ts = &tokenStream{
			pending: map[string]string{},
			stop:    make(chan struct{}),
			done:    make(chan struct{}),
		}
		h.streams[taskID] = ts
		go ts.run(func(stepID, chunk string) {
			h.Publish(taskID, Event{Event: "token", TaskID: taskID, Payload: map[string]any{"step_id": stepID, "chunk": chunk}})
		})
	}
	return ts.append
}

// StopTokenAppender stops the coalescer for taskID. Chunks still buffered are
// published before it returns.
func (h *Hub) StopTokenAppender(taskID string) {
	h.streamsMu.Lock()
	ts, ok := h.streams[taskID]
	delete(h.streams, taskID)
	h.streamsMu.Unlock()
	if !ok {
		return
	}
	close(ts.stop)
	<-ts.done
}

type tokenStream struct {
	mu      sync.Mutex
	order   []string
	pending map[string]string

	stop chan struct{}
	done chan struct{}
}

func (s *tokenStream) append(stepID, chunk string) {
	if stepID == "" || chunk == "" {
		return
	}
	s.mu.Lock()
	if _, ok := s.pending[stepID]; !ok {
		s.order = append(s.order, stepID)
	}
	s.pending[stepID] += chunk
	s.mu.Unlock()
}

func (s *tokenStream) run(emit func(stepID, chunk string)) {
	defer close(s.done)
	ticker := time.NewTicker(tokenFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			s.flush(emit)
			return
		case <-ticker.C:
			s.flush(emit)
		}
	}
}

// flush emits buffered chunks in the order their steps first appeared.
func (s *tokenStream) flush(emit func(stepID, chunk string)) {
	s.mu.Lock()
	order, pending := s.order, s.pending
	s.order, s.pending = nil, map[string]string{}
	s.mu.Unlock()
	for _, id := range order {
		emit(id, pending[id])
	}
}
