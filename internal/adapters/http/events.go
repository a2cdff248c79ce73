package http

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
)

const streamBuffer = 64

// Envelope is one event as the UI receives it.
type Envelope struct {
	Name string     `json:"name"`
	Data core.Event `json:"data"`
}

// EventStream fans the component buses out to connected UI clients. A
// client that falls behind loses events rather than stalling the emitter.
type EventStream struct {
	logger zerolog.Logger
	unsubs []func()

	mu      sync.Mutex
	clients map[chan Envelope]struct{}
	closed  bool
}

func NewEventStream(buses ...*core.Bus[core.Event]) *EventStream {
	s := &EventStream{
		logger:  log.With().Str("module", "adapters.http.events").Logger(),
		clients: make(map[chan Envelope]struct{}),
	}
	for _, b := range buses {
		s.unsubs = append(s.unsubs, b.Subscribe(s.publish))
	}
	return s
}

func (s *EventStream) publish(e core.Event) {
	env := Envelope{Name: e.EventName(), Data: e}
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.clients {
		select {
		case ch <- env:
		default:
			s.logger.Debug().Str("event", env.Name).Msg("client behind, event dropped")
		}
	}
}

// Subscribe registers a client. The returned channel is closed by cancel or
// by Close.
func (s *EventStream) Subscribe() (<-chan Envelope, func()) {
	ch := make(chan Envelope, streamBuffer)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.clients[ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.clients[ch]; ok {
			delete(s.clients, ch)
			close(ch)
		}
	}
}

func (s *EventStream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *EventStream) Close() {
	for _, u := range s.unsubs {
		u()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for ch := range s.clients {
		delete(s.clients, ch)
		close(ch)
	}
}
