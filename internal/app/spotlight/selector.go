package spotlight

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

// VideoEnabler applies a spotlight decision to the received video.
type VideoEnabler interface {
	SetVideoEnabled(ctx context.Context, peerIDs []domain.PeerID)
}

// Selector keeps the peer priority list and derives the bounded set of
// peers whose video is forwarded.
type Selector struct {
	me      domain.PeerID
	enabler VideoEnabler
	logger  zerolog.Logger
	events  *core.Bus[core.Event]

	mu          sync.Mutex
	started     bool
	max         int
	hideNoVideo bool
	peers       []domain.PeerID
	selected    []domain.PeerID
	current     []domain.PeerID

	// applying is held by the one goroutine pushing current to the
	// enabler; pending asks it to push again once it returns.
	applying bool
	pending  bool

	// video consumers per peer, value is the remote pause flag
	video map[domain.PeerID]map[string]bool
}

func New(cfg config.Spotlight, me domain.PeerID, enabler VideoEnabler) *Selector {
	return &Selector{
		me:          me,
		enabler:     enabler,
		logger:      log.With().Str("module", "app.spotlight").Logger(),
		events:      core.NewBus[core.Event](),
		max:         max(cfg.MaxSpotlights, 1),
		hideNoVideo: cfg.HideNoVideoParticipants,
		video:       make(map[domain.PeerID]map[string]bool),
	}
}

func (s *Selector) Events() *core.Bus[core.Event] { return s.events }

// Start enables recomputation and applies the first selection.
func (s *Selector) Start() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.update()
}

// Clear drops every list. Nothing is recomputed until the next Start.
func (s *Selector) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.peers = nil
	s.selected = nil
	s.current = nil
	s.pending = false
	s.video = make(map[domain.PeerID]map[string]bool)
}

// AddPeers appends the roster known at join time.
func (s *Selector) AddPeers(ids []domain.PeerID) {
	s.mu.Lock()
	for _, id := range ids {
		s.appendLocked(id)
	}
	s.mu.Unlock()
	s.update()
}

func (s *Selector) NewPeer(id domain.PeerID) {
	s.mu.Lock()
	s.appendLocked(id)
	s.mu.Unlock()
	s.update()
}

func (s *Selector) appendLocked(id domain.PeerID) {
	if id == s.me || slices.Contains(s.peers, id) {
		return
	}
	s.peers = append(s.peers, id)
}

// ClosePeer forgets a departed peer everywhere.
func (s *Selector) ClosePeer(id domain.PeerID) {
	s.mu.Lock()
	s.peers = remove(s.peers, id)
	selected := slices.Contains(s.selected, id)
	s.selected = remove(s.selected, id)
	delete(s.video, id)
	sel := slices.Clone(s.selected)
	s.mu.Unlock()
	if selected {
		s.events.Emit(SelectedChanged{Peers: sel})
	}
	s.update()
}

// AddSpeakerList seeds the priority order from the server's recency
// history, most recent first.
func (s *Selector) AddSpeakerList(ids []domain.PeerID) {
	s.mu.Lock()
	head := make([]domain.PeerID, 0, len(ids)+len(s.peers))
	for _, id := range ids {
		if id != s.me && !slices.Contains(head, id) {
			head = append(head, id)
		}
	}
	for _, id := range s.peers {
		if !slices.Contains(head, id) {
			head = append(head, id)
		}
	}
	s.peers = head
	s.mu.Unlock()
	s.update()
}

// HandleActiveSpeaker moves a remote speaker to the front of the list.
func (s *Selector) HandleActiveSpeaker(id domain.PeerID) {
	s.mu.Lock()
	i := slices.Index(s.peers, id)
	if id == s.me || i <= 0 {
		s.mu.Unlock()
		return
	}
	s.peers = slices.Delete(s.peers, i, i+1)
	s.peers = slices.Insert(s.peers, 0, id)
	s.mu.Unlock()
	s.update()
}

// AddSelected pins a peer into the spotlight ahead of the speaker order.
func (s *Selector) AddSelected(id domain.PeerID) {
	s.mu.Lock()
	if slices.Contains(s.selected, id) {
		s.mu.Unlock()
		return
	}
	s.selected = append(s.selected, id)
	sel := slices.Clone(s.selected)
	s.mu.Unlock()
	s.events.Emit(SelectedChanged{Peers: sel})
	s.update()
}

func (s *Selector) RemoveSelected(id domain.PeerID) {
	s.mu.Lock()
	if !slices.Contains(s.selected, id) {
		s.mu.Unlock()
		return
	}
	s.selected = remove(s.selected, id)
	sel := slices.Clone(s.selected)
	s.mu.Unlock()
	s.events.Emit(SelectedChanged{Peers: sel})
	s.update()
}

func (s *Selector) ClearSelected() {
	s.mu.Lock()
	if len(s.selected) == 0 {
		s.mu.Unlock()
		return
	}
	s.selected = nil
	s.mu.Unlock()
	s.events.Emit(SelectedChanged{Peers: nil})
	s.update()
}

// AddVideoConsumer records a video consumer of peerID. paused is the
// server side pause state.
func (s *Selector) AddVideoConsumer(peerID domain.PeerID, consumerID string, paused bool) {
	s.mu.Lock()
	if s.video[peerID] == nil {
		s.video[peerID] = make(map[string]bool)
	}
	s.video[peerID][consumerID] = paused
	s.mu.Unlock()
	s.update()
}

func (s *Selector) PauseVideoConsumer(peerID domain.PeerID, consumerID string) {
	s.setVideoPaused(peerID, consumerID, true)
}

func (s *Selector) ResumeVideoConsumer(peerID domain.PeerID, consumerID string) {
	s.setVideoPaused(peerID, consumerID, false)
}

func (s *Selector) setVideoPaused(peerID domain.PeerID, consumerID string, paused bool) {
	s.mu.Lock()
	consumers, ok := s.video[peerID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, ok := consumers[consumerID]; !ok {
		s.mu.Unlock()
		return
	}
	consumers[consumerID] = paused
	s.mu.Unlock()
	s.update()
}

func (s *Selector) RemoveVideoConsumer(peerID domain.PeerID, consumerID string) {
	s.mu.Lock()
	consumers, ok := s.video[peerID]
	if ok {
		delete(consumers, consumerID)
		if len(consumers) == 0 {
			delete(s.video, peerID)
		}
	}
	s.mu.Unlock()
	if ok {
		s.update()
	}
}

func (s *Selector) SetMaxSpotlights(n int) {
	s.mu.Lock()
	s.max = max(n, 1)
	s.mu.Unlock()
	s.update()
}

func (s *Selector) SetHideNoVideo(hide bool) {
	s.mu.Lock()
	s.hideNoVideo = hide
	s.mu.Unlock()
	s.update()
}

func (s *Selector) InSpotlight(id domain.PeerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.current, id)
}

// Current returns the forwarded peers in priority order.
func (s *Selector) Current() []domain.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.current)
}

func (s *Selector) Selected() []domain.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.selected)
}

// Peers returns the full priority list.
func (s *Selector) Peers() []domain.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.peers)
}

func (s *Selector) hasVideoLocked(id domain.PeerID) bool {
	for _, paused := range s.video[id] {
		if !paused {
			return true
		}
	}
	return false
}

// computeLocked merges the pinned peers ahead of the priority list and
// truncates the result to the configured maximum.
func (s *Selector) computeLocked() []domain.PeerID {
	out := make([]domain.PeerID, 0, s.max)
	for _, id := range s.selected {
		if len(out) == s.max {
			return out
		}
		if slices.Contains(s.peers, id) {
			out = append(out, id)
		}
	}
	for _, id := range s.peers {
		if len(out) == s.max {
			break
		}
		if slices.Contains(out, id) {
			continue
		}
		if s.hideNoVideo && !s.hasVideoLocked(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (s *Selector) update() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	next := s.computeLocked()
	if sameSet(s.current, next) {
		s.mu.Unlock()
		return
	}
	s.current = next
	s.pending = true
	if s.applying {
		s.mu.Unlock()
		return
	}
	s.applying = true
	s.mu.Unlock()
	s.apply()
}

// apply pushes current until no newer selection is pending, so the enabler
// always ends on the last committed set. Updates arriving meanwhile, from
// other goroutines or from the enabler itself, only mark it pending.
func (s *Selector) apply() {
	for {
		s.mu.Lock()
		if !s.pending || !s.started {
			s.applying = false
			s.mu.Unlock()
			return
		}
		s.pending = false
		peers := slices.Clone(s.current)
		s.mu.Unlock()

		s.logger.Debug().Interface("peers", peers).Msg("spotlights updated")
		s.events.Emit(SpotlightsUpdated{Peers: slices.Clone(peers)})
		if s.enabler != nil {
			s.enabler.SetVideoEnabled(context.Background(), peers)
		}
	}
}

func sameSet(a, b []domain.PeerID) bool {
	if len(a) != len(b) {
		return false
	}
	for _, id := range b {
		if !slices.Contains(a, id) {
			return false
		}
	}
	return true
}

func remove(ids []domain.PeerID, id domain.PeerID) []domain.PeerID {
	return slices.DeleteFunc(ids, func(p domain.PeerID) bool { return p == id })
}
