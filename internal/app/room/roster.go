package room

import (
	"cmp"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/domain"
)

// Roster holds the remote peers of the room and the peers parked in its
// lobby. The local peer is never part of it.
type Roster struct {
	mu    sync.RWMutex
	peers map[domain.PeerID]*domain.Peer
	order []domain.PeerID
	lobby map[domain.PeerID]*domain.LobbyPeer
}

func NewRoster() *Roster {
	return &Roster{
		peers: make(map[domain.PeerID]*domain.Peer),
		lobby: make(map[domain.PeerID]*domain.LobbyPeer),
	}
}

// Add inserts a peer. It reports false when the id is already present.
func (r *Roster) Add(p domain.Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p.ID]; ok {
		return false
	}
	r.peers[p.ID] = &p
	r.order = append(r.order, p.ID)
	log.Info().Str("module", "app.roster").Str("peer_id", string(p.ID)).Str("name", p.DisplayName).Msg("peer added")
	return true
}

func (r *Roster) Remove(id domain.PeerID) (domain.Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return domain.Peer{}, false
	}
	delete(r.peers, id)
	r.order = slices.DeleteFunc(r.order, func(o domain.PeerID) bool { return o == id })
	log.Info().Str("module", "app.roster").Str("peer_id", string(id)).Msg("peer removed")
	return *p, true
}

func (r *Roster) Has(id domain.PeerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[id]
	return ok
}

func (r *Roster) Get(id domain.PeerID) (domain.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	if !ok {
		return domain.Peer{}, false
	}
	return clonePeer(p), true
}

// Update applies fn to the peer and returns the updated copy.
func (r *Roster) Update(id domain.PeerID, fn func(p *domain.Peer)) (domain.Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return domain.Peer{}, false
	}
	fn(p)
	return clonePeer(p), true
}

// Peers returns the peers in join order.
func (r *Roster) Peers() []domain.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Peer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, clonePeer(r.peers[id]))
	}
	return out
}

func (r *Roster) IDs() []domain.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// AnyHolds reports whether a peer holds one of the roles.
func (r *Roster) AnyHolds(roles []domain.RoleID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.peers {
		for _, id := range roles {
			if p.HasRole(id) {
				return true
			}
		}
	}
	return false
}

func (r *Roster) AddLobbyPeer(p domain.LobbyPeer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lobby[p.ID]; ok {
		return false
	}
	r.lobby[p.ID] = &p
	log.Info().Str("module", "app.roster").Str("peer_id", string(p.ID)).Msg("lobby peer parked")
	return true
}

func (r *Roster) RemoveLobbyPeer(id domain.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lobby[id]; !ok {
		return false
	}
	delete(r.lobby, id)
	log.Info().Str("module", "app.roster").Str("peer_id", string(id)).Msg("lobby peer removed")
	return true
}

func (r *Roster) UpdateLobbyPeer(id domain.PeerID, fn func(p *domain.LobbyPeer)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.lobby[id]
	if ok {
		fn(p)
	}
	return ok
}

// LobbyPeers returns the lobby ordered by id.
func (r *Roster) LobbyPeers() []domain.LobbyPeer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.LobbyPeer, 0, len(r.lobby))
	for _, p := range r.lobby {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b domain.LobbyPeer) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Reset drops every peer and lobby peer.
func (r *Roster) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = make(map[domain.PeerID]*domain.Peer)
	r.order = nil
	r.lobby = make(map[domain.PeerID]*domain.LobbyPeer)
}

func clonePeer(p *domain.Peer) domain.Peer {
	c := *p
	c.Roles = slices.Clone(p.Roles)
	return c
}
