package room

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/dkeye/Meet/internal/domain"
)

type peerMessage struct {
	PeerID domain.PeerID `json:"peerId"`
}

// on registers a notification handler that decodes into T. Malformed
// payloads are logged and dropped, nothing runs once the room is closed.
func on[T any](r *Room, method string, fn func(ctx context.Context, msg T)) {
	r.signaler.OnNotification(method, func(ctx context.Context, raw json.RawMessage) {
		if r.closed() {
			return
		}
		var msg T
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &msg); err != nil {
				r.logger.Warn().Err(err).Str("method", method).Msg("malformed notification")
				return
			}
		}
		fn(ctx, msg)
	})
}

func (r *Room) register() {
	on(r, "roomReady", r.handleRoomReady)
	on(r, "roomBack", func(ctx context.Context, _ struct{}) {
		if err := r.join(ctx, true); err != nil {
			r.logger.Error().Err(err).Msg("rejoin failed")
		}
	})
	on(r, "enteredLobby", func(context.Context, struct{}) {
		r.mu.Lock()
		r.inLobby = true
		r.mu.Unlock()
		r.logger.Info().Msg("waiting in lobby")
		r.events.Emit(EnteredLobby{})
	})
	on(r, "signInRequired", func(context.Context, struct{}) {
		r.events.Emit(SignInRequired{})
	})
	on(r, "overRoomLimit", func(context.Context, struct{}) {
		r.logger.Warn().Msg("room is full")
		r.events.Emit(OverRoomLimit{})
	})

	on(r, "newPeer", r.handleNewPeer)
	on(r, "peerClosed", r.handlePeerClosed)
	on(r, "changeDisplayName", func(_ context.Context, msg struct {
		PeerID      domain.PeerID `json:"peerId"`
		DisplayName string        `json:"displayName"`
	}) {
		r.updatePeer(msg.PeerID, func(p *domain.Peer) { p.DisplayName = msg.DisplayName })
	})
	on(r, "changePicture", func(_ context.Context, msg struct {
		PeerID  domain.PeerID `json:"peerId"`
		Picture string        `json:"picture"`
	}) {
		r.updatePeer(msg.PeerID, func(p *domain.Peer) { p.Picture = msg.Picture })
	})
	on(r, "raisedHand", func(_ context.Context, msg struct {
		PeerID              domain.PeerID `json:"peerId"`
		RaisedHand          bool          `json:"raisedHand"`
		RaisedHandTimestamp int64         `json:"raisedHandTimestamp"`
	}) {
		r.updatePeer(msg.PeerID, func(p *domain.Peer) {
			p.RaisedHand, p.RaisedHandTimestamp = msg.RaisedHand, msg.RaisedHandTimestamp
		})
	})
	on(r, "gotRole", func(_ context.Context, msg roleMessage) {
		r.updatePeer(msg.PeerID, func(p *domain.Peer) { p.AddRole(msg.RoleID) })
	})
	on(r, "lostRole", func(_ context.Context, msg roleMessage) {
		r.updatePeer(msg.PeerID, func(p *domain.Peer) { p.RemoveRole(msg.RoleID) })
	})
	on(r, "activeSpeaker", func(_ context.Context, msg peerMessage) {
		if msg.PeerID != "" && msg.PeerID != r.Me().ID {
			r.spotlight.HandleActiveSpeaker(msg.PeerID)
		}
		r.events.Emit(ActiveSpeaker{PeerID: msg.PeerID})
	})

	on(r, "chatMessage", func(_ context.Context, msg struct {
		PeerID      domain.PeerID      `json:"peerId"`
		ChatMessage domain.ChatMessage `json:"chatMessage"`
	}) {
		m := msg.ChatMessage
		m.PeerID = msg.PeerID
		m.Sender = "client"
		r.mu.Lock()
		r.chat = append(r.chat, m)
		r.mu.Unlock()
		r.events.Emit(ChatMessage{Message: m})
	})
	on(r, "moderator:clearChat", func(context.Context, struct{}) { r.clearChat() })
	on(r, "sendFile", func(_ context.Context, f domain.SharedFile) {
		r.mu.Lock()
		r.files = append(r.files, f)
		r.mu.Unlock()
		r.events.Emit(FileShared{File: f})
	})
	on(r, "moderator:clearFileSharing", func(context.Context, struct{}) { r.clearFiles() })

	on(r, "lockRoom", func(context.Context, peerMessage) { r.setLocked(true) })
	on(r, "unlockRoom", func(context.Context, peerMessage) { r.setLocked(false) })
	on(r, "setAccessCode", func(_ context.Context, msg struct {
		AccessCode string `json:"accessCode"`
	}) {
		r.setAccessCode(&msg.AccessCode, nil)
	})
	on(r, "setJoinByAccessCode", func(_ context.Context, msg struct {
		JoinByAccessCode bool `json:"joinByAccessCode"`
	}) {
		r.setAccessCode(nil, &msg.JoinByAccessCode)
	})

	on(r, "parkedPeer", func(_ context.Context, msg peerMessage) {
		if r.roster.AddLobbyPeer(domain.LobbyPeer{ID: msg.PeerID}) {
			r.emitLobby()
		}
	})
	on(r, "parkedPeers", func(_ context.Context, msg struct {
		LobbyPeers []domain.LobbyPeer `json:"lobbyPeers"`
	}) {
		for _, p := range msg.LobbyPeers {
			r.roster.AddLobbyPeer(p)
		}
		r.emitLobby()
	})
	on(r, "lobby:peerClosed", func(_ context.Context, msg peerMessage) {
		if r.roster.RemoveLobbyPeer(msg.PeerID) {
			r.emitLobby()
		}
	})
	on(r, "lobby:promotedPeer", func(_ context.Context, msg peerMessage) {
		if r.roster.RemoveLobbyPeer(msg.PeerID) {
			r.emitLobby()
		}
	})
	on(r, "lobby:changeDisplayName", func(_ context.Context, msg struct {
		PeerID      domain.PeerID `json:"peerId"`
		DisplayName string        `json:"displayName"`
	}) {
		if r.roster.UpdateLobbyPeer(msg.PeerID, func(p *domain.LobbyPeer) { p.DisplayName = msg.DisplayName }) {
			r.emitLobby()
		}
	})
	on(r, "lobby:changePicture", func(_ context.Context, msg struct {
		PeerID  domain.PeerID `json:"peerId"`
		Picture string        `json:"picture"`
	}) {
		if r.roster.UpdateLobbyPeer(msg.PeerID, func(p *domain.LobbyPeer) { p.Picture = msg.Picture }) {
			r.emitLobby()
		}
	})

	on(r, "moderator:kick", func(context.Context, struct{}) {
		r.logger.Warn().Msg("kicked by moderator")
		r.closeWith(ReasonKicked)
	})
	on(r, "moderator:lowerHand", func(ctx context.Context, _ struct{}) {
		if err := r.SetRaisedHand(ctx, false); err != nil {
			r.logger.Warn().Err(err).Msg("lower hand failed")
		}
	})
}

type roleMessage struct {
	PeerID domain.PeerID `json:"peerId"`
	RoleID domain.RoleID `json:"roleId"`
}

func (r *Room) handleRoomReady(ctx context.Context, msg struct {
	TurnServers []domain.IceServer `json:"turnServers"`
}) {
	if len(msg.TurnServers) > 0 {
		r.transport.SetIceServers(msg.TurnServers)
	}
	if err := r.join(ctx, false); err != nil {
		r.logger.Error().Err(err).Msg("join failed")
	}
}

func (r *Room) handleNewPeer(_ context.Context, p domain.Peer) {
	if p.ID == "" || p.ID == r.Me().ID {
		return
	}
	p.Roles = slices.Clone(p.Roles)
	if !r.roster.Add(p) {
		return
	}
	r.spotlight.NewPeer(p.ID)
	r.events.Emit(PeerJoined{Peer: p})
}

// handlePeerClosed forgets a departed peer in the roster, its consumers and
// the spotlight lists.
func (r *Room) handlePeerClosed(_ context.Context, msg peerMessage) {
	if _, ok := r.roster.Remove(msg.PeerID); !ok {
		return
	}
	r.consumers.CloseConsumersOfPeer(msg.PeerID)
	r.spotlight.ClosePeer(msg.PeerID)
	r.events.Emit(PeerLeft{PeerID: msg.PeerID})
}

// updatePeer applies a push to the local peer or a roster entry.
func (r *Room) updatePeer(id domain.PeerID, fn func(p *domain.Peer)) {
	r.mu.Lock()
	if id == r.me.ID {
		fn(&r.me)
		me := clonePeer(&r.me)
		r.mu.Unlock()
		r.events.Emit(MeUpdated{Me: me})
		return
	}
	r.mu.Unlock()
	if p, ok := r.roster.Update(id, fn); ok {
		r.events.Emit(PeerUpdated{Peer: p})
	}
}

func (r *Room) emitLobby() {
	r.events.Emit(LobbyUpdated{Peers: r.roster.LobbyPeers()})
}

func (r *Room) setLocked(locked bool) {
	r.mu.Lock()
	changed := r.locked != locked
	r.locked = locked
	r.mu.Unlock()
	if changed {
		r.events.Emit(LockChanged{Locked: locked})
	}
}

func (r *Room) setAccessCode(code *string, joinByCode *bool) {
	r.mu.Lock()
	if code != nil {
		r.accessCode = *code
	}
	if joinByCode != nil {
		r.joinByAccessCode = *joinByCode
	}
	ev := AccessCodeChanged{AccessCode: r.accessCode, JoinByAccessCode: r.joinByAccessCode}
	r.mu.Unlock()
	r.events.Emit(ev)
}

func (r *Room) clearChat() {
	r.mu.Lock()
	r.chat = nil
	r.mu.Unlock()
	r.events.Emit(ChatCleared{})
}

func (r *Room) clearFiles() {
	r.mu.Lock()
	r.files = nil
	r.mu.Unlock()
	r.events.Emit(FilesCleared{})
}
