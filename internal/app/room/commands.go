package room

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dkeye/Meet/internal/domain"
)

// request sends a room request while the session is joined.
func (r *Room) request(ctx context.Context, method string, data any) error {
	switch r.State() {
	case domain.RoomClosed:
		return ErrClosed
	case domain.RoomConnected:
	default:
		return ErrNotConnected
	}
	if _, err := r.signaler.Request(ctx, method, data); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// SendChatMessage posts a message. It enters the history once the server
// accepted it.
func (r *Room) SendChatMessage(ctx context.Context, text string) (domain.ChatMessage, error) {
	if err := r.require(domain.PermSendChat); err != nil {
		return domain.ChatMessage{}, err
	}
	me := r.Me()
	msg := domain.ChatMessage{
		ID:          uuid.NewString(),
		Type:        "message",
		Text:        text,
		Time:        time.Now().UnixMilli(),
		PeerID:      me.ID,
		DisplayName: me.DisplayName,
		Picture:     me.Picture,
		Sender:      "response",
		IsRead:      true,
	}
	if err := r.request(ctx, "chatMessage", map[string]any{"chatMessage": msg}); err != nil {
		return domain.ChatMessage{}, err
	}
	r.mu.Lock()
	r.chat = append(r.chat, msg)
	r.mu.Unlock()
	r.events.Emit(ChatMessage{Message: msg})
	return msg, nil
}

func (r *Room) ClearChat(ctx context.Context) error {
	if err := r.require(domain.PermModerateChat); err != nil {
		return err
	}
	if err := r.request(ctx, "moderator:clearChat", nil); err != nil {
		return err
	}
	r.clearChat()
	return nil
}

// ShareFile announces a torrent magnet link to the room.
func (r *Room) ShareFile(ctx context.Context, magnetURI string) (domain.SharedFile, error) {
	if err := r.require(domain.PermShareFile); err != nil {
		return domain.SharedFile{}, err
	}
	me := r.Me()
	f := domain.SharedFile{
		ID:          uuid.NewString(),
		PeerID:      me.ID,
		MagnetURI:   magnetURI,
		DisplayName: me.DisplayName,
		Picture:     me.Picture,
		Time:        time.Now().UnixMilli(),
	}
	if err := r.request(ctx, "sendFile", map[string]any{"magnetUri": magnetURI}); err != nil {
		return domain.SharedFile{}, err
	}
	r.mu.Lock()
	r.files = append(r.files, f)
	r.mu.Unlock()
	r.events.Emit(FileShared{File: f})
	return f, nil
}

func (r *Room) ClearFiles(ctx context.Context) error {
	if err := r.require(domain.PermModerateFiles); err != nil {
		return err
	}
	if err := r.request(ctx, "moderator:clearFileSharing", nil); err != nil {
		return err
	}
	r.clearFiles()
	return nil
}

func (r *Room) SetRaisedHand(ctx context.Context, raised bool) error {
	if err := r.request(ctx, "raisedHand", map[string]any{"raisedHand": raised}); err != nil {
		return err
	}
	r.updatePeer(r.Me().ID, func(p *domain.Peer) {
		p.RaisedHand = raised
		p.RaisedHandTimestamp = 0
		if raised {
			p.RaisedHandTimestamp = time.Now().UnixMilli()
		}
	})
	return nil
}

func (r *Room) ChangeDisplayName(ctx context.Context, name string) error {
	if err := domain.ValidateDisplayName(name); err != nil {
		return err
	}
	if err := r.request(ctx, "changeDisplayName", map[string]any{"displayName": name}); err != nil {
		return err
	}
	r.updatePeer(r.Me().ID, func(p *domain.Peer) { p.DisplayName = name })
	return nil
}

func (r *Room) ChangePicture(ctx context.Context, picture string) error {
	if err := r.request(ctx, "changePicture", map[string]any{"picture": picture}); err != nil {
		return err
	}
	r.updatePeer(r.Me().ID, func(p *domain.Peer) { p.Picture = picture })
	return nil
}

func (r *Room) LockRoom(ctx context.Context) error {
	return r.changeLock(ctx, true)
}

func (r *Room) UnlockRoom(ctx context.Context) error {
	return r.changeLock(ctx, false)
}

func (r *Room) changeLock(ctx context.Context, lock bool) error {
	if err := r.require(domain.PermChangeRoomLock); err != nil {
		return err
	}
	method := "unlockRoom"
	if lock {
		method = "lockRoom"
	}
	if err := r.request(ctx, method, nil); err != nil {
		return err
	}
	r.setLocked(lock)
	return nil
}

func (r *Room) SetAccessCode(ctx context.Context, code string) error {
	if err := r.require(domain.PermChangeRoomLock); err != nil {
		return err
	}
	if err := r.request(ctx, "setAccessCode", map[string]any{"accessCode": code}); err != nil {
		return err
	}
	r.setAccessCode(&code, nil)
	return nil
}

func (r *Room) SetJoinByAccessCode(ctx context.Context, enabled bool) error {
	if err := r.require(domain.PermChangeRoomLock); err != nil {
		return err
	}
	if err := r.request(ctx, "setJoinByAccessCode", map[string]any{"joinByAccessCode": enabled}); err != nil {
		return err
	}
	r.setAccessCode(nil, &enabled)
	return nil
}

// PromoteLobbyPeer lets a parked peer in. The peer leaves the lobby when
// the server announces the promotion.
func (r *Room) PromoteLobbyPeer(ctx context.Context, id domain.PeerID) error {
	if err := r.require(domain.PermPromotePeer); err != nil {
		return err
	}
	mark := func(v bool) {
		r.roster.UpdateLobbyPeer(id, func(p *domain.LobbyPeer) { p.PromotionInProgress = v })
	}
	mark(true)
	defer mark(false)
	return r.request(ctx, "promoteLobbyPeer", peerMessage{PeerID: id})
}

func (r *Room) PromoteAllPeers(ctx context.Context) error {
	if err := r.require(domain.PermPromotePeer); err != nil {
		return err
	}
	return r.request(ctx, "promoteAllPeers", nil)
}

func (r *Room) GiveRole(ctx context.Context, id domain.PeerID, role domain.RoleID) error {
	if err := r.require(domain.PermModifyRole); err != nil {
		return err
	}
	if err := r.request(ctx, "moderator:giveRole", roleMessage{PeerID: id, RoleID: role}); err != nil {
		return err
	}
	r.updatePeer(id, func(p *domain.Peer) { p.AddRole(role) })
	return nil
}

func (r *Room) RemoveRole(ctx context.Context, id domain.PeerID, role domain.RoleID) error {
	if err := r.require(domain.PermModifyRole); err != nil {
		return err
	}
	if err := r.request(ctx, "moderator:removePeerRole", roleMessage{PeerID: id, RoleID: role}); err != nil {
		return err
	}
	r.updatePeer(id, func(p *domain.Peer) { p.RemoveRole(role) })
	return nil
}

// moderate sends a moderator directive. Its effect arrives as pushes.
func (r *Room) moderate(ctx context.Context, method string, id domain.PeerID) error {
	if err := r.require(domain.PermModerateRoom); err != nil {
		return err
	}
	var data any
	if id != "" {
		data = peerMessage{PeerID: id}
	}
	return r.request(ctx, method, data)
}

func (r *Room) KickPeer(ctx context.Context, id domain.PeerID) error {
	return r.moderate(ctx, "moderator:kickPeer", id)
}

func (r *Room) MutePeer(ctx context.Context, id domain.PeerID) error {
	return r.moderate(ctx, "moderator:mute", id)
}

func (r *Room) StopPeerVideo(ctx context.Context, id domain.PeerID) error {
	return r.moderate(ctx, "moderator:stopVideo", id)
}

func (r *Room) StopPeerScreenSharing(ctx context.Context, id domain.PeerID) error {
	return r.moderate(ctx, "moderator:stopScreenSharing", id)
}

func (r *Room) LowerPeerHand(ctx context.Context, id domain.PeerID) error {
	return r.moderate(ctx, "moderator:lowerHand", id)
}

func (r *Room) MuteAll(ctx context.Context) error {
	return r.moderate(ctx, "moderator:muteAll", "")
}

func (r *Room) StopAllVideo(ctx context.Context) error {
	return r.moderate(ctx, "moderator:stopAllVideo", "")
}

func (r *Room) StopAllScreenSharing(ctx context.Context) error {
	return r.moderate(ctx, "moderator:stopAllScreenSharing", "")
}

func (r *Room) CloseMeeting(ctx context.Context) error {
	return r.moderate(ctx, "moderator:closeMeeting", "")
}

// EnableMic starts or unmutes the microphone.
func (r *Room) EnableMic(ctx context.Context) error {
	if err := r.require(domain.PermShareAudio); err != nil {
		return err
	}
	return r.producers.UnmuteMic(ctx)
}

func (r *Room) EnableWebcam(ctx context.Context) error {
	if err := r.require(domain.PermShareVideo); err != nil {
		return err
	}
	return r.producers.StartWebcam(ctx)
}

func (r *Room) EnableScreenShare(ctx context.Context, withAudio bool) error {
	if err := r.require(domain.PermShareScreen); err != nil {
		return err
	}
	return r.producers.StartScreenShare(ctx, withAudio)
}

func (r *Room) AddExtraVideo(ctx context.Context, deviceID string) (string, error) {
	if err := r.require(domain.PermExtraVideo); err != nil {
		return "", err
	}
	return r.producers.AddExtraVideo(ctx, deviceID)
}
