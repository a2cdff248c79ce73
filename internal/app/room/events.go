package room

import "github.com/dkeye/Meet/internal/domain"

type StateChanged struct {
	State domain.RoomState `json:"state"`
}

func (StateChanged) EventName() string { return "roomState" }

type Joined struct {
	PeerID    domain.PeerID `json:"peerId"`
	Returning bool          `json:"returning"`
}

func (Joined) EventName() string { return "joined" }

// Closed is terminal. Reason tells a kick or a server disconnect apart from
// a local close.
type Closed struct {
	Reason string `json:"reason"`
}

func (Closed) EventName() string { return "closed" }

const (
	ReasonLocal           = "local"
	ReasonKicked          = "kicked"
	ReasonServer          = "server"
	ReasonReconnectFailed = "reconnectFailed"
)

type EnteredLobby struct{}

func (EnteredLobby) EventName() string { return "enteredLobby" }

type SignInRequired struct{}

func (SignInRequired) EventName() string { return "signInRequired" }

type OverRoomLimit struct{}

func (OverRoomLimit) EventName() string { return "overRoomLimit" }

type PeerJoined struct {
	Peer domain.Peer `json:"peer"`
}

func (PeerJoined) EventName() string { return "peerJoined" }

type PeerLeft struct {
	PeerID domain.PeerID `json:"peerId"`
}

func (PeerLeft) EventName() string { return "peerLeft" }

// PeerUpdated covers name, picture, raised hand and role changes of a
// remote peer.
type PeerUpdated struct {
	Peer domain.Peer `json:"peer"`
}

func (PeerUpdated) EventName() string { return "peerUpdated" }

type MeUpdated struct {
	Me domain.Peer `json:"me"`
}

func (MeUpdated) EventName() string { return "meUpdated" }

type LobbyUpdated struct {
	Peers []domain.LobbyPeer `json:"peers"`
}

func (LobbyUpdated) EventName() string { return "lobbyUpdated" }

type ActiveSpeaker struct {
	PeerID domain.PeerID `json:"peerId"`
}

func (ActiveSpeaker) EventName() string { return "activeSpeaker" }

type ChatMessage struct {
	Message domain.ChatMessage `json:"message"`
}

func (ChatMessage) EventName() string { return "chatMessage" }

type ChatCleared struct{}

func (ChatCleared) EventName() string { return "chatCleared" }

type FileShared struct {
	File domain.SharedFile `json:"file"`
}

func (FileShared) EventName() string { return "fileShared" }

type FilesCleared struct{}

func (FilesCleared) EventName() string { return "filesCleared" }

type LockChanged struct {
	Locked bool `json:"locked"`
}

func (LockChanged) EventName() string { return "roomLock" }

type AccessCodeChanged struct {
	AccessCode       string `json:"accessCode"`
	JoinByAccessCode bool   `json:"joinByAccessCode"`
}

func (AccessCodeChanged) EventName() string { return "accessCode" }
