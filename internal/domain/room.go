package domain

type RoomState int

const (
	RoomNew RoomState = iota
	RoomConnecting
	RoomConnected
	RoomDisconnected
	RoomClosed
)

func (s RoomState) String() string {
	switch s {
	case RoomConnecting:
		return "connecting"
	case RoomConnected:
		return "connected"
	case RoomDisconnected:
		return "disconnected"
	case RoomClosed:
		return "closed"
	default:
		return "new"
	}
}

func (s RoomState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type ChatMessage struct {
	ID          string `json:"id,omitempty"`
	Type        string `json:"type"`
	Text        string `json:"text"`
	Time        int64  `json:"time"`
	PeerID      PeerID `json:"peerId,omitempty"`
	DisplayName string `json:"name,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Sender      string `json:"sender,omitempty"`
	IsRead      bool   `json:"isRead,omitempty"`
}

type SharedFile struct {
	ID          string `json:"id,omitempty"`
	PeerID      PeerID `json:"peerId"`
	MagnetURI   string `json:"magnetUri"`
	DisplayName string `json:"displayName,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Time        int64  `json:"time,omitempty"`
}

type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}
