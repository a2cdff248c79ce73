package spotlight

import "github.com/dkeye/Meet/internal/domain"

// SpotlightsUpdated carries the peers whose video is forwarded, in priority
// order.
type SpotlightsUpdated struct {
	Peers []domain.PeerID `json:"peers"`
}

func (SpotlightsUpdated) EventName() string { return "spotlightsUpdated" }

type SelectedChanged struct {
	Peers []domain.PeerID `json:"peers"`
}

func (SelectedChanged) EventName() string { return "selectedPeers" }
