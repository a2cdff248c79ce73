package consumer

import "github.com/dkeye/Meet/internal/domain"

type ConsumerAdded struct {
	Consumer domain.Consumer `json:"consumer"`
}

func (ConsumerAdded) EventName() string { return "consumerAdded" }

type ConsumerRemoved struct {
	Consumer domain.Consumer `json:"consumer"`
}

func (ConsumerRemoved) EventName() string { return "consumerRemoved" }

// ConsumerPaused reports a pause on either side. Remote is set when the
// server paused it, usually because the producer was paused.
type ConsumerPaused struct {
	Consumer domain.Consumer `json:"consumer"`
	Remote   bool            `json:"remote"`
}

func (ConsumerPaused) EventName() string { return "consumerPaused" }

type ConsumerResumed struct {
	Consumer domain.Consumer `json:"consumer"`
	Remote   bool            `json:"remote"`
}

func (ConsumerResumed) EventName() string { return "consumerResumed" }

// ConsumerUpdated covers layer, priority and score changes.
type ConsumerUpdated struct {
	Consumer domain.Consumer `json:"consumer"`
}

func (ConsumerUpdated) EventName() string { return "consumerUpdated" }

type PeerVolume struct {
	PeerID domain.PeerID `json:"peerId"`
	Volume int           `json:"volume"`
}

func (PeerVolume) EventName() string { return "peerVolume" }
