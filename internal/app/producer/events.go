package producer

import "github.com/dkeye/Meet/internal/domain"

type ProducerAdded struct {
	Producer domain.Producer `json:"producer"`
}

func (ProducerAdded) EventName() string { return "producerAdded" }

type ProducerRemoved struct {
	Producer domain.Producer `json:"producer"`
}

func (ProducerRemoved) EventName() string { return "producerRemoved" }

type ProducerPaused struct {
	Producer domain.Producer `json:"producer"`
}

func (ProducerPaused) EventName() string { return "producerPaused" }

type ProducerResumed struct {
	Producer domain.Producer `json:"producer"`
}

func (ProducerResumed) EventName() string { return "producerResumed" }

// ProducerUpdated is emitted when constraints were applied to a live track.
type ProducerUpdated struct {
	Producer domain.Producer `json:"producer"`
}

func (ProducerUpdated) EventName() string { return "producerUpdated" }

type ProducerScoreChanged struct {
	ProducerID string `json:"producerId"`
	Score      []int  `json:"score"`
}

func (ProducerScoreChanged) EventName() string { return "producerScore" }

type AutoMuteChanged struct {
	AutoMuted bool `json:"autoMuted"`
}

func (AutoMuteChanged) EventName() string { return "autoMuted" }

type SpeakingChanged struct {
	Speaking bool `json:"speaking"`
}

func (SpeakingChanged) EventName() string { return "speaking" }

type VolumeChanged struct {
	Volume int `json:"volume"`
}

func (VolumeChanged) EventName() string { return "volume" }

// DeviceDisconnected reports a capture track that ended on its own,
// typically an unplugged device. The producer has already been stopped.
type DeviceDisconnected struct {
	Source     domain.Source `json:"source"`
	ProducerID string        `json:"producerId"`
}

func (DeviceDisconnected) EventName() string { return "deviceDisconnected" }
