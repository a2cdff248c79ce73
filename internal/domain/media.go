package domain

import (
	"math"
	"regexp"
	"strconv"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

type Source string

const (
	SourceMic         Source = "mic"
	SourceWebcam      Source = "webcam"
	SourceScreen      Source = "screen"
	SourceScreenAudio Source = "screenaudio"
	SourceExtraVideo  Source = "extravideo"
)

type ProducerState int

const (
	ProducerStopped ProducerState = iota
	ProducerStarting
	ProducerActive
	ProducerPaused
)

func (s ProducerState) String() string {
	switch s {
	case ProducerStarting:
		return "starting"
	case ProducerActive:
		return "active"
	case ProducerPaused:
		return "paused"
	default:
		return "stopped"
	}
}

type Producer struct {
	ID                 string        `json:"id"`
	Source             Source        `json:"source"`
	Kind               Kind          `json:"kind"`
	DeviceID           string        `json:"deviceId,omitempty"`
	State              ProducerState `json:"-"`
	Paused             bool          `json:"paused"`
	AutoMuted          bool          `json:"autoMuted,omitempty"`
	Codec              string        `json:"codec,omitempty"`
	ResolutionScalings []float64     `json:"resolutionScalings,omitempty"`
	Score              []int         `json:"score,omitempty"`
}

type Consumer struct {
	ID                     string    `json:"id"`
	PeerID                 PeerID    `json:"peerId"`
	ProducerID             string    `json:"producerId"`
	Source                 Source    `json:"source"`
	Kind                   Kind      `json:"kind"`
	Type                   string    `json:"type"`
	LocallyPaused          bool      `json:"locallyPaused"`
	RemotelyPaused         bool      `json:"remotelyPaused"`
	SpatialLayers          int       `json:"spatialLayers"`
	TemporalLayers         int       `json:"temporalLayers"`
	PreferredSpatialLayer  int       `json:"preferredSpatialLayer"`
	PreferredTemporalLayer int       `json:"preferredTemporalLayer"`
	CurrentSpatialLayer    int       `json:"currentSpatialLayer"`
	CurrentTemporalLayer   int       `json:"currentTemporalLayer"`
	Priority               int       `json:"priority"`
	Score                  int       `json:"score"`
	ProducerScore          int       `json:"producerScore"`
	Width                  int       `json:"width,omitempty"`
	Height                 int       `json:"height,omitempty"`
	ResolutionScalings     []float64 `json:"resolutionScalings,omitempty"`
	Codec                  string    `json:"codec,omitempty"`
}

// Visible reports whether playback is allowed on both sides.
func (c *Consumer) Visible() bool {
	return !c.LocallyPaused && !c.RemotelyPaused
}

// Simple consumers carry one layer and are never adapted.
func (c *Consumer) Simple() bool {
	return c.Type == "simple" || c.SpatialLayers <= 1
}

var scalabilityModeRe = regexp.MustCompile(`^[LS]([1-9][0-9]?)T([1-9][0-9]?)`)

// ParseScalabilityMode extracts spatial and temporal layer counts from
// modes such as "S3T3" or "L1T3_KEY". Unknown modes give 1, 1.
func ParseScalabilityMode(mode string) (spatial, temporal int) {
	m := scalabilityModeRe.FindStringSubmatch(mode)
	if m == nil {
		return 1, 1
	}
	spatial, _ = strconv.Atoi(m[1])
	temporal, _ = strconv.Atoi(m[2])
	return spatial, temporal
}

// VolumeFromDB maps a dBFS reading to the 0..10 volume scale reported to peers.
func VolumeFromDB(db float64) int {
	v := int(math.Round(math.Pow(10, db/85) * 10))
	if v <= 1 {
		return 0
	}
	return v
}

// SmoothVolume applies falling-edge decay to a dBFS level reading. Drops
// decay fast when far below the previous value and slow when close to it.
// It reports false when the change is too small to publish.
func SmoothVolume(last, db float64) (float64, bool) {
	db = math.Max(-100, math.Min(0, db))
	if math.Abs(db-last) <= 0.5 {
		return last, false
	}
	if db < last {
		db = last - math.Pow((db-last)/(100+last), 2)*10
	}
	return db, true
}

type DeviceKind string

const (
	DeviceAudioInput  DeviceKind = "audioinput"
	DeviceVideoInput  DeviceKind = "videoinput"
	DeviceAudioOutput DeviceKind = "audiooutput"
)

type DeviceInfo struct {
	DeviceID string     `json:"deviceId"`
	Kind     DeviceKind `json:"kind"`
	Label    string     `json:"label"`
	Screen   bool       `json:"screen,omitempty"`
}
