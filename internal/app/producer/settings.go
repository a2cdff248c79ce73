package producer

import (
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
)

// AudioSettings lists microphone settings to change. Nil fields keep their value.
type AudioSettings struct {
	DeviceID             *string  `json:"deviceId,omitempty"`
	SampleRate           *int     `json:"sampleRate,omitempty"`
	ChannelCount         *int     `json:"channelCount,omitempty"`
	SampleSize           *int     `json:"sampleSize,omitempty"`
	AutoGainControl      *bool    `json:"autoGainControl,omitempty"`
	EchoCancellation     *bool    `json:"echoCancellation,omitempty"`
	NoiseSuppression     *bool    `json:"noiseSuppression,omitempty"`
	VoiceActivatedUnmute *bool    `json:"voiceActivatedUnmute,omitempty"`
	NoiseThreshold       *float64 `json:"noiseThreshold,omitempty"`
}

func (s AudioSettings) apply(a config.Audio) config.Audio {
	set(&a.DeviceID, s.DeviceID)
	set(&a.SampleRate, s.SampleRate)
	set(&a.ChannelCount, s.ChannelCount)
	set(&a.SampleSize, s.SampleSize)
	set(&a.AutoGainControl, s.AutoGainControl)
	set(&a.EchoCancellation, s.EchoCancellation)
	set(&a.NoiseSuppression, s.NoiseSuppression)
	set(&a.VoiceActivatedUnmute, s.VoiceActivatedUnmute)
	set(&a.NoiseThreshold, s.NoiseThreshold)
	return a
}

// VideoSettings lists webcam or screen settings to change. Nil fields keep their value.
type VideoSettings struct {
	DeviceID    *string  `json:"deviceId,omitempty"`
	Resolution  *string  `json:"resolution,omitempty"`
	AspectRatio *float64 `json:"aspectRatio,omitempty"`
	FrameRate   *int     `json:"frameRate,omitempty"`
}

func (s VideoSettings) apply(v config.Video) config.Video {
	set(&v.DeviceID, s.DeviceID)
	set(&v.Resolution, s.Resolution)
	set(&v.AspectRatio, s.AspectRatio)
	set(&v.FrameRate, s.FrameRate)
	return v
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func audioConstraints(a config.Audio, deviceID string) core.AudioConstraints {
	return core.AudioConstraints{
		DeviceID:         deviceID,
		SampleRate:       a.SampleRate,
		ChannelCount:     a.ChannelCount,
		SampleSize:       a.SampleSize,
		AutoGainControl:  a.AutoGainControl,
		EchoCancellation: a.EchoCancellation,
		NoiseSuppression: a.NoiseSuppression,
	}
}

func audioTrackSettings(c core.AudioConstraints) core.TrackSettings {
	return core.TrackSettings{
		DeviceID:         c.DeviceID,
		SampleRate:       c.SampleRate,
		ChannelCount:     c.ChannelCount,
		SampleSize:       c.SampleSize,
		AutoGainControl:  c.AutoGainControl,
		EchoCancellation: c.EchoCancellation,
		NoiseSuppression: c.NoiseSuppression,
	}
}

func videoConstraints(v config.Video, deviceID string) core.VideoConstraints {
	w, h := v.Dimensions()
	return core.VideoConstraints{DeviceID: deviceID, Width: w, Height: h, FrameRate: v.FrameRate}
}

func videoTrackSettings(c core.VideoConstraints) core.TrackSettings {
	return core.TrackSettings{DeviceID: c.DeviceID, Width: c.Width, Height: c.Height, FrameRate: c.FrameRate}
}

// audioTrackChanged reports whether any capture constraint differs.
// Voice detection settings are not track constraints.
func audioTrackChanged(old, cur config.Audio) bool {
	old.VoiceActivatedUnmute, cur.VoiceActivatedUnmute = false, false
	old.NoiseThreshold, cur.NoiseThreshold = 0, 0
	return old != cur
}
