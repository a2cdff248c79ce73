package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

var ErrNoTrack = errors.New("media: capture returned no track")

// Devices acquires capture tracks through mediadevices. Drivers register
// themselves by blank import in the binary.
type Devices struct {
	codecs *mediadevices.CodecSelector
	logger zerolog.Logger

	enumerate       func() []mediadevices.MediaDeviceInfo
	getUserMedia    func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)
	getDisplayMedia func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)
}

var _ core.MediaDevices = (*Devices)(nil)

func NewDevices(codecs *mediadevices.CodecSelector) *Devices {
	return &Devices{
		codecs:          codecs,
		logger:          log.With().Str("module", "media.devices").Logger(),
		enumerate:       mediadevices.EnumerateDevices,
		getUserMedia:    mediadevices.GetUserMedia,
		getDisplayMedia: mediadevices.GetDisplayMedia,
	}
}

func (d *Devices) EnumerateDevices() []domain.DeviceInfo {
	infos := d.enumerate()
	out := make([]domain.DeviceInfo, 0, len(infos))
	for _, info := range infos {
		var kind domain.DeviceKind
		switch info.Kind {
		case mediadevices.AudioInput:
			kind = domain.DeviceAudioInput
		case mediadevices.VideoInput:
			kind = domain.DeviceVideoInput
		case mediadevices.AudioOutput:
			kind = domain.DeviceAudioOutput
		default:
			continue
		}
		out = append(out, domain.DeviceInfo{
			DeviceID: info.DeviceID,
			Kind:     kind,
			Label:    info.Label,
			Screen:   info.DeviceType == driver.Screen,
		})
	}
	return out
}

func (d *Devices) GetAudioTrack(ctx context.Context, c core.AudioConstraints) (core.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := d.getUserMedia(mediadevices.MediaStreamConstraints{
		Audio: audioConstraints(c),
		Codec: d.codecs,
	})
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, ErrNoTrack
	}
	d.logger.Debug().Str("device_id", c.DeviceID).Msg("audio track acquired")
	return newTrack(tracks[0], domain.KindAudio, core.TrackSettings{
		DeviceID:         c.DeviceID,
		SampleRate:       c.SampleRate,
		ChannelCount:     c.ChannelCount,
		SampleSize:       c.SampleSize,
		AutoGainControl:  c.AutoGainControl,
		EchoCancellation: c.EchoCancellation,
		NoiseSuppression: c.NoiseSuppression,
	}), nil
}

func (d *Devices) GetVideoTrack(ctx context.Context, c core.VideoConstraints) (core.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := d.getUserMedia(mediadevices.MediaStreamConstraints{
		Video: videoConstraints(c.DeviceID, c.Width, c.Height, c.FrameRate),
		Codec: d.codecs,
	})
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, ErrNoTrack
	}
	d.logger.Debug().Str("device_id", c.DeviceID).Int("width", c.Width).Int("height", c.Height).Msg("video track acquired")
	return newTrack(tracks[0], domain.KindVideo, core.TrackSettings{
		DeviceID:  c.DeviceID,
		Width:     c.Width,
		Height:    c.Height,
		FrameRate: c.FrameRate,
	}), nil
}

// audioConstraints maps the requested settings onto mediadevices props.
// Gain control, echo cancellation and noise suppression have no driver
// equivalent and only travel in the track settings.
func audioConstraints(c core.AudioConstraints) mediadevices.MediaOption {
	return func(mc *mediadevices.MediaTrackConstraints) {
		if c.DeviceID != "" {
			mc.DeviceID = prop.String(c.DeviceID)
		}
		if c.SampleRate > 0 {
			mc.SampleRate = prop.Int(c.SampleRate)
		}
		if c.ChannelCount > 0 {
			mc.ChannelCount = prop.Int(c.ChannelCount)
		}
		if c.SampleSize > 0 {
			mc.SampleSize = prop.Int(c.SampleSize)
		}
	}
}

func videoConstraints(deviceID string, width, height, frameRate int) mediadevices.MediaOption {
	return func(mc *mediadevices.MediaTrackConstraints) {
		if deviceID != "" {
			mc.DeviceID = prop.String(deviceID)
		}
		if width > 0 {
			mc.Width = prop.Int(width)
		}
		if height > 0 {
			mc.Height = prop.Int(height)
		}
		if frameRate > 0 {
			mc.FrameRate = prop.Float(float64(frameRate))
		}
	}
}
