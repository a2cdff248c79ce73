package media

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/driver"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

var ErrNoScreen = errors.New("media: no screen capture device")

// SelectScreenCapturer picks the capture variant for the platform once at
// startup. Linux captures through the display driver and takes system audio
// from a PulseAudio monitor source; elsewhere a screen device is opened with
// explicit constraints.
func SelectScreenCapturer(goos string, d *Devices) core.ScreenCapturer {
	if goos == "linux" {
		return &displayCapture{devices: d}
	}
	return &constrainedCapture{devices: d}
}

func (d *Devices) screenDevice() (mediadevices.MediaDeviceInfo, bool) {
	for _, info := range d.enumerate() {
		if info.Kind == mediadevices.VideoInput && info.DeviceType == driver.Screen {
			return info, true
		}
	}
	return mediadevices.MediaDeviceInfo{}, false
}

// monitorDevice finds a loopback input carrying what the system plays.
func (d *Devices) monitorDevice() (mediadevices.MediaDeviceInfo, bool) {
	for _, info := range d.enumerate() {
		if info.Kind != mediadevices.AudioInput {
			continue
		}
		label := strings.ToLower(info.Label)
		if strings.HasSuffix(label, ".monitor") || strings.HasPrefix(label, "monitor of") {
			return info, true
		}
	}
	return mediadevices.MediaDeviceInfo{}, false
}

type displayCapture struct {
	devices *Devices
}

func (c *displayCapture) Name() string { return "display" }

func (c *displayCapture) Available() bool {
	_, ok := c.devices.screenDevice()
	return ok
}

func (c *displayCapture) SupportsAudio() bool {
	_, ok := c.devices.monitorDevice()
	return ok
}

func (c *displayCapture) Capture(ctx context.Context, sc core.ScreenConstraints) (core.Track, core.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	stream, err := c.devices.getDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: videoConstraints("", sc.Width, sc.Height, sc.FrameRate),
		Codec: c.devices.codecs,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("get display media: %w", err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, nil, ErrNoTrack
	}
	video := newTrack(tracks[0], domain.KindVideo, core.TrackSettings{Width: sc.Width, Height: sc.Height, FrameRate: sc.FrameRate})
	if !sc.Audio {
		return video, nil, nil
	}

	monitor, ok := c.devices.monitorDevice()
	if !ok {
		return video, nil, nil
	}
	audio, err := c.devices.GetAudioTrack(ctx, core.AudioConstraints{DeviceID: monitor.DeviceID, ChannelCount: 2})
	if err != nil {
		log.Warn().Err(err).Str("module", "media.screen").Str("device_id", monitor.DeviceID).Msg("system audio unavailable")
		return video, nil, nil
	}
	return video, audio, nil
}

// constrainedCapture opens the first screen device through getUserMedia.
type constrainedCapture struct {
	devices *Devices
}

func (c *constrainedCapture) Name() string        { return "constrained" }
func (c *constrainedCapture) SupportsAudio() bool { return false }

func (c *constrainedCapture) Available() bool {
	_, ok := c.devices.screenDevice()
	return ok
}

func (c *constrainedCapture) Capture(ctx context.Context, sc core.ScreenConstraints) (core.Track, core.Track, error) {
	screen, ok := c.devices.screenDevice()
	if !ok {
		return nil, nil, ErrNoScreen
	}
	video, err := c.devices.GetVideoTrack(ctx, core.VideoConstraints{
		DeviceID:  screen.DeviceID,
		Width:     sc.Width,
		Height:    sc.Height,
		FrameRate: sc.FrameRate,
	})
	if err != nil {
		return nil, nil, err
	}
	return video, nil, nil
}
