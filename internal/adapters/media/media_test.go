package media

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

func fakeDevices(infos ...mediadevices.MediaDeviceInfo) *Devices {
	d := NewDevices(nil)
	d.enumerate = func() []mediadevices.MediaDeviceInfo { return infos }
	return d
}

var (
	mic     = mediadevices.MediaDeviceInfo{DeviceID: "mic-1", Kind: mediadevices.AudioInput, Label: "USB Mic", DeviceType: driver.Microphone}
	monitor = mediadevices.MediaDeviceInfo{DeviceID: "mon-1", Kind: mediadevices.AudioInput, Label: "alsa_output.pci.analog-stereo.monitor", DeviceType: driver.Microphone}
	camera  = mediadevices.MediaDeviceInfo{DeviceID: "cam-1", Kind: mediadevices.VideoInput, Label: "Webcam", DeviceType: driver.Camera}
	screen  = mediadevices.MediaDeviceInfo{DeviceID: "scr-1", Kind: mediadevices.VideoInput, Label: "Screen 0", DeviceType: driver.Screen}
)

func TestEnumerateDevices(t *testing.T) {
	d := fakeDevices(mic, camera, screen)
	assert.Equal(t, []domain.DeviceInfo{
		{DeviceID: "mic-1", Kind: domain.DeviceAudioInput, Label: "USB Mic"},
		{DeviceID: "cam-1", Kind: domain.DeviceVideoInput, Label: "Webcam"},
		{DeviceID: "scr-1", Kind: domain.DeviceVideoInput, Label: "Screen 0", Screen: true},
	}, d.EnumerateDevices())
}

func TestConstraints(t *testing.T) {
	var mc mediadevices.MediaTrackConstraints
	audioConstraints(core.AudioConstraints{DeviceID: "mic-1", SampleRate: 48000, ChannelCount: 1})(&mc)
	assert.Equal(t, prop.String("mic-1"), mc.DeviceID)
	assert.Equal(t, prop.Int(48000), mc.SampleRate)
	assert.Equal(t, prop.Int(1), mc.ChannelCount)
	assert.Nil(t, mc.SampleSize)

	mc = mediadevices.MediaTrackConstraints{}
	videoConstraints("", 1280, 720, 30)(&mc)
	assert.Nil(t, mc.DeviceID)
	assert.Equal(t, prop.Int(1280), mc.Width)
	assert.Equal(t, prop.Int(720), mc.Height)
	assert.Equal(t, prop.Float(30), mc.FrameRate)
}

func TestGetTrackErrors(t *testing.T) {
	d := fakeDevices(mic)
	boom := errors.New("device busy")
	d.getUserMedia = func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
		return nil, boom
	}
	_, err := d.GetAudioTrack(context.Background(), core.AudioConstraints{DeviceID: "mic-1"})
	assert.ErrorIs(t, err, boom)

	d.getUserMedia = func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
		return mediadevices.NewMediaStream()
	}
	_, err = d.GetVideoTrack(context.Background(), core.VideoConstraints{})
	assert.ErrorIs(t, err, ErrNoTrack)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.GetAudioTrack(ctx, core.AudioConstraints{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSelectScreenCapturer(t *testing.T) {
	d := fakeDevices(mic, monitor, screen)
	linux := SelectScreenCapturer("linux", d)
	assert.Equal(t, "display", linux.Name())
	assert.True(t, linux.Available())
	assert.True(t, linux.SupportsAudio())

	other := SelectScreenCapturer("windows", d)
	assert.Equal(t, "constrained", other.Name())
	assert.True(t, other.Available())
	assert.False(t, other.SupportsAudio())

	bare := fakeDevices(mic, camera)
	assert.False(t, SelectScreenCapturer("linux", bare).Available())
	assert.False(t, SelectScreenCapturer("linux", bare).SupportsAudio())
	_, _, err := SelectScreenCapturer("darwin", bare).Capture(context.Background(), core.ScreenConstraints{})
	assert.ErrorIs(t, err, ErrNoScreen)
}

func TestConstrainedCaptureOpensScreenDevice(t *testing.T) {
	d := fakeDevices(camera, screen)
	var got mediadevices.MediaTrackConstraints
	d.getUserMedia = func(c mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error) {
		c.Video(&got)
		return mediadevices.NewMediaStream()
	}
	_, _, err := SelectScreenCapturer("windows", d).Capture(context.Background(), core.ScreenConstraints{Width: 1920, Height: 1080, FrameRate: 5})
	assert.ErrorIs(t, err, ErrNoTrack)
	assert.Equal(t, prop.String("scr-1"), got.DeviceID)
	assert.Equal(t, prop.Int(1920), got.Width)
	assert.Equal(t, prop.Float(5), got.FrameRate)
}

func TestRMSDBFS(t *testing.T) {
	info := wave.ChunkInfo{Len: 4, Channels: 1, SamplingRate: 48000}

	full := &wave.Int16Interleaved{Data: []int16{math.MaxInt16, -math.MaxInt16, math.MaxInt16, -math.MaxInt16}, Size: info}
	db, ok := rmsDBFS(full)
	require.True(t, ok)
	assert.InDelta(t, 0, db, 0.01)

	half := &wave.Float32Interleaved{Data: []float32{0.5, -0.5, 0.5, -0.5}, Size: info}
	db, ok = rmsDBFS(half)
	require.True(t, ok)
	assert.InDelta(t, -6.02, db, 0.01)

	silent := &wave.Int16Interleaved{Data: make([]int16, 4), Size: info}
	db, ok = rmsDBFS(silent)
	require.True(t, ok)
	assert.Equal(t, float64(silenceDB), db)

	_, ok = rmsDBFS(&wave.Int16Interleaved{Size: info})
	assert.False(t, ok)
}
