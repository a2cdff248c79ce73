package coretest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

var trackSeq atomic.Int64

// Track is a capture track whose engine cannot apply live constraints.
type Track struct {
	id   string
	kind domain.Kind

	mu       sync.Mutex
	settings core.TrackSettings
	stopped  bool
	ended    func()
}

func NewTrack(kind domain.Kind, s core.TrackSettings) *Track {
	return &Track{
		id:       fmt.Sprintf("track-%d", trackSeq.Add(1)),
		kind:     kind,
		settings: s,
	}
}

func (t *Track) ID() string        { return t.id }
func (t *Track) Kind() domain.Kind { return t.kind }

func (t *Track) Settings() core.TrackSettings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ended = fn
}

func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// End simulates the device disappearing.
func (t *Track) End() {
	t.mu.Lock()
	fn := t.ended
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// LiveTrack also applies constraints in place and reports input levels.
type LiveTrack struct {
	*Track

	lmu     sync.Mutex
	applied []core.TrackSettings
	levelFn func(db float64)
}

func NewLiveTrack(kind domain.Kind, s core.TrackSettings) *LiveTrack {
	return &LiveTrack{Track: NewTrack(kind, s)}
}

func (t *LiveTrack) ApplyConstraints(ctx context.Context, s core.TrackSettings) error {
	t.lmu.Lock()
	t.applied = append(t.applied, s)
	t.lmu.Unlock()
	t.Track.mu.Lock()
	t.Track.settings = s
	t.Track.mu.Unlock()
	return nil
}

func (t *LiveTrack) Applied() []core.TrackSettings {
	t.lmu.Lock()
	defer t.lmu.Unlock()
	return append([]core.TrackSettings(nil), t.applied...)
}

func (t *LiveTrack) Levels(fn func(db float64)) func() {
	t.lmu.Lock()
	defer t.lmu.Unlock()
	t.levelFn = fn
	return func() {
		t.lmu.Lock()
		defer t.lmu.Unlock()
		t.levelFn = nil
	}
}

// Feed pushes one level reading to the registered meter.
func (t *LiveTrack) Feed(db float64) {
	t.lmu.Lock()
	fn := t.levelFn
	t.lmu.Unlock()
	if fn != nil {
		fn(db)
	}
}

// MediaDevices hands out fake tracks and records every acquisition.
type MediaDevices struct {
	mu       sync.Mutex
	Devices  []domain.DeviceInfo
	Live     bool
	AudioErr error
	VideoErr error

	audio  []core.AudioConstraints
	video  []core.VideoConstraints
	tracks []core.Track
}

var _ core.MediaDevices = (*MediaDevices)(nil)

func (m *MediaDevices) EnumerateDevices() []domain.DeviceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Devices
}

func (m *MediaDevices) GetAudioTrack(ctx context.Context, c core.AudioConstraints) (core.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio = append(m.audio, c)
	if m.AudioErr != nil {
		return nil, m.AudioErr
	}
	s := core.TrackSettings{
		DeviceID:         c.DeviceID,
		SampleRate:       c.SampleRate,
		ChannelCount:     c.ChannelCount,
		SampleSize:       c.SampleSize,
		AutoGainControl:  c.AutoGainControl,
		EchoCancellation: c.EchoCancellation,
		NoiseSuppression: c.NoiseSuppression,
	}
	var t core.Track
	if m.Live {
		t = NewLiveTrack(domain.KindAudio, s)
	} else {
		t = NewTrack(domain.KindAudio, s)
	}
	m.tracks = append(m.tracks, t)
	return t, nil
}

func (m *MediaDevices) GetVideoTrack(ctx context.Context, c core.VideoConstraints) (core.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.video = append(m.video, c)
	if m.VideoErr != nil {
		return nil, m.VideoErr
	}
	t := NewTrack(domain.KindVideo, core.TrackSettings{
		DeviceID:  c.DeviceID,
		Width:     c.Width,
		Height:    c.Height,
		FrameRate: c.FrameRate,
	})
	m.tracks = append(m.tracks, t)
	return t, nil
}

func (m *MediaDevices) AudioRequests() []core.AudioConstraints {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.AudioConstraints(nil), m.audio...)
}

func (m *MediaDevices) VideoRequests() []core.VideoConstraints {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.VideoConstraints(nil), m.video...)
}

// LastTrack returns the most recently acquired track.
func (m *MediaDevices) LastTrack() core.Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tracks) == 0 {
		return nil
	}
	return m.tracks[len(m.tracks)-1]
}

// ScreenCapturer returns fake screen tracks.
type ScreenCapturer struct {
	Audio bool
	Err   error
	Last  []*Track
}

var _ core.ScreenCapturer = (*ScreenCapturer)(nil)

func (s *ScreenCapturer) Name() string        { return "fake" }
func (s *ScreenCapturer) Available() bool     { return true }
func (s *ScreenCapturer) SupportsAudio() bool { return s.Audio }

func (s *ScreenCapturer) Capture(ctx context.Context, c core.ScreenConstraints) (core.Track, core.Track, error) {
	if s.Err != nil {
		return nil, nil, s.Err
	}
	video := NewTrack(domain.KindVideo, core.TrackSettings{Width: c.Width, Height: c.Height, FrameRate: c.FrameRate})
	s.Last = []*Track{video}
	if c.Audio && s.Audio {
		audio := NewTrack(domain.KindAudio, core.TrackSettings{})
		s.Last = append(s.Last, audio)
		return video, audio, nil
	}
	return video, nil, nil
}
