package media

import (
	"math"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

const silenceDB = -100

// Track adapts a mediadevices track to core.Track. It is also the local
// track the rtc engine sends.
type Track struct {
	src      mediadevices.Track
	kind     domain.Kind
	settings core.TrackSettings

	once sync.Once
}

var _ core.Track = (*Track)(nil)
var _ core.LevelReporter = (*Track)(nil)

func newTrack(src mediadevices.Track, kind domain.Kind, settings core.TrackSettings) *Track {
	return &Track{src: src, kind: kind, settings: settings}
}

func (t *Track) ID() string                    { return t.src.ID() }
func (t *Track) Kind() domain.Kind             { return t.kind }
func (t *Track) Settings() core.TrackSettings  { return t.settings }
func (t *Track) TrackLocal() webrtc.TrackLocal { return t.src }

// OnEnded fires when the capture source fails, e.g. the device is unplugged.
func (t *Track) OnEnded(fn func()) {
	t.src.OnEnded(func(error) { fn() })
}

func (t *Track) Stop() {
	t.once.Do(func() { _ = t.src.Close() })
}

// Levels meters an audio track in dBFS, one reading per captured chunk.
func (t *Track) Levels(fn func(db float64)) func() {
	at, ok := t.src.(*mediadevices.AudioTrack)
	if !ok {
		return func() {}
	}
	reader := at.NewReader(true)
	done := make(chan struct{})
	var stopOnce sync.Once

	go func() {
		for {
			chunk, release, err := reader.Read()
			if err != nil {
				return
			}
			db, ok := rmsDBFS(chunk)
			if release != nil {
				release()
			}
			select {
			case <-done:
				return
			default:
			}
			if ok {
				fn(db)
			}
		}
	}()
	return func() { stopOnce.Do(func() { close(done) }) }
}

// rmsDBFS returns the RMS level of a chunk relative to full scale. Silence
// reads as -100.
func rmsDBFS(chunk wave.Audio) (float64, bool) {
	var sum float64
	var n int
	switch a := chunk.(type) {
	case *wave.Int16Interleaved:
		for _, s := range a.Data {
			v := float64(s) / math.MaxInt16
			sum += v * v
		}
		n = len(a.Data)
	case *wave.Float32Interleaved:
		for _, s := range a.Data {
			sum += float64(s) * float64(s)
		}
		n = len(a.Data)
	default:
		return 0, false
	}
	if n == 0 {
		return 0, false
	}
	rms := math.Sqrt(sum / float64(n))
	if rms == 0 {
		return silenceDB, true
	}
	return math.Max(silenceDB, 20*math.Log10(rms)), true
}
