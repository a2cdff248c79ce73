package producer

import (
	"context"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

// StartScreenShare shares the screen, with system audio when requested and
// the capture variant supports it.
func (m *Manager) StartScreenShare(ctx context.Context, withAudio bool) error {
	m.screenMu.Lock()
	defer m.screenMu.Unlock()
	return m.startScreenLocked(ctx, withAudio)
}

func (m *Manager) startScreenLocked(ctx context.Context, withAudio bool) error {
	if m.get(domain.SourceScreen) != nil {
		return nil
	}
	if m.screen == nil || !m.screen.Available() {
		return wrap(domain.SourceScreen, ErrScreenUnavailable)
	}
	if m.transport.SendTransport() == nil || !m.transport.CanProduce(domain.KindVideo) {
		return wrap(domain.SourceScreen, ErrCannotProduce)
	}
	m.setState(domain.SourceScreen, domain.ProducerStarting)

	m.mu.RLock()
	cfg := m.screenCfg
	m.mu.RUnlock()
	width, height := cfg.Dimensions()

	video, audio, err := m.screen.Capture(ctx, core.ScreenConstraints{
		Width:     width,
		Height:    height,
		FrameRate: cfg.FrameRate,
		Audio:     withAudio && m.screen.SupportsAudio(),
	})
	if err != nil {
		m.setState(domain.SourceScreen, domain.ProducerStopped)
		return wrap(domain.SourceScreen, err)
	}
	stopAll := func() {
		video.Stop()
		if audio != nil {
			audio.Stop()
		}
		m.setState(domain.SourceScreen, domain.ProducerStopped)
	}

	width, height = trackSize(video, width, height)
	encs := m.videoEncodings(width, height, true, m.cfg.NetworkPriorities.ScreenShare)
	scalings := resolutionScalings(encs)
	e, err := m.produce(ctx, domain.SourceScreen, video, core.ProduceOptions{
		Encodings:    encs,
		CodecOptions: videoCodecOptions,
		AppData:      videoAppData(domain.SourceScreen, width, height, scalings),
	})
	if err != nil {
		stopAll()
		return wrap(domain.SourceScreen, err)
	}
	e.info.ResolutionScalings = scalings
	m.store(domain.SourceScreen, e)

	if audio == nil {
		return nil
	}
	ae, err := m.produce(ctx, domain.SourceScreenAudio, audio, core.ProduceOptions{
		Encodings: []domain.RtpEncodingParameters{{NetworkPriority: m.cfg.NetworkPriorities.ScreenShare}},
		CodecOptions: map[string]any{
			"opusStereo": true,
			"opusDtx":    true,
			"opusFec":    true,
			"opusPtime":  20,
		},
		AppData: map[string]any{"source": string(domain.SourceScreen)},
	})
	if err != nil {
		audio.Stop()
		m.logger.Warn().Err(err).Msg("screen audio not shared")
		return nil
	}
	m.store(domain.SourceScreenAudio, ae)
	return nil
}

func (m *Manager) StopScreenShare(ctx context.Context) error {
	m.screenMu.Lock()
	defer m.screenMu.Unlock()
	m.stopScreenLocked(ctx)
	return nil
}

func (m *Manager) stopScreenLocked(ctx context.Context) {
	m.remove(ctx, domain.SourceScreen, "", true)
	m.remove(ctx, domain.SourceScreenAudio, "", true)
}

// UpdateScreenShare changes capture resolution or frame rate of a running share.
func (m *Manager) UpdateScreenShare(ctx context.Context, s VideoSettings) error {
	m.screenMu.Lock()
	defer m.screenMu.Unlock()

	m.mu.Lock()
	old := m.screenCfg
	m.screenCfg = s.apply(old)
	cur := m.screenCfg
	m.mu.Unlock()

	e := m.get(domain.SourceScreen)
	if e == nil || old == cur {
		return nil
	}
	if applier, ok := e.track.(core.ConstraintApplier); ok {
		w, h := cur.Dimensions()
		if err := applier.ApplyConstraints(ctx, core.TrackSettings{Width: w, Height: h, FrameRate: cur.FrameRate}); err != nil {
			return wrap(domain.SourceScreen, err)
		}
		m.applied(e)
		return nil
	}
	withAudio := m.get(domain.SourceScreenAudio) != nil
	m.logger.Info().Str("producer_id", e.info.ID).Msg("restarting screen share")
	m.stopScreenLocked(ctx)
	return m.startScreenLocked(ctx, withAudio)
}
