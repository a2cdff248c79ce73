package producer

import (
	"context"

	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

var videoCodecOptions = map[string]any{"videoGoogleStartBitrate": 1000}

func (m *Manager) StartWebcam(ctx context.Context) error {
	m.webcamMu.Lock()
	defer m.webcamMu.Unlock()
	return m.startWebcamLocked(ctx)
}

func (m *Manager) startWebcamLocked(ctx context.Context) error {
	if m.get(domain.SourceWebcam) != nil {
		return nil
	}
	m.mu.RLock()
	video := m.video
	m.mu.RUnlock()

	m.setState(domain.SourceWebcam, domain.ProducerStarting)
	e, err := m.startCamera(ctx, domain.SourceWebcam, video, video.DeviceID, m.cfg.NetworkPriorities.MainVideo)
	if err != nil {
		m.setState(domain.SourceWebcam, domain.ProducerStopped)
		return err
	}
	m.store(domain.SourceWebcam, e)
	return nil
}

// startCamera acquires a camera track and produces it. The caller stores the entry.
func (m *Manager) startCamera(ctx context.Context, src domain.Source, video config.Video, want, priority string) (*entry, error) {
	if m.transport.SendTransport() == nil || !m.transport.CanProduce(domain.KindVideo) {
		return nil, wrap(src, ErrCannotProduce)
	}
	deviceID := m.pickDevice(domain.DeviceVideoInput, want)
	c := videoConstraints(video, deviceID)
	track, err := m.devices.GetVideoTrack(ctx, c)
	if err != nil {
		return nil, wrap(src, err)
	}

	width, height := trackSize(track, c.Width, c.Height)
	encs := m.videoEncodings(width, height, false, priority)
	scalings := resolutionScalings(encs)
	e, err := m.produce(ctx, src, track, core.ProduceOptions{
		Encodings:    encs,
		CodecOptions: videoCodecOptions,
		AppData:      videoAppData(src, width, height, scalings),
	})
	if err != nil {
		track.Stop()
		return nil, wrap(src, err)
	}
	if e.info.DeviceID == "" {
		e.info.DeviceID = deviceID
	}
	e.info.ResolutionScalings = scalings
	return e, nil
}

func (m *Manager) StopWebcam(ctx context.Context) error {
	m.webcamMu.Lock()
	defer m.webcamMu.Unlock()
	m.remove(ctx, domain.SourceWebcam, "", true)
	return nil
}

// UpdateWebcam changes camera settings. Extra videos follow the new
// resolution and frame rate but keep their own devices.
func (m *Manager) UpdateWebcam(ctx context.Context, s VideoSettings) error {
	m.webcamMu.Lock()
	defer m.webcamMu.Unlock()

	m.mu.Lock()
	old := m.video
	m.video = s.apply(old)
	cur := m.video
	m.mu.Unlock()
	if old == cur {
		return nil
	}

	if e := m.get(domain.SourceWebcam); e != nil {
		applier, live := e.track.(core.ConstraintApplier)
		if !live || (s.DeviceID != nil && *s.DeviceID != e.info.DeviceID) {
			m.logger.Info().Str("producer_id", e.info.ID).Msg("restarting webcam")
			m.remove(ctx, domain.SourceWebcam, "", true)
			if err := m.startWebcamLocked(ctx); err != nil {
				return err
			}
		} else {
			if err := applier.ApplyConstraints(ctx, videoTrackSettings(videoConstraints(cur, e.info.DeviceID))); err != nil {
				return wrap(domain.SourceWebcam, err)
			}
			m.applied(e)
		}
	}

	m.extraMu.Lock()
	defer m.extraMu.Unlock()
	return m.updateExtrasLocked(ctx, cur)
}

func (m *Manager) applied(e *entry) {
	m.mu.RLock()
	info := e.info
	m.mu.RUnlock()
	m.logger.Info().Str("producer_id", info.ID).Str("source", string(info.Source)).Msg("constraints applied")
	m.events.Emit(ProducerUpdated{Producer: info})
}

// AddExtraVideo produces an additional camera and returns its producer id.
func (m *Manager) AddExtraVideo(ctx context.Context, deviceID string) (string, error) {
	m.extraMu.Lock()
	defer m.extraMu.Unlock()

	if m.deviceInUse(deviceID) {
		return "", wrap(domain.SourceExtraVideo, ErrDeviceInUse)
	}
	m.mu.RLock()
	video := m.video
	m.mu.RUnlock()

	e, err := m.startCamera(ctx, domain.SourceExtraVideo, video, deviceID, m.cfg.NetworkPriorities.AdditionalVideos)
	if err != nil {
		return "", err
	}
	m.store(domain.SourceExtraVideo, e)
	return e.info.ID, nil
}

func (m *Manager) deviceInUse(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.producers[domain.SourceWebcam]; ok && e.info.DeviceID == deviceID {
		return true
	}
	for _, e := range m.extras {
		if e.info.DeviceID == deviceID {
			return true
		}
	}
	return false
}

func (m *Manager) StopExtraVideo(ctx context.Context, producerID string) error {
	m.extraMu.Lock()
	defer m.extraMu.Unlock()
	if !m.remove(ctx, domain.SourceExtraVideo, producerID, true) {
		return wrap(domain.SourceExtraVideo, ErrNotActive)
	}
	return nil
}

func (m *Manager) updateExtrasLocked(ctx context.Context, video config.Video) error {
	m.mu.RLock()
	extras := make([]*entry, 0, len(m.extras))
	for _, e := range m.extras {
		extras = append(extras, e)
	}
	m.mu.RUnlock()

	for _, e := range extras {
		if applier, ok := e.track.(core.ConstraintApplier); ok {
			if err := applier.ApplyConstraints(ctx, videoTrackSettings(videoConstraints(video, e.info.DeviceID))); err != nil {
				return wrap(domain.SourceExtraVideo, err)
			}
			m.applied(e)
			continue
		}
		deviceID := e.info.DeviceID
		m.remove(ctx, domain.SourceExtraVideo, e.info.ID, true)
		ne, err := m.startCamera(ctx, domain.SourceExtraVideo, video, deviceID, m.cfg.NetworkPriorities.AdditionalVideos)
		if err != nil {
			return err
		}
		m.store(domain.SourceExtraVideo, ne)
	}
	return nil
}
