package producer

import (
	"context"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

func (m *Manager) StartMic(ctx context.Context) error {
	m.micMu.Lock()
	defer m.micMu.Unlock()
	return m.startMicLocked(ctx)
}

func (m *Manager) startMicLocked(ctx context.Context) error {
	if m.get(domain.SourceMic) != nil {
		return nil
	}
	if m.transport.SendTransport() == nil || !m.transport.CanProduce(domain.KindAudio) {
		return wrap(domain.SourceMic, ErrCannotProduce)
	}
	m.setState(domain.SourceMic, domain.ProducerStarting)

	m.mu.RLock()
	audio := m.audio
	m.mu.RUnlock()

	deviceID := m.pickDevice(domain.DeviceAudioInput, audio.DeviceID)
	track, err := m.devices.GetAudioTrack(ctx, audioConstraints(audio, deviceID))
	if err != nil {
		m.setState(domain.SourceMic, domain.ProducerStopped)
		return wrap(domain.SourceMic, err)
	}

	e, err := m.produce(ctx, domain.SourceMic, track, core.ProduceOptions{
		Encodings: []domain.RtpEncodingParameters{{NetworkPriority: m.cfg.NetworkPriorities.Audio}},
		CodecOptions: map[string]any{
			"opusStereo":          audio.ChannelCount > 1,
			"opusDtx":             true,
			"opusFec":             true,
			"opusPtime":           20,
			"opusMaxPlaybackRate": 96000,
		},
		AppData: map[string]any{"source": string(domain.SourceMic)},
	})
	if err != nil {
		track.Stop()
		m.setState(domain.SourceMic, domain.ProducerStopped)
		return wrap(domain.SourceMic, err)
	}
	if e.info.DeviceID == "" {
		e.info.DeviceID = deviceID
	}
	m.store(domain.SourceMic, e)
	m.startVoiceDetection(track, audio.NoiseThreshold)
	return nil
}

func (m *Manager) StopMic(ctx context.Context) error {
	m.micMu.Lock()
	defer m.micMu.Unlock()
	m.remove(ctx, domain.SourceMic, "", true)
	return nil
}

// MuteMic pauses the microphone on behalf of the user. Voice activation
// never resumes a producer muted this way.
func (m *Manager) MuteMic(ctx context.Context) error {
	m.micMu.Lock()
	defer m.micMu.Unlock()
	return m.muteMicLocked(ctx)
}

func (m *Manager) muteMicLocked(ctx context.Context) error {
	e := m.get(domain.SourceMic)
	if e == nil {
		return wrap(domain.SourceMic, ErrNotActive)
	}
	m.mu.Lock()
	wasPaused, wasAutoMuted := e.producer.Paused(), e.info.AutoMuted
	e.muting = true
	e.info.AutoMuted = false
	e.producer.Pause()
	m.mu.Unlock()

	if _, err := m.signaler.Request(ctx, "pauseProducer", producerRequest{ProducerID: e.producer.ID()}); err != nil {
		m.mu.Lock()
		e.muting = false
		e.info.AutoMuted = wasAutoMuted
		if !wasPaused {
			e.producer.Resume()
		}
		m.mu.Unlock()
		m.dropStale(ctx, domain.SourceMic, e, err)
		return wrap(domain.SourceMic, err)
	}

	m.mu.Lock()
	e.muting = false
	e.info.Paused = true
	e.info.AutoMuted = false
	e.info.State = domain.ProducerPaused
	m.states[domain.SourceMic] = domain.ProducerPaused
	info := e.info
	m.mu.Unlock()

	m.logger.Info().Str("producer_id", info.ID).Msg("mic muted")
	m.events.Emit(ProducerPaused{Producer: info})
	return nil
}

// UnmuteMic resumes the microphone, starting it when absent.
func (m *Manager) UnmuteMic(ctx context.Context) error {
	m.micMu.Lock()
	defer m.micMu.Unlock()

	e := m.get(domain.SourceMic)
	if e == nil {
		return m.startMicLocked(ctx)
	}
	wasPaused := e.producer.Paused()
	e.producer.Resume()
	if _, err := m.signaler.Request(ctx, "resumeProducer", producerRequest{ProducerID: e.producer.ID()}); err != nil {
		if wasPaused {
			e.producer.Pause()
		}
		m.dropStale(ctx, domain.SourceMic, e, err)
		return wrap(domain.SourceMic, err)
	}

	m.mu.Lock()
	e.info.Paused = false
	e.info.AutoMuted = false
	e.info.State = domain.ProducerActive
	m.states[domain.SourceMic] = domain.ProducerActive
	info := e.info
	m.mu.Unlock()

	m.logger.Info().Str("producer_id", info.ID).Msg("mic unmuted")
	m.events.Emit(ProducerResumed{Producer: info})
	return nil
}

// UpdateMic changes microphone settings. Capture constraints are applied to
// the live track when its engine supports it; a device change or an engine
// without live constraints restarts the producer, keeping its mute state.
func (m *Manager) UpdateMic(ctx context.Context, s AudioSettings) error {
	m.micMu.Lock()
	defer m.micMu.Unlock()

	m.mu.Lock()
	old := m.audio
	m.audio = s.apply(old)
	cur := m.audio
	vad := m.vad
	m.mu.Unlock()

	if vad != nil {
		vad.setThreshold(cur.NoiseThreshold)
	}
	e := m.get(domain.SourceMic)
	if e == nil || !audioTrackChanged(old, cur) {
		return nil
	}

	applier, live := e.track.(core.ConstraintApplier)
	if !live || (s.DeviceID != nil && *s.DeviceID != e.info.DeviceID) {
		return m.restartMicLocked(ctx, e)
	}

	c := audioConstraints(cur, e.info.DeviceID)
	if err := applier.ApplyConstraints(ctx, audioTrackSettings(c)); err != nil {
		return wrap(domain.SourceMic, err)
	}
	m.mu.RLock()
	info := e.info
	m.mu.RUnlock()
	m.logger.Info().Str("producer_id", info.ID).Msg("mic constraints applied")
	m.events.Emit(ProducerUpdated{Producer: info})
	return nil
}

func (m *Manager) restartMicLocked(ctx context.Context, e *entry) error {
	m.mu.RLock()
	muted := e.info.Paused
	m.mu.RUnlock()

	m.logger.Info().Str("producer_id", e.info.ID).Bool("muted", muted).Msg("restarting mic")
	m.remove(ctx, domain.SourceMic, "", true)
	if err := m.startMicLocked(ctx); err != nil {
		return err
	}
	if muted {
		return m.muteMicLocked(ctx)
	}
	return nil
}

func (m *Manager) startVoiceDetection(track core.Track, threshold float64) {
	lr, ok := track.(core.LevelReporter)
	if !ok {
		return
	}
	vad := newVoiceDetector(threshold, vadHistory)
	m.mu.Lock()
	m.vad = vad
	m.mu.Unlock()

	stop := lr.Levels(func(db float64) { m.onLevel(vad, db) })

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vad != vad {
		stop()
		return
	}
	m.stopMeter = stop
}

func (m *Manager) onLevel(vad *voiceDetector, db float64) {
	m.reportVolume(db)
	switch vad.feed(db) {
	case vadSpeaking:
		m.onSpeaking()
	case vadStopped:
		m.onStoppedSpeaking()
	}
}

func (m *Manager) reportVolume(db float64) {
	m.mu.Lock()
	level, changed := domain.SmoothVolume(m.level, db)
	if !changed {
		m.mu.Unlock()
		return
	}
	m.level = level
	volume := domain.VolumeFromDB(level)
	if volume == m.volume {
		m.mu.Unlock()
		return
	}
	m.volume = volume
	m.mu.Unlock()
	m.events.Emit(VolumeChanged{Volume: volume})
}

func (m *Manager) onSpeaking() {
	m.mu.Lock()
	var resumed bool
	if e := m.producers[domain.SourceMic]; e != nil && e.info.AutoMuted && !e.muting {
		e.producer.Resume()
		e.info.AutoMuted = false
		resumed = true
	}
	m.mu.Unlock()

	m.events.Emit(SpeakingChanged{Speaking: true})
	if resumed {
		m.logger.Debug().Msg("voice activity, mic resumed")
		m.events.Emit(AutoMuteChanged{AutoMuted: false})
	}
}

func (m *Manager) onStoppedSpeaking() {
	m.mu.Lock()
	var muted bool
	e := m.producers[domain.SourceMic]
	if m.audio.VoiceActivatedUnmute && e != nil && !e.muting && !e.info.Paused && !e.info.AutoMuted && !e.producer.Paused() {
		e.producer.Pause()
		e.info.AutoMuted = true
		muted = true
	}
	m.mu.Unlock()

	m.events.Emit(SpeakingChanged{Speaking: false})
	if muted {
		m.logger.Debug().Msg("silence, mic auto-muted")
		m.events.Emit(AutoMuteChanged{AutoMuted: true})
	}
}
