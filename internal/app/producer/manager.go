package producer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

var (
	ErrCannotProduce     = errors.New("producer: cannot produce this kind")
	ErrNotActive         = errors.New("producer: not active")
	ErrScreenUnavailable = errors.New("producer: screen capture unavailable")
	ErrDeviceInUse       = errors.New("producer: device already in use")
)

// Transports is the part of the transport manager producers rely on.
type Transports interface {
	SendTransport() core.Transport
	CanProduce(kind domain.Kind) bool
	SimulcastEncodings(width, height int, screen bool) []domain.RtpEncodingParameters
}

type entry struct {
	producer core.LocalProducer
	track    core.Track
	info     domain.Producer

	// muting is set while a user pause waits for the server.
	muting bool
}

type producerRequest struct {
	ProducerID string `json:"producerId"`
}

// Manager owns the locally produced media of the session.
//
// Start and stop of one source are serialized by that source's lifecycle
// lock. State reads go through mu only, so level callbacks never wait for an
// in-flight start.
type Manager struct {
	cfg       *config.Config
	transport Transports
	signaler  core.Signaler
	devices   core.MediaDevices
	screen    core.ScreenCapturer
	logger    zerolog.Logger
	events    *core.Bus[core.Event]

	micMu    sync.Mutex
	webcamMu sync.Mutex
	screenMu sync.Mutex
	extraMu  sync.Mutex

	mu        sync.RWMutex
	audio     config.Audio
	video     config.Video
	screenCfg config.Video
	states    map[domain.Source]domain.ProducerState
	producers map[domain.Source]*entry
	extras    map[string]*entry
	vad       *voiceDetector
	stopMeter func()
	level     float64
	volume    int
}

func New(
	cfg *config.Config,
	transport Transports,
	signaler core.Signaler,
	devices core.MediaDevices,
	screen core.ScreenCapturer,
) *Manager {
	return &Manager{
		cfg:       cfg,
		transport: transport,
		signaler:  signaler,
		devices:   devices,
		screen:    screen,
		logger:    log.With().Str("module", "app.producer").Logger(),
		events:    core.NewBus[core.Event](),
		audio:     cfg.Audio,
		video:     cfg.Video,
		screenCfg: cfg.Screen,
		states:    make(map[domain.Source]domain.ProducerState),
		producers: make(map[domain.Source]*entry),
		extras:    make(map[string]*entry),
		level:     -100,
	}
}

func (m *Manager) Events() *core.Bus[core.Event] { return m.events }

func (m *Manager) lifecycle(src domain.Source) *sync.Mutex {
	switch src {
	case domain.SourceMic:
		return &m.micMu
	case domain.SourceWebcam:
		return &m.webcamMu
	case domain.SourceScreen, domain.SourceScreenAudio:
		return &m.screenMu
	default:
		return &m.extraMu
	}
}

func (m *Manager) get(src domain.Source) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.producers[src]
}

func (m *Manager) setState(src domain.Source, s domain.ProducerState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[src] = s
}

// State returns the lifecycle state of an exclusive source.
func (m *Manager) State(src domain.Source) domain.ProducerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[src]
}

// Producers returns a snapshot of every live producer.
func (m *Manager) Producers() []domain.Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Producer, 0, len(m.producers)+len(m.extras))
	for _, src := range []domain.Source{domain.SourceMic, domain.SourceWebcam, domain.SourceScreen, domain.SourceScreenAudio} {
		if e, ok := m.producers[src]; ok {
			out = append(out, e.info)
		}
	}
	ids := make([]string, 0, len(m.extras))
	for id := range m.extras {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, m.extras[id].info)
	}
	return out
}

// Producer returns the producer of an exclusive source.
func (m *Manager) Producer(src domain.Source) (domain.Producer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.producers[src]
	if !ok {
		return domain.Producer{}, false
	}
	return e.info, true
}

func (m *Manager) Devices() []domain.DeviceInfo {
	return m.devices.EnumerateDevices()
}

func (m *Manager) Speaking() bool {
	m.mu.RLock()
	vad := m.vad
	m.mu.RUnlock()
	return vad != nil && vad.Speaking()
}

// pickDevice keeps want when present, otherwise falls back to the first
// device of kind. With nothing enumerated the engine default is used.
func (m *Manager) pickDevice(kind domain.DeviceKind, want string) string {
	var first string
	for _, d := range m.devices.EnumerateDevices() {
		if d.Kind != kind || d.Screen {
			continue
		}
		if d.DeviceID == want {
			return want
		}
		if first == "" {
			first = d.DeviceID
		}
	}
	if first == "" {
		return want
	}
	return first
}

func (m *Manager) produce(ctx context.Context, src domain.Source, track core.Track, opts core.ProduceOptions) (*entry, error) {
	send := m.transport.SendTransport()
	if send == nil {
		return nil, ErrCannotProduce
	}
	opts.Track = track
	p, err := send.Produce(ctx, opts)
	if err != nil {
		return nil, err
	}
	e := &entry{
		producer: p,
		track:    track,
		info: domain.Producer{
			ID:       p.ID(),
			Source:   src,
			Kind:     track.Kind(),
			DeviceID: track.Settings().DeviceID,
			State:    domain.ProducerActive,
		},
	}
	if codecs := p.RtpParameters().Codecs; len(codecs) > 0 {
		e.info.Codec = codecs[0].MimeType
	}
	return e, nil
}

func (m *Manager) store(src domain.Source, e *entry) {
	m.mu.Lock()
	if src == domain.SourceExtraVideo {
		m.extras[e.info.ID] = e
	} else {
		m.producers[src] = e
		m.states[src] = domain.ProducerActive
	}
	m.mu.Unlock()

	id := e.info.ID
	e.track.OnEnded(func() { go m.trackEnded(src, id) })
	m.logger.Info().
		Str("producer_id", id).
		Str("source", string(src)).
		Str("device_id", e.info.DeviceID).
		Msg("producer started")
	m.events.Emit(ProducerAdded{Producer: e.info})
}

// remove drops the producer from state and tears it down. closeRemote
// controls whether the server is told to close it too.
func (m *Manager) remove(ctx context.Context, src domain.Source, id string, closeRemote bool) bool {
	m.mu.Lock()
	var e *entry
	if src == domain.SourceExtraVideo {
		e = m.extras[id]
		delete(m.extras, id)
	} else {
		e = m.producers[src]
		delete(m.producers, src)
		m.states[src] = domain.ProducerStopped
	}
	var stopMeter func()
	if src == domain.SourceMic {
		stopMeter, m.stopMeter = m.stopMeter, nil
		m.vad = nil
	}
	m.mu.Unlock()

	if stopMeter != nil {
		stopMeter()
	}
	if e == nil {
		return false
	}
	e.track.OnEnded(nil)
	e.producer.Close()
	e.track.Stop()
	if closeRemote {
		_, err := m.signaler.Request(ctx, "closeProducer", producerRequest{ProducerID: e.info.ID})
		switch {
		case errors.Is(err, core.ErrNotFound):
			m.logger.Debug().Str("producer_id", e.info.ID).Msg("producer already gone on server")
		case err != nil:
			m.logger.Warn().Err(err).Str("producer_id", e.info.ID).Msg("closeProducer failed")
		}
	}
	m.logger.Info().Str("producer_id", e.info.ID).Str("source", string(src)).Msg("producer stopped")
	e.info.State = domain.ProducerStopped
	m.events.Emit(ProducerRemoved{Producer: e.info})
	return true
}

// dropStale tears e down locally when the server no longer knows it.
func (m *Manager) dropStale(ctx context.Context, src domain.Source, e *entry, err error) {
	if !errors.Is(err, core.ErrNotFound) {
		return
	}
	m.logger.Warn().Str("producer_id", e.info.ID).Str("source", string(src)).Msg("producer unknown to server, dropping")
	m.remove(ctx, src, e.info.ID, false)
}

func (m *Manager) trackEnded(src domain.Source, id string) {
	mu := m.lifecycle(src)
	mu.Lock()
	defer mu.Unlock()

	if src != domain.SourceExtraVideo {
		e := m.get(src)
		if e == nil || e.info.ID != id {
			return
		}
	}
	m.logger.Warn().Str("producer_id", id).Str("source", string(src)).Msg("track ended")
	ctx := context.Background()
	if !m.remove(ctx, src, id, true) {
		return
	}
	if src == domain.SourceScreen {
		if a := m.get(domain.SourceScreenAudio); a != nil {
			m.remove(ctx, domain.SourceScreenAudio, a.info.ID, true)
		}
	}
	m.events.Emit(DeviceDisconnected{Source: src, ProducerID: id})
}

// SetScore records a server-reported quality score.
func (m *Manager) SetScore(producerID string, score []int) {
	m.mu.Lock()
	var found bool
	for _, e := range m.producers {
		if e.info.ID == producerID {
			e.info.Score, found = score, true
		}
	}
	if e, ok := m.extras[producerID]; ok {
		e.info.Score, found = score, true
	}
	m.mu.Unlock()
	if found {
		m.events.Emit(ProducerScoreChanged{ProducerID: producerID, Score: score})
	}
}

// CloseAll tears every producer down locally without notifying the server.
// Used when the session is lost and server state is gone anyway.
func (m *Manager) CloseAll() {
	ctx := context.Background()
	for _, src := range []domain.Source{domain.SourceMic, domain.SourceWebcam, domain.SourceScreen, domain.SourceScreenAudio} {
		mu := m.lifecycle(src)
		mu.Lock()
		m.remove(ctx, src, "", false)
		mu.Unlock()
	}
	m.extraMu.Lock()
	defer m.extraMu.Unlock()
	m.mu.RLock()
	ids := make([]string, 0, len(m.extras))
	for id := range m.extras {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.remove(ctx, domain.SourceExtraVideo, id, false)
	}
}

// resolutionScalings returns the downscale factor of every spatial layer,
// highest factor first. A single encoding is an SVC stream whose layers
// halve in size.
func resolutionScalings(encs []domain.RtpEncodingParameters) []float64 {
	if len(encs) == 1 {
		spatial, _ := domain.ParseScalabilityMode(encs[0].ScalabilityMode)
		out := make([]float64, spatial)
		for i := range out {
			out[i] = float64(int(1) << (spatial - i - 1))
		}
		return out
	}
	out := make([]float64, len(encs))
	for i, e := range encs {
		out[i] = e.ScaleResolutionDownBy
		if out[i] == 0 {
			out[i] = 1
		}
	}
	return out
}

func (m *Manager) videoEncodings(width, height int, screen bool, priority string) []domain.RtpEncodingParameters {
	simulcast := m.cfg.Media.UseSimulcast
	if screen {
		simulcast = m.cfg.Media.UseSharingSimulcast
	}
	var encs []domain.RtpEncodingParameters
	if simulcast {
		encs = m.transport.SimulcastEncodings(width, height, screen)
	}
	if len(encs) == 0 {
		encs = []domain.RtpEncodingParameters{{}}
	}
	encs[0].NetworkPriority = priority
	return encs
}

// trackSize returns the observed track resolution, falling back to the request.
func trackSize(t core.Track, width, height int) (int, int) {
	s := t.Settings()
	if s.Width > 0 && s.Height > 0 {
		return s.Width, s.Height
	}
	return width, height
}

func videoAppData(src domain.Source, width, height int, scalings []float64) map[string]any {
	return map[string]any{
		"source":             string(src),
		"width":              width,
		"height":             height,
		"resolutionScalings": scalings,
	}
}

func wrap(src domain.Source, err error) error {
	return fmt.Errorf("%s: %w", src, err)
}
