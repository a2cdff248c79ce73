package consumer

import (
	"context"
	"encoding/json"
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
	ErrNoTransport = errors.New("consumer: no receive transport")
	ErrUnknownPeer = errors.New("consumer: unknown peer")
)

// Transports is the part of the transport manager consumers rely on.
type Transports interface {
	RecvTransport() core.Transport
}

type entry struct {
	consumer core.RemoteConsumer
	info     domain.Consumer
	level    float64
	volume   int
}

type pendingAdapt struct {
	seq  uint64
	stop func() bool
}

type consumerRequest struct {
	ConsumerID string `json:"consumerId"`
}

// Manager owns the remote media received by the session.
type Manager struct {
	cfg       config.Media
	transport Transports
	signaler  core.Signaler
	logger    zerolog.Logger
	events    *core.Bus[core.Event]

	// AfterFunc schedules debounced layer adaptation. Replaced in tests.
	AfterFunc core.AfterFunc
	// KnownPeer rejects consumers of peers missing from the roster when set.
	KnownPeer func(domain.PeerID) bool

	mu        sync.RWMutex
	consumers map[string]*entry
	debounce  map[string]pendingAdapt
	seq       uint64
}

func New(cfg *config.Config, transport Transports, signaler core.Signaler) *Manager {
	return &Manager{
		cfg:       cfg.Media,
		transport: transport,
		signaler:  signaler,
		logger:    log.With().Str("module", "app.consumer").Logger(),
		events:    core.NewBus[core.Event](),
		AfterFunc: core.RealAfterFunc,
		consumers: make(map[string]*entry),
		debounce:  make(map[string]pendingAdapt),
	}
}

func (m *Manager) Events() *core.Bus[core.Event] { return m.events }

// Register installs the consumer-related server handlers on the signaler.
func (m *Manager) Register(sig core.Signaler) {
	sig.OnRequest("newConsumer", m.handleNewConsumer)
	sig.OnNotification("consumerClosed", m.handleConsumerClosed)
	sig.OnNotification("consumerPaused", m.handleConsumerPaused)
	sig.OnNotification("consumerResumed", m.handleConsumerResumed)
	sig.OnNotification("consumerLayersChanged", m.handleLayersChanged)
	sig.OnNotification("consumerScore", m.handleScore)
}

func (m *Manager) Consumer(id string) (domain.Consumer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.consumers[id]
	if !ok {
		return domain.Consumer{}, false
	}
	return e.info, true
}

// Consumers returns a snapshot ordered by id.
func (m *Manager) Consumers() []domain.Consumer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Consumer, 0, len(m.consumers))
	for _, e := range m.consumers {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ConsumersOfPeer returns the ids of every consumer of peerID.
func (m *Manager) ConsumersOfPeer(peerID domain.PeerID) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, e := range m.consumers {
		if e.info.PeerID == peerID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Consume creates a consumer for a server-announced producer. The consumer
// is resumed on the server unless its producer is paused.
func (m *Manager) Consume(ctx context.Context, req NewConsumer) (domain.Consumer, error) {
	if m.KnownPeer != nil && !m.KnownPeer(req.PeerID) {
		return domain.Consumer{}, fmt.Errorf("%w: %s", ErrUnknownPeer, req.PeerID)
	}
	recv := m.transport.RecvTransport()
	if recv == nil {
		return domain.Consumer{}, ErrNoTransport
	}
	c, err := recv.Consume(ctx, core.ConsumeOptions{
		ID:            req.ID,
		ProducerID:    req.ProducerID,
		Kind:          req.Kind,
		RtpParameters: req.RtpParameters,
		AppData: map[string]any{
			"peerId": string(req.PeerID),
			"source": string(req.AppData.Source),
		},
	})
	if err != nil {
		return domain.Consumer{}, fmt.Errorf("consume %s: %w", req.ID, err)
	}

	spatial, temporal := 1, 1
	if encs := c.RtpParameters().Encodings; len(encs) > 0 {
		spatial, temporal = domain.ParseScalabilityMode(encs[0].ScalabilityMode)
	}
	info := domain.Consumer{
		ID:                 c.ID(),
		PeerID:             req.PeerID,
		ProducerID:         req.ProducerID,
		Source:             req.AppData.Source,
		Kind:               req.Kind,
		Type:               req.Type,
		RemotelyPaused:     req.ProducerPaused,
		SpatialLayers:      spatial,
		TemporalLayers:     temporal,
		Priority:           1,
		Width:              req.AppData.Width,
		Height:             req.AppData.Height,
		ResolutionScalings: req.AppData.ResolutionScalings,
	}
	if codecs := c.RtpParameters().Codecs; len(codecs) > 0 {
		info.Codec = codecs[0].MimeType
	}
	if req.Score != nil {
		info.Score, info.ProducerScore = req.Score.Score, req.Score.ProducerScore
	}

	e := &entry{consumer: c, info: info, level: -100}
	m.mu.Lock()
	m.consumers[info.ID] = e
	m.mu.Unlock()

	if info.Kind == domain.KindAudio {
		c.OnAudioLevel(func(level int) { m.onAudioLevel(e, level) })
	}
	m.logger.Info().
		Str("consumer_id", info.ID).
		Str("peer_id", string(info.PeerID)).
		Str("kind", string(info.Kind)).
		Int("spatial_layers", spatial).
		Int("temporal_layers", temporal).
		Msg("consumer created")
	m.events.Emit(ConsumerAdded{Consumer: info})

	// Subscribers may have paused it already, e.g. a peer outside the spotlight.
	cur, ok := m.Consumer(info.ID)
	if ok && !req.ProducerPaused && !cur.LocallyPaused {
		if _, err := m.request(ctx, info.ID, "resumeConsumer"); err != nil {
			m.logger.Warn().Err(err).Str("consumer_id", info.ID).Msg("initial resume failed")
		}
		cur, _ = m.Consumer(info.ID)
	}
	return cur, nil
}

// request sends a consumer-scoped request. A not-found answer means the
// server dropped the consumer, so it is closed locally as well.
func (m *Manager) request(ctx context.Context, id, method string) (json.RawMessage, error) {
	raw, err := m.signaler.Request(ctx, method, consumerRequest{ConsumerID: id})
	if err != nil && errors.Is(err, core.ErrNotFound) {
		m.logger.Warn().Str("consumer_id", id).Str("method", method).Msg("consumer gone on server")
		m.Close(id)
	}
	return raw, err
}

func (m *Manager) get(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.consumers[id]
	if !ok {
		return nil, fmt.Errorf("consumer %s: %w", id, core.ErrNotFound)
	}
	return e, nil
}

// update mutates the record of id under the lock and returns a copy.
func (m *Manager) update(id string, fn func(c *domain.Consumer)) (domain.Consumer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.consumers[id]
	if !ok {
		return domain.Consumer{}, false
	}
	fn(&e.info)
	return e.info, true
}

// PauseConsumer pauses playback locally and on the server.
func (m *Manager) PauseConsumer(ctx context.Context, id string) error {
	e, err := m.get(id)
	if err != nil {
		return err
	}
	m.mu.RLock()
	paused := e.info.LocallyPaused
	m.mu.RUnlock()
	if paused {
		return nil
	}

	e.consumer.Pause()
	if _, err := m.request(ctx, id, "pauseConsumer"); err != nil {
		e.consumer.Resume()
		return err
	}
	if info, ok := m.update(id, func(c *domain.Consumer) { c.LocallyPaused = true }); ok {
		m.events.Emit(ConsumerPaused{Consumer: info})
	}
	return nil
}

func (m *Manager) ResumeConsumer(ctx context.Context, id string) error {
	e, err := m.get(id)
	if err != nil {
		return err
	}
	m.mu.RLock()
	paused := e.info.LocallyPaused
	m.mu.RUnlock()
	if !paused {
		return nil
	}

	e.consumer.Resume()
	if _, err := m.request(ctx, id, "resumeConsumer"); err != nil {
		e.consumer.Pause()
		return err
	}
	if info, ok := m.update(id, func(c *domain.Consumer) { c.LocallyPaused = false }); ok {
		m.events.Emit(ConsumerResumed{Consumer: info})
	}
	return nil
}

// SetPreferredLayers asks the server for the given layers, clamped to what
// the consumer carries. Nothing is sent when they are already preferred.
func (m *Manager) SetPreferredLayers(ctx context.Context, id string, spatial, temporal int) error {
	e, err := m.get(id)
	if err != nil {
		return err
	}
	m.mu.RLock()
	info := e.info
	m.mu.RUnlock()

	spatial = clamp(spatial, 0, info.SpatialLayers-1)
	temporal = clamp(temporal, 0, info.TemporalLayers-1)
	if spatial == info.PreferredSpatialLayer && temporal == info.PreferredTemporalLayer {
		return nil
	}
	if _, err := m.signaler.Request(ctx, "setConsumerPreferedLayers", map[string]any{
		"consumerId":    id,
		"spatialLayer":  spatial,
		"temporalLayer": temporal,
	}); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			m.Close(id)
		}
		return err
	}
	updated, ok := m.update(id, func(c *domain.Consumer) {
		c.PreferredSpatialLayer = spatial
		c.PreferredTemporalLayer = temporal
	})
	if ok {
		m.logger.Debug().Str("consumer_id", id).Int("spatial", spatial).Int("temporal", temporal).Msg("preferred layers")
		m.events.Emit(ConsumerUpdated{Consumer: updated})
	}
	return nil
}

func (m *Manager) SetPriority(ctx context.Context, id string, priority int) error {
	if _, err := m.get(id); err != nil {
		return err
	}
	if _, err := m.signaler.Request(ctx, "setConsumerPriority", map[string]any{
		"consumerId": id,
		"priority":   priority,
	}); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			m.Close(id)
		}
		return err
	}
	if info, ok := m.update(id, func(c *domain.Consumer) { c.Priority = priority }); ok {
		m.events.Emit(ConsumerUpdated{Consumer: info})
	}
	return nil
}

func (m *Manager) RequestKeyFrame(ctx context.Context, id string) error {
	if _, err := m.get(id); err != nil {
		return err
	}
	_, err := m.request(ctx, id, "requestConsumerKeyFrame")
	return err
}

// SetVideoEnabled resumes the video consumers of the given peers and pauses
// every other video consumer.
func (m *Manager) SetVideoEnabled(ctx context.Context, peerIDs []domain.PeerID) {
	enabled := make(map[domain.PeerID]bool, len(peerIDs))
	for _, id := range peerIDs {
		enabled[id] = true
	}
	m.mu.RLock()
	var resume, pause []string
	for id, e := range m.consumers {
		if e.info.Kind != domain.KindVideo {
			continue
		}
		if enabled[e.info.PeerID] {
			resume = append(resume, id)
		} else {
			pause = append(pause, id)
		}
	}
	m.mu.RUnlock()
	sort.Strings(resume)
	sort.Strings(pause)

	for _, id := range resume {
		if err := m.ResumeConsumer(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("consumer_id", id).Msg("resume for spotlight failed")
		}
	}
	for _, id := range pause {
		if err := m.PauseConsumer(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("consumer_id", id).Msg("pause for spotlight failed")
		}
	}
}

// Close removes a consumer locally.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	e, ok := m.consumers[id]
	delete(m.consumers, id)
	p, pending := m.debounce[id]
	delete(m.debounce, id)
	m.mu.Unlock()
	if pending {
		p.stop()
	}
	if !ok {
		return
	}
	e.consumer.Close()
	m.logger.Info().Str("consumer_id", id).Str("peer_id", string(e.info.PeerID)).Msg("consumer closed")
	m.events.Emit(ConsumerRemoved{Consumer: e.info})
}

func (m *Manager) CloseConsumersOfPeer(peerID domain.PeerID) {
	for _, id := range m.ConsumersOfPeer(peerID) {
		m.Close(id)
	}
}

func (m *Manager) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.consumers))
	for id := range m.consumers {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	for _, id := range ids {
		m.Close(id)
	}
}

func (m *Manager) onAudioLevel(e *entry, level int) {
	m.mu.Lock()
	smoothed, changed := domain.SmoothVolume(e.level, -float64(level))
	if !changed {
		m.mu.Unlock()
		return
	}
	e.level = smoothed
	volume := domain.VolumeFromDB(smoothed)
	if volume == e.volume {
		m.mu.Unlock()
		return
	}
	e.volume = volume
	peerID := e.info.PeerID
	m.mu.Unlock()
	m.events.Emit(PeerVolume{PeerID: peerID, Volume: volume})
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	return max(lo, min(v, hi))
}
