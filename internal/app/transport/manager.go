package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

const videoOrientationURI = "urn:3gpp:video-orientation"

var ErrNoTransport = errors.New("transport: not created")

// Manager owns the send and receive transports of a session.
type Manager struct {
	cfg      config.Media
	profiles map[int][]config.SimulcastEncoding
	signaler core.Signaler
	device   core.Device
	logger   zerolog.Logger
	events   *core.Bus[core.Event]

	// AfterFunc schedules ICE restarts. Replaced in tests.
	AfterFunc core.AfterFunc

	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	send       core.Transport
	recv       core.Transport
	restarters map[core.Direction]*iceRestarter
	iceServers []domain.IceServer
}

func New(cfg *config.Config, signaler core.Signaler, device core.Device) (*Manager, error) {
	profiles, err := cfg.Profiles()
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:        cfg.Media,
		profiles:   profiles,
		signaler:   signaler,
		device:     device,
		logger:     log.With().Str("module", "app.transport").Logger(),
		events:     core.NewBus[core.Event](),
		AfterFunc:  core.RealAfterFunc,
		restarters: make(map[core.Direction]*iceRestarter),
	}, nil
}

func (m *Manager) Events() *core.Bus[core.Event] { return m.events }

func (m *Manager) Device() core.Device { return m.device }

// SetIceServers stores the TURN servers announced by the room.
func (m *Manager) SetIceServers(servers []domain.IceServer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.iceServers = servers
}

// Start loads the server capabilities and creates the transports. The send
// transport is skipped when produce is false. Any previous transports are closed.
func (m *Manager) Start(ctx context.Context, produce bool) error {
	m.Close()

	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	if !m.device.Loaded() {
		caps, err := core.RequestInto[domain.RtpCapabilities](ctx, m.signaler, "getRouterRtpCapabilities", nil)
		if err != nil {
			m.Close()
			return fmt.Errorf("load capabilities: %w", err)
		}
		caps.HeaderExtensions = filterHeaderExtensions(caps.HeaderExtensions, videoOrientationURI)
		if err := m.device.Load(caps); err != nil {
			m.Close()
			return fmt.Errorf("load device: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	var send, recv core.Transport
	if produce {
		g.Go(func() error {
			t, err := m.createTransport(gctx, core.DirectionSend)
			send = t
			return err
		})
	}
	g.Go(func() error {
		t, err := m.createTransport(gctx, core.DirectionRecv)
		recv = t
		return err
	})
	if err := g.Wait(); err != nil {
		if send != nil {
			send.Close()
		}
		if recv != nil {
			recv.Close()
		}
		// drops the restarters of whichever transport did get created
		m.Close()
		return err
	}

	m.mu.Lock()
	m.send, m.recv = send, recv
	m.mu.Unlock()

	m.logger.Info().Bool("produce", produce).Msg("transports ready")
	m.events.Emit(TransportsReady{
		CanSendMic:     send != nil && m.device.CanProduce(domain.KindAudio),
		CanSendWebcam:  send != nil && m.device.CanProduce(domain.KindVideo),
		CanShareScreen: send != nil && m.device.CanProduce(domain.KindVideo),
	})
	return nil
}

type createTransportRequest struct {
	ForceTCP  bool `json:"forceTcp"`
	Producing bool `json:"producing"`
	Consuming bool `json:"consuming"`
}

func (m *Manager) createTransport(ctx context.Context, dir core.Direction) (core.Transport, error) {
	opts, err := core.RequestInto[domain.TransportOptions](ctx, m.signaler, "createWebRtcTransport", createTransportRequest{
		ForceTCP:  m.cfg.ForceTCP,
		Producing: dir == core.DirectionSend,
		Consuming: dir == core.DirectionRecv,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s transport: %w", dir, err)
	}

	m.mu.RLock()
	servers := m.iceServers
	runCtx := m.ctx
	m.mu.RUnlock()

	logger := m.logger.With().Str("transport_id", opts.ID).Logger()
	restarter := newIceRestarter(runCtx, dir, m.cfg.IceRestartDelay, m.AfterFunc, func(ctx context.Context) error {
		return m.restartIce(ctx, dir)
	}, logger)
	restarter.onFailure = func(delay time.Duration, err error) {
		m.events.Emit(IceRestartFailed{Direction: dir, NextDelay: delay, Err: err})
	}

	cfg := core.TransportConfig{
		Options:    opts,
		IceServers: servers,
		Handlers: core.TransportHandlers{
			OnConnect: func(ctx context.Context, dtls domain.DtlsParameters) error {
				_, err := m.signaler.Request(ctx, "connectWebRtcTransport", map[string]any{
					"transportId":    opts.ID,
					"dtlsParameters": dtls,
				})
				return err
			},
			OnStateChange: func(state core.ConnectionState) {
				logger.Info().Str("state", string(state)).Msg("transport state")
				restarter.OnState(state)
				m.events.Emit(TransportStateChanged{Direction: dir, State: state})
			},
		},
	}

	var t core.Transport
	if dir == core.DirectionSend {
		cfg.Handlers.OnProduce = func(ctx context.Context, kind domain.Kind, params domain.RtpParameters, appData map[string]any) (string, error) {
			res, err := core.RequestInto[struct {
				ID string `json:"id"`
			}](ctx, m.signaler, "produce", map[string]any{
				"transportId":   opts.ID,
				"kind":          kind,
				"rtpParameters": params,
				"appData":       appData,
			})
			return res.ID, err
		}
		t, err = m.device.CreateSendTransport(cfg)
	} else {
		t, err = m.device.CreateRecvTransport(cfg)
	}
	if err != nil {
		restarter.Close()
		return nil, fmt.Errorf("create %s transport: %w", dir, err)
	}

	m.mu.Lock()
	m.restarters[dir] = restarter
	m.mu.Unlock()
	logger.Info().Str("direction", string(dir)).Msg("transport created")
	return t, nil
}

// restartIce fetches fresh ICE parameters and applies them to the transport.
func (m *Manager) restartIce(ctx context.Context, dir core.Direction) error {
	t := m.transport(dir)
	if t == nil || t.Closed() {
		return ErrNoTransport
	}
	params, err := core.RequestInto[domain.IceParameters](ctx, m.signaler, "restartIce", map[string]any{
		"transportId": t.ID(),
	})
	if err != nil {
		return err
	}
	if err := t.RestartIce(ctx, params); err != nil {
		return err
	}
	m.events.Emit(IceRestarted{Direction: dir})
	return nil
}

// RestartIce restarts ICE on dir immediately.
func (m *Manager) RestartIce(ctx context.Context, dir core.Direction) error {
	return m.restartIce(ctx, dir)
}

func (m *Manager) transport(dir core.Direction) core.Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if dir == core.DirectionSend {
		return m.send
	}
	return m.recv
}

func (m *Manager) SendTransport() core.Transport { return m.transport(core.DirectionSend) }

func (m *Manager) RecvTransport() core.Transport { return m.transport(core.DirectionRecv) }

func (m *Manager) CanProduce(kind domain.Kind) bool {
	return m.SendTransport() != nil && m.device.CanProduce(kind)
}

// VideoCodec returns the first video codec of the loaded capabilities.
func (m *Manager) VideoCodec() string {
	if !m.device.Loaded() {
		return ""
	}
	return m.device.RtpCapabilities().FirstVideoCodec()
}

// Stats requests server-side statistics for every open transport.
func (m *Manager) Stats(ctx context.Context) (map[core.Direction]json.RawMessage, error) {
	out := make(map[core.Direction]json.RawMessage, 2)
	for _, dir := range []core.Direction{core.DirectionSend, core.DirectionRecv} {
		t := m.transport(dir)
		if t == nil {
			continue
		}
		raw, err := m.signaler.Request(ctx, "getTransportStats", map[string]any{"transportId": t.ID()})
		if err != nil {
			return nil, fmt.Errorf("%s transport stats: %w", dir, err)
		}
		out[dir] = raw
	}
	return out, nil
}

// Close closes both transports and cancels pending ICE restarts.
func (m *Manager) Close() {
	m.mu.Lock()
	send, recv := m.send, m.recv
	m.send, m.recv = nil, nil
	restarters := m.restarters
	m.restarters = make(map[core.Direction]*iceRestarter)
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	for _, r := range restarters {
		r.Close()
	}
	if cancel != nil {
		cancel()
	}
	if send != nil {
		send.Close()
	}
	if recv != nil {
		recv.Close()
	}
	if send != nil || recv != nil {
		m.logger.Info().Msg("transports closed")
	}
}

func filterHeaderExtensions(exts []domain.RtpHeaderExtension, uri string) []domain.RtpHeaderExtension {
	out := exts[:0:0]
	for _, e := range exts {
		if e.URI != uri {
			out = append(out, e)
		}
	}
	return out
}
