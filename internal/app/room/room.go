package room

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/Meet/internal/app/consumer"
	"github.com/dkeye/Meet/internal/app/producer"
	"github.com/dkeye/Meet/internal/app/spotlight"
	"github.com/dkeye/Meet/internal/app/transport"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

var (
	ErrClosed       = errors.New("room: closed")
	ErrNotConnected = errors.New("room: not connected")
	ErrNotPermitted = errors.New("room: not permitted")
)

// Room composes the media components of one conference session and keeps
// the room state the server shares with us.
type Room struct {
	cfg       *config.Config
	signaler  core.Signaler
	transport *transport.Manager
	producers *producer.Manager
	consumers *consumer.Manager
	spotlight *spotlight.Selector
	roster    *Roster
	policy    *Policy
	logger    zerolog.Logger
	events    *core.Bus[core.Event]

	// serializes join sequences
	joinMu sync.Mutex

	mu               sync.RWMutex
	state            domain.RoomState
	me               domain.Peer
	inLobby          bool
	locked           bool
	accessCode       string
	joinByAccessCode bool
	chat             []domain.ChatMessage
	files            []domain.SharedFile
	restore          []domain.Source
	unsubscribe      []func()
}

func New(
	cfg *config.Config,
	signaler core.Signaler,
	tm *transport.Manager,
	pm *producer.Manager,
	cm *consumer.Manager,
) *Room {
	me := domain.PeerID(cfg.Signaling.PeerID)
	r := &Room{
		cfg:       cfg,
		signaler:  signaler,
		transport: tm,
		producers: pm,
		consumers: cm,
		spotlight: spotlight.New(cfg.Spotlight, me, cm),
		roster:    NewRoster(),
		policy:    NewPolicy(),
		logger:    log.With().Str("module", "app.room").Str("peer_id", string(me)).Logger(),
		events:    core.NewBus[core.Event](),
		me: domain.Peer{
			ID:          me,
			DisplayName: cfg.DisplayName,
			Picture:     cfg.Picture,
		},
	}
	cm.KnownPeer = r.roster.Has
	return r
}

func (r *Room) Events() *core.Bus[core.Event] { return r.events }

func (r *Room) Transport() *transport.Manager  { return r.transport }
func (r *Room) Producers() *producer.Manager   { return r.producers }
func (r *Room) Consumers() *consumer.Manager   { return r.consumers }
func (r *Room) Spotlight() *spotlight.Selector { return r.spotlight }

// Start installs every server handler and waits for the server to announce
// the room. Call it before the signaling channel connects.
func (r *Room) Start() {
	r.producers.Register(r.signaler)
	r.consumers.Register(r.signaler)
	r.register()

	unsubs := []func(){
		r.signaler.OnConnectionEvent(r.onConnection),
		r.consumers.Events().Subscribe(r.onConsumerEvent),
	}
	r.mu.Lock()
	r.unsubscribe = append(r.unsubscribe, unsubs...)
	r.mu.Unlock()
	r.setState(domain.RoomConnecting)
}

func (r *Room) State() domain.RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Room) Me() domain.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clonePeer(&r.me)
}

// setState moves the session to s. Closed is terminal and only closeWith
// reaches it.
func (r *Room) setState(s domain.RoomState) bool {
	r.mu.Lock()
	if r.state == domain.RoomClosed || r.state == s {
		r.mu.Unlock()
		return false
	}
	r.state = s
	r.mu.Unlock()
	r.logger.Info().Str("state", s.String()).Msg("room state")
	r.events.Emit(StateChanged{State: s})
	return true
}

type joinRequest struct {
	DisplayName     string                 `json:"displayName"`
	Picture         string                 `json:"picture,omitempty"`
	RtpCapabilities domain.RtpCapabilities `json:"rtpCapabilities"`
	Returning       bool                   `json:"returning"`
}

type joinResponse struct {
	Authenticated        bool                   `json:"authenticated"`
	Roles                []domain.RoleID        `json:"roles"`
	Peers                []domain.Peer          `json:"peers"`
	RoomPermissions      domain.RolePermissions `json:"roomPermissions"`
	UserRoles            map[string]domain.Role `json:"userRoles"`
	AllowWhenRoleMissing []domain.Permission    `json:"allowWhenRoleMissing"`
	ChatHistory          []domain.ChatMessage   `json:"chatHistory"`
	FileHistory          []domain.SharedFile    `json:"fileHistory"`
	LastNHistory         []domain.PeerID        `json:"lastNHistory"`
	Locked               bool                   `json:"locked"`
	LobbyPeers           []domain.LobbyPeer     `json:"lobbyPeers"`
	AccessCode           string                 `json:"accessCode"`
	JoinByAccessCode     bool                   `json:"joinByAccessCode"`
}

// join runs the join sequence: transports first, then the join request,
// then the room state from its answer. returning marks a rejoin after the
// connection came back.
func (r *Room) join(ctx context.Context, returning bool) error {
	r.joinMu.Lock()
	defer r.joinMu.Unlock()
	if r.State() == domain.RoomClosed {
		return ErrClosed
	}

	if err := r.transport.Start(ctx, r.cfg.Media.Produce); err != nil {
		return fmt.Errorf("start transports: %w", err)
	}
	me := r.Me()
	res, err := core.RequestInto[joinResponse](ctx, r.signaler, "join", joinRequest{
		DisplayName:     me.DisplayName,
		Picture:         me.Picture,
		RtpCapabilities: r.transport.Device().RtpCapabilities(),
		Returning:       returning,
	})
	if err != nil {
		r.transport.Close()
		return fmt.Errorf("join: %w", err)
	}

	r.roster.Reset()
	for _, p := range res.Peers {
		if p.ID != me.ID {
			r.roster.Add(p)
		}
	}
	for _, p := range res.LobbyPeers {
		r.roster.AddLobbyPeer(p)
	}
	r.policy.Load(res.UserRoles, res.RoomPermissions, res.AllowWhenRoleMissing)

	r.mu.Lock()
	r.me.Roles = slices.Clone(res.Roles)
	r.inLobby = false
	r.locked = res.Locked
	r.accessCode = res.AccessCode
	r.joinByAccessCode = res.JoinByAccessCode
	r.chat = slices.Clone(res.ChatHistory)
	r.files = slices.Clone(res.FileHistory)
	restore := r.restore
	r.restore = nil
	r.mu.Unlock()

	r.spotlight.Clear()
	r.spotlight.AddPeers(r.roster.IDs())
	r.spotlight.AddSpeakerList(res.LastNHistory)
	r.spotlight.Start()

	if !r.setState(domain.RoomConnected) && r.State() == domain.RoomClosed {
		return ErrClosed
	}
	r.logger.Info().
		Bool("returning", returning).
		Int("peers", len(res.Peers)).
		Bool("authenticated", res.Authenticated).
		Msg("joined room")
	r.events.Emit(Joined{PeerID: me.ID, Returning: returning})

	if !returning {
		if r.cfg.Media.JoinAudio {
			restore = append(restore, domain.SourceMic)
		}
		if r.cfg.Media.JoinVideo {
			restore = append(restore, domain.SourceWebcam)
		}
	}
	r.startMedia(ctx, restore)
	return nil
}

// startMedia starts the given sources where permitted. Failures are
// logged, the session stays joined.
func (r *Room) startMedia(ctx context.Context, sources []domain.Source) {
	if !r.cfg.Media.Produce {
		return
	}
	for _, src := range sources {
		var err error
		switch src {
		case domain.SourceMic:
			err = r.EnableMic(ctx)
		case domain.SourceWebcam:
			err = r.EnableWebcam(ctx)
		}
		if err != nil {
			r.logger.Warn().Err(err).Str("source", string(src)).Msg("could not start media after join")
		}
	}
}

func (r *Room) onConnection(e core.ConnectionEvent) {
	switch e.Kind {
	case core.ConnDisconnected:
		if e.ServerInitiated {
			r.closeWith(ReasonServer)
			return
		}
		r.suspend(e.Reason)
	case core.ConnReconnected:
		r.setState(domain.RoomConnecting)
	case core.ConnReconnectFailed:
		r.closeWith(ReasonReconnectFailed)
	}
}

// suspend drops the session state after a transient disconnect. The media
// sources that were running are restarted by the next join.
func (r *Room) suspend(reason string) {
	if r.State() == domain.RoomClosed {
		return
	}
	var restore []domain.Source
	for _, src := range []domain.Source{domain.SourceMic, domain.SourceWebcam} {
		if _, ok := r.producers.Producer(src); ok {
			restore = append(restore, src)
		}
	}
	r.mu.Lock()
	r.restore = restore
	r.mu.Unlock()

	r.teardown()
	r.logger.Warn().Str("reason", reason).Msg("connection lost")
	r.setState(domain.RoomDisconnected)
}

// teardown closes both directions in parallel, then the transports under them.
func (r *Room) teardown() {
	var wg conc.WaitGroup
	wg.Go(r.producers.CloseAll)
	wg.Go(r.consumers.CloseAll)
	wg.Wait()
	r.transport.Close()
	r.spotlight.Clear()
	r.roster.Reset()
}

// Close leaves the room for good.
func (r *Room) Close() {
	r.closeWith(ReasonLocal)
}

func (r *Room) closeWith(reason string) {
	r.mu.Lock()
	if r.state == domain.RoomClosed {
		r.mu.Unlock()
		return
	}
	r.state = domain.RoomClosed
	unsubs := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	r.teardown()
	r.logger.Info().Str("reason", reason).Msg("room closed")
	r.events.Emit(StateChanged{State: domain.RoomClosed})
	r.events.Emit(Closed{Reason: reason})
}

func (r *Room) closed() bool {
	return r.State() == domain.RoomClosed
}

// HavePermission reports whether the local peer may use perm.
func (r *Room) HavePermission(perm domain.Permission) bool {
	r.mu.RLock()
	roles := slices.Clone(r.me.Roles)
	r.mu.RUnlock()
	return r.policy.Allowed(perm, roles, r.roster)
}

func (r *Room) require(perm domain.Permission) error {
	if r.closed() {
		return ErrClosed
	}
	if !r.HavePermission(perm) {
		return fmt.Errorf("%w: %s", ErrNotPermitted, perm)
	}
	return nil
}

func (r *Room) onConsumerEvent(e core.Event) {
	switch ev := e.(type) {
	case consumer.ConsumerAdded:
		c := ev.Consumer
		if c.Kind != domain.KindVideo {
			return
		}
		r.spotlight.AddVideoConsumer(c.PeerID, c.ID, c.RemotelyPaused)
		if r.State() == domain.RoomConnected && !r.spotlight.InSpotlight(c.PeerID) {
			if err := r.consumers.PauseConsumer(context.Background(), c.ID); err != nil {
				r.logger.Warn().Err(err).Str("consumer_id", c.ID).Msg("pause outside spotlight failed")
			}
		}
	case consumer.ConsumerRemoved:
		if ev.Consumer.Kind == domain.KindVideo {
			r.spotlight.RemoveVideoConsumer(ev.Consumer.PeerID, ev.Consumer.ID)
		}
	case consumer.ConsumerPaused:
		if ev.Remote && ev.Consumer.Kind == domain.KindVideo {
			r.spotlight.PauseVideoConsumer(ev.Consumer.PeerID, ev.Consumer.ID)
		}
	case consumer.ConsumerResumed:
		if ev.Remote && ev.Consumer.Kind == domain.KindVideo {
			r.spotlight.ResumeVideoConsumer(ev.Consumer.PeerID, ev.Consumer.ID)
		}
	}
}

// Snapshot is the full room state for the UI.
type Snapshot struct {
	State            domain.RoomState       `json:"state"`
	Me               domain.Peer            `json:"me"`
	InLobby          bool                   `json:"inLobby"`
	Locked           bool                   `json:"locked"`
	AccessCode       string                 `json:"accessCode,omitempty"`
	JoinByAccessCode bool                   `json:"joinByAccessCode"`
	Peers            []domain.Peer          `json:"peers"`
	LobbyPeers       []domain.LobbyPeer     `json:"lobbyPeers"`
	Roles            map[string]domain.Role `json:"roles"`
	Chat             []domain.ChatMessage   `json:"chat"`
	Files            []domain.SharedFile    `json:"files"`
	Spotlights       []domain.PeerID        `json:"spotlights"`
	Selected         []domain.PeerID        `json:"selectedPeers"`
	Producers        []domain.Producer      `json:"producers"`
	Consumers        []domain.Consumer      `json:"consumers"`
}

func (r *Room) Snapshot() Snapshot {
	r.mu.RLock()
	s := Snapshot{
		State:            r.state,
		Me:               clonePeer(&r.me),
		InLobby:          r.inLobby,
		Locked:           r.locked,
		AccessCode:       r.accessCode,
		JoinByAccessCode: r.joinByAccessCode,
		Chat:             slices.Clone(r.chat),
		Files:            slices.Clone(r.files),
	}
	r.mu.RUnlock()
	s.Peers = r.roster.Peers()
	s.LobbyPeers = r.roster.LobbyPeers()
	s.Roles = r.policy.Roles()
	s.Spotlights = r.spotlight.Current()
	s.Selected = r.spotlight.Selected()
	s.Producers = r.producers.Producers()
	s.Consumers = r.consumers.Consumers()
	return s
}
