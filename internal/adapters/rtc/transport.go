package rtc

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

// LocalTrack is a capture track the engine can send.
type LocalTrack interface {
	core.Track
	TrackLocal() webrtc.TrackLocal
}

// Transport wraps one PeerConnection. A sending transport offers and
// answers itself on the server's behalf; a receiving one takes the server's
// streams as a synthesized offer. Negotiations run one at a time.
type Transport struct {
	dir    core.Direction
	cfg    core.TransportConfig
	caps   domain.RtpCapabilities
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	negMu     sync.Mutex
	remote    remoteParams
	version   uint64
	connected bool
	sections  []*remoteSection
	nextMid   int

	mu        sync.RWMutex
	state     core.ConnectionState
	closed    bool
	consumers map[string]*Consumer
}

var _ core.Transport = (*Transport)(nil)

func newTransport(api *webrtc.API, dir core.Direction, cfg core.TransportConfig, caps domain.RtpCapabilities) (*Transport, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:    iceServers(cfg.IceServers),
		BundlePolicy:  webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy: webrtc.RTCPMuxPolicyRequire,
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	t := &Transport{
		dir:  dir,
		cfg:  cfg,
		caps: caps,
		pc:   pc,
		logger: log.With().
			Str("module", "rtc.transport").
			Str("transport_id", cfg.Options.ID).
			Str("direction", string(dir)).
			Logger(),
		remote: remoteParams{
			Ice:        cfg.Options.IceParameters,
			Candidates: cfg.Options.IceCandidates,
			Dtls:       cfg.Options.DtlsParameters,
		},
		state:     core.StateNew,
		consumers: make(map[string]*Consumer),
	}

	pc.OnConnectionStateChange(t.onConnectionState)
	if dir == core.DirectionRecv {
		pc.OnTrack(t.onTrack)
	}
	return t, nil
}

func (t *Transport) ID() string                { return t.cfg.Options.ID }
func (t *Transport) Direction() core.Direction { return t.dir }

func (t *Transport) ConnectionState() core.ConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Transport) Closed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

func (t *Transport) onConnectionState(s webrtc.PeerConnectionState) {
	state := connectionState(s)
	t.mu.Lock()
	changed := t.state != state
	t.state = state
	t.mu.Unlock()
	if !changed {
		return
	}
	t.logger.Debug().Str("peer_connection_state", s.String()).Msg("state")
	if fn := t.cfg.Handlers.OnStateChange; fn != nil {
		fn(state)
	}
}

func connectionState(s webrtc.PeerConnectionState) core.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return core.StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.StateFailed
	case webrtc.PeerConnectionStateClosed:
		return core.StateClosed
	default:
		return core.StateNew
	}
}

// connect hands the local DTLS parameters to the server on first negotiation.
func (t *Transport) connect(ctx context.Context, local localDescription) error {
	if t.connected {
		return nil
	}
	if fn := t.cfg.Handlers.OnConnect; fn != nil {
		if err := fn(ctx, local.Dtls); err != nil {
			return fmt.Errorf("connect transport: %w", err)
		}
	}
	t.connected = true
	return nil
}

// negotiateSend runs offer/answer on a sending transport. Callers hold negMu.
func (t *Transport) negotiateSend(ctx context.Context, iceRestart bool) (localDescription, error) {
	offer, err := t.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return localDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return localDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	local, err := parseLocal(offer.SDP)
	if err != nil {
		return localDescription{}, err
	}
	if err := t.connect(ctx, local); err != nil {
		return localDescription{}, err
	}
	t.version++
	answer, err := t.remote.sendAnswer(t.version, local, t.caps)
	if err != nil {
		return localDescription{}, err
	}
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return localDescription{}, fmt.Errorf("set remote answer: %w", err)
	}
	return local, nil
}

// negotiateRecv applies the current server offer on a receiving transport.
// Callers hold negMu.
func (t *Transport) negotiateRecv(ctx context.Context) error {
	t.version++
	offer, err := t.remote.recvOffer(t.version, t.sections)
	if err != nil {
		return err
	}
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	local, err := parseLocal(answer.SDP)
	if err != nil {
		return err
	}
	return t.connect(ctx, local)
}

func (t *Transport) Produce(ctx context.Context, opts core.ProduceOptions) (core.LocalProducer, error) {
	if t.dir != core.DirectionSend {
		return nil, fmt.Errorf("produce on %s transport: %w", t.dir, ErrUnsupported)
	}
	track, ok := opts.Track.(LocalTrack)
	if !ok {
		return nil, ErrUnsupported
	}

	t.negMu.Lock()
	defer t.negMu.Unlock()
	if t.Closed() {
		return nil, ErrTransportClose
	}

	tr, err := t.pc.AddTransceiverFromTrack(track.TrackLocal(), webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return nil, fmt.Errorf("add transceiver: %w", err)
	}
	rollback := func() {
		if err := t.pc.RemoveTrack(tr.Sender()); err != nil {
			t.logger.Warn().Err(err).Msg("remove track after failed produce")
			return
		}
		if _, err := t.negotiateSend(ctx, false); err != nil {
			t.logger.Warn().Err(err).Msg("renegotiate after failed produce")
		}
	}

	local, err := t.negotiateSend(ctx, false)
	if err != nil {
		rollback()
		return nil, err
	}
	section, ok := local.section(tr.Mid())
	if !ok {
		rollback()
		return nil, fmt.Errorf("no m-section for mid %q", tr.Mid())
	}
	params := sendParameters(section, opts.Encodings, t.caps)

	id := ""
	if fn := t.cfg.Handlers.OnProduce; fn != nil {
		if id, err = fn(ctx, track.Kind(), params, opts.AppData); err != nil {
			rollback()
			return nil, err
		}
	}

	p := &Producer{
		id:        id,
		kind:      track.Kind(),
		transport: t,
		sender:    tr.Sender(),
		track:     track,
		params:    params,
		logger:    t.logger.With().Str("producer_id", id).Logger(),
	}
	go p.readRTCP()
	t.logger.Info().Str("producer_id", id).Str("mid", params.Mid).Msg("producing")
	return p, nil
}

// sendParameters turns an m-section into produce parameters. The engine
// sends one stream, so the least scaled encoding of a ladder describes it.
func sendParameters(s localSection, encodings []domain.RtpEncodingParameters, caps domain.RtpCapabilities) domain.RtpParameters {
	enc := domain.RtpEncodingParameters{Ssrc: s.Ssrc}
	if s.RtxSsrc != 0 {
		enc.Rtx = &domain.RtxParameters{Ssrc: s.RtxSsrc}
	}
	if len(encodings) > 0 {
		best := encodings[0]
		for _, e := range encodings[1:] {
			if scale(e) < scale(best) {
				best = e
			}
		}
		enc.MaxBitrate = best.MaxBitrate
		enc.ScalabilityMode = best.ScalabilityMode
		enc.Dtx = best.Dtx
		enc.NetworkPriority = best.NetworkPriority
	}
	return domain.RtpParameters{
		Mid:              s.Mid,
		Codecs:           negotiatedCodecs(s.Codecs, caps),
		HeaderExtensions: supportedExtensions(s.Kind, s.Extensions, caps),
		Encodings:        []domain.RtpEncodingParameters{enc},
		Rtcp:             domain.RtcpParameters{Cname: s.Cname, ReducedSize: true},
	}
}

func scale(e domain.RtpEncodingParameters) float64 {
	if e.ScaleResolutionDownBy <= 0 {
		return 1
	}
	return e.ScaleResolutionDownBy
}

func (t *Transport) Consume(ctx context.Context, opts core.ConsumeOptions) (core.RemoteConsumer, error) {
	if t.dir != core.DirectionRecv {
		return nil, fmt.Errorf("consume on %s transport: %w", t.dir, ErrUnsupported)
	}

	t.negMu.Lock()
	defer t.negMu.Unlock()
	if t.Closed() {
		return nil, ErrTransportClose
	}

	mid := opts.RtpParameters.Mid
	if mid == "" {
		mid = strconv.Itoa(t.nextMid)
	}
	t.nextMid++
	section := &remoteSection{
		Mid:      mid,
		Kind:     opts.Kind,
		Params:   opts.RtpParameters,
		StreamID: opts.ProducerID,
		TrackID:  opts.ID,
	}
	t.sections = append(t.sections, section)
	if err := t.negotiateRecv(ctx); err != nil {
		t.sections = t.sections[:len(t.sections)-1]
		return nil, err
	}

	var receiver *webrtc.RTPReceiver
	for _, tr := range t.pc.GetTransceivers() {
		if tr.Mid() == mid {
			receiver = tr.Receiver()
			break
		}
	}
	if receiver == nil {
		return nil, fmt.Errorf("no transceiver for mid %q", mid)
	}

	c := newConsumer(t, opts, section, receiver)
	t.mu.Lock()
	t.consumers[mid] = c
	t.mu.Unlock()
	t.logger.Info().Str("consumer_id", opts.ID).Str("mid", mid).Msg("consuming")
	return c, nil
}

func (t *Transport) onTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	t.mu.RLock()
	var c *Consumer
	for _, cc := range t.consumers {
		if cc.receiver == receiver {
			c = cc
			break
		}
	}
	t.mu.RUnlock()
	if c == nil {
		t.logger.Warn().Str("track_id", track.ID()).Msg("track without consumer")
		return
	}
	c.run(track)
}

// removeConsumer marks the consumer's m-section inactive and renegotiates.
func (t *Transport) removeConsumer(c *Consumer) {
	t.mu.Lock()
	delete(t.consumers, c.section.Mid)
	t.mu.Unlock()

	t.negMu.Lock()
	defer t.negMu.Unlock()
	c.section.Closed = true
	if t.Closed() {
		return
	}
	if err := t.negotiateRecv(context.Background()); err != nil {
		t.logger.Warn().Err(err).Str("consumer_id", c.id).Msg("renegotiate after consumer close")
	}
}

// removeProducer detaches the sender and renegotiates.
func (t *Transport) removeProducer(p *Producer) {
	t.negMu.Lock()
	defer t.negMu.Unlock()
	if t.Closed() {
		return
	}
	if err := t.pc.RemoveTrack(p.sender); err != nil {
		p.logger.Warn().Err(err).Msg("remove track")
		return
	}
	if _, err := t.negotiateSend(context.Background(), false); err != nil {
		p.logger.Warn().Err(err).Msg("renegotiate after producer close")
	}
}

func (t *Transport) RestartIce(ctx context.Context, params domain.IceParameters) error {
	t.negMu.Lock()
	defer t.negMu.Unlock()
	if t.Closed() {
		return ErrTransportClose
	}
	t.remote.Ice = params
	if t.dir == core.DirectionSend {
		_, err := t.negotiateSend(ctx, true)
		return err
	}
	return t.negotiateRecv(ctx)
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	if err := t.pc.Close(); err != nil {
		t.logger.Error().Err(err).Msg("close error")
		return
	}
	t.logger.Info().Msg("closed")
}
