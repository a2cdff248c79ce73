package coretest

import (
	"context"
	"sync"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

// Device creates fake transports that drive the connect/produce callbacks
// the way a real engine does.
type Device struct {
	mu        sync.Mutex
	caps      domain.RtpCapabilities
	loaded    bool
	CreateErr error

	Send *Transport
	Recv *Transport
}

var _ core.Device = (*Device)(nil)

func (d *Device) Load(caps domain.RtpCapabilities) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps = caps
	d.loaded = true
	return nil
}

func (d *Device) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

func (d *Device) RtpCapabilities() domain.RtpCapabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

func (d *Device) CanProduce(kind domain.Kind) bool {
	return d.RtpCapabilities().HasKind(kind)
}

func (d *Device) CreateSendTransport(cfg core.TransportConfig) (core.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CreateErr != nil {
		return nil, d.CreateErr
	}
	d.Send = NewTransport(core.DirectionSend, cfg)
	return d.Send, nil
}

func (d *Device) CreateRecvTransport(cfg core.TransportConfig) (core.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CreateErr != nil {
		return nil, d.CreateErr
	}
	d.Recv = NewTransport(core.DirectionRecv, cfg)
	return d.Recv, nil
}

type Transport struct {
	dir core.Direction
	cfg core.TransportConfig

	mu         sync.Mutex
	state      core.ConnectionState
	connected  bool
	closed     bool
	restarts   []domain.IceParameters
	RestartErr error
	ProduceErr error
	Producers  []*Producer
	Consumers  []*Consumer
}

var _ core.Transport = (*Transport)(nil)

func NewTransport(dir core.Direction, cfg core.TransportConfig) *Transport {
	return &Transport{dir: dir, cfg: cfg, state: core.StateNew}
}

func (t *Transport) ID() string                   { return t.cfg.Options.ID }
func (t *Transport) Direction() core.Direction    { return t.dir }
func (t *Transport) Config() core.TransportConfig { return t.cfg }

func (t *Transport) ConnectionState() core.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState simulates an engine connection state change.
func (t *Transport) SetState(s core.ConnectionState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	if t.cfg.Handlers.OnStateChange != nil {
		t.cfg.Handlers.OnStateChange(s)
	}
}

func (t *Transport) connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.connected = true
	t.mu.Unlock()
	if t.cfg.Handlers.OnConnect == nil {
		return nil
	}
	return t.cfg.Handlers.OnConnect(ctx, domain.DtlsParameters{
		Role:         "client",
		Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}},
	})
}

func (t *Transport) Produce(ctx context.Context, opts core.ProduceOptions) (core.LocalProducer, error) {
	if t.ProduceErr != nil {
		return nil, t.ProduceErr
	}
	if err := t.connect(ctx); err != nil {
		return nil, err
	}
	params := domain.RtpParameters{Encodings: opts.Encodings}
	id, err := t.cfg.Handlers.OnProduce(ctx, opts.Track.Kind(), params, opts.AppData)
	if err != nil {
		return nil, err
	}
	p := &Producer{id: id, kind: opts.Track.Kind(), track: opts.Track, params: params, Options: opts}
	t.mu.Lock()
	t.Producers = append(t.Producers, p)
	t.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, opts core.ConsumeOptions) (core.RemoteConsumer, error) {
	if err := t.connect(ctx); err != nil {
		return nil, err
	}
	c := &Consumer{id: opts.ID, producerID: opts.ProducerID, kind: opts.Kind, params: opts.RtpParameters}
	t.mu.Lock()
	t.Consumers = append(t.Consumers, c)
	t.mu.Unlock()
	return c, nil
}

func (t *Transport) RestartIce(ctx context.Context, params domain.IceParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.RestartErr != nil {
		return t.RestartErr
	}
	t.restarts = append(t.restarts, params)
	return nil
}

func (t *Transport) Restarts() []domain.IceParameters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.IceParameters(nil), t.restarts...)
}

func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// LastProducer returns the most recent producer or nil.
func (t *Transport) LastProducer() *Producer {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Producers) == 0 {
		return nil
	}
	return t.Producers[len(t.Producers)-1]
}

// Consumer returns the consumer with id or nil.
func (t *Transport) Consumer(id string) *Consumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.Consumers {
		if c.id == id {
			return c
		}
	}
	return nil
}

type Producer struct {
	id      string
	kind    domain.Kind
	params  domain.RtpParameters
	Options core.ProduceOptions

	mu     sync.Mutex
	track  core.Track
	paused bool
	closed bool
}

func (p *Producer) ID() string                          { return p.id }
func (p *Producer) Kind() domain.Kind                   { return p.kind }
func (p *Producer) RtpParameters() domain.RtpParameters { return p.params }

func (p *Producer) Track() core.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track
}

func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

func (p *Producer) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
}

func (p *Producer) ReplaceTrack(ctx context.Context, t core.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.track = t
	return nil
}

func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type Consumer struct {
	id         string
	producerID string
	kind       domain.Kind
	params     domain.RtpParameters

	mu      sync.Mutex
	paused  bool
	closed  bool
	levelFn func(level int)
}

func (c *Consumer) ID() string                          { return c.id }
func (c *Consumer) ProducerID() string                  { return c.producerID }
func (c *Consumer) Kind() domain.Kind                   { return c.kind }
func (c *Consumer) RtpParameters() domain.RtpParameters { return c.params }

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

func (c *Consumer) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

func (c *Consumer) OnAudioLevel(fn func(level int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levelFn = fn
}

// EmitLevel simulates an RTP packet carrying an audio level.
func (c *Consumer) EmitLevel(level int) {
	c.mu.Lock()
	fn := c.levelFn
	c.mu.Unlock()
	if fn != nil {
		fn(level)
	}
}

func (c *Consumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
