package rtc

import (
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

const audioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

// Consumer is a receiving transceiver. Its read loop starts with the first
// packet and reports RFC 6464 audio levels while not paused.
type Consumer struct {
	id         string
	producerID string
	kind       domain.Kind
	transport  *Transport
	section    *remoteSection
	receiver   *webrtc.RTPReceiver
	levelExtID uint8
	logger     zerolog.Logger

	mu      sync.Mutex
	paused  bool
	closed  bool
	onLevel func(level int)
}

var _ core.RemoteConsumer = (*Consumer)(nil)

func newConsumer(t *Transport, opts core.ConsumeOptions, section *remoteSection, receiver *webrtc.RTPReceiver) *Consumer {
	c := &Consumer{
		id:         opts.ID,
		producerID: opts.ProducerID,
		kind:       opts.Kind,
		transport:  t,
		section:    section,
		receiver:   receiver,
		logger:     t.logger.With().Str("consumer_id", opts.ID).Logger(),
	}
	for _, e := range opts.RtpParameters.HeaderExtensions {
		if e.URI == audioLevelURI {
			c.levelExtID = uint8(e.ID)
		}
	}
	return c
}

func (c *Consumer) ID() string                          { return c.id }
func (c *Consumer) ProducerID() string                  { return c.producerID }
func (c *Consumer) Kind() domain.Kind                   { return c.kind }
func (c *Consumer) RtpParameters() domain.RtpParameters { return c.section.Params }

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume asks the sender for a keyframe so video restarts without waiting
// for the next periodic one.
func (c *Consumer) Resume() {
	c.mu.Lock()
	was := c.paused
	c.paused = false
	c.mu.Unlock()
	if was && c.kind == domain.KindVideo {
		c.requestKeyFrame()
	}
}

func (c *Consumer) requestKeyFrame() {
	encs := c.section.Params.Encodings
	if len(encs) == 0 {
		return
	}
	err := c.transport.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: encs[0].Ssrc}})
	if err != nil {
		c.logger.Debug().Err(err).Msg("write PLI")
	}
}

func (c *Consumer) OnAudioLevel(fn func(level int)) {
	c.mu.Lock()
	c.onLevel = fn
	c.mu.Unlock()
}

func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	if err := c.receiver.Stop(); err != nil {
		c.logger.Debug().Err(err).Msg("stop receiver")
	}
	c.transport.removeConsumer(c)
}

// run reads the track until the receiver stops.
func (c *Consumer) run(track *webrtc.TrackRemote) {
	c.logger.Debug().Str("codec", track.Codec().MimeType).Msg("track started")
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if c.levelExtID == 0 {
			continue
		}
		c.reportLevel(pkt)
	}
}

func (c *Consumer) reportLevel(pkt *rtp.Packet) {
	raw := pkt.GetExtension(c.levelExtID)
	if raw == nil {
		return
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return
	}
	c.mu.Lock()
	fn := c.onLevel
	if c.paused {
		fn = nil
	}
	c.mu.Unlock()
	if fn != nil {
		fn(int(ext.Level))
	}
}
