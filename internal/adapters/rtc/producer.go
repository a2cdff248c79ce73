package rtc

import (
	"context"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

// Producer is a sending transceiver. Pausing detaches the track from the
// sender so nothing is encoded while paused.
type Producer struct {
	id        string
	kind      domain.Kind
	transport *Transport
	sender    *webrtc.RTPSender
	params    domain.RtpParameters
	logger    zerolog.Logger

	mu     sync.Mutex
	track  LocalTrack
	paused bool
	closed bool
}

var _ core.LocalProducer = (*Producer)(nil)

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
	if p.paused || p.closed {
		return
	}
	p.paused = true
	if err := p.sender.ReplaceTrack(nil); err != nil {
		p.logger.Warn().Err(err).Msg("detach track")
	}
}

func (p *Producer) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused || p.closed {
		return
	}
	p.paused = false
	if err := p.sender.ReplaceTrack(p.track.TrackLocal()); err != nil {
		p.logger.Warn().Err(err).Msg("attach track")
	}
}

// ReplaceTrack swaps the capture source without renegotiation. A paused
// producer stays detached and picks the new track up on resume.
func (p *Producer) ReplaceTrack(_ context.Context, t core.Track) error {
	lt, ok := t.(LocalTrack)
	if !ok {
		return ErrUnsupported
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrTransportClose
	}
	if !p.paused {
		if err := p.sender.ReplaceTrack(lt.TrackLocal()); err != nil {
			return err
		}
	}
	p.track = lt
	return nil
}

func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.transport.removeProducer(p)
}

// readRTCP drains feedback for the sender so the interceptors see it.
func (p *Producer) readRTCP() {
	for {
		pkts, _, err := p.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				p.logger.Debug().Msg("keyframe requested")
			}
		}
	}
}
