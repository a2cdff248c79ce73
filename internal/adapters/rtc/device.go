package rtc

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

var (
	ErrNotLoaded      = errors.New("rtc: device not loaded")
	ErrNoCodecs       = errors.New("rtc: no codec in common with the server")
	ErrUnsupported    = errors.New("rtc: track cannot be sent by this engine")
	ErrTransportClose = errors.New("rtc: transport closed")
)

var supportedMimeTypes = map[string]bool{
	"audio/opus": true,
	"video/vp8":  true,
	"video/vp9":  true,
	"video/h264": true,
}

var supportedExtensionURIs = map[string]bool{
	"urn:ietf:params:rtp-hdrext:sdes:mid":                                       true,
	"urn:ietf:params:rtp-hdrext:ssrc-audio-level":                               true,
	"http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time":                true,
	"http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01": true,
}

// Device is the pion implementation of core.Device. Load builds one API
// whose media engine carries exactly the codecs both sides support.
type Device struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	api    *webrtc.API
	caps   domain.RtpCapabilities
	loaded bool
}

var _ core.Device = (*Device)(nil)

func NewDevice() *Device {
	return &Device{logger: log.With().Str("module", "rtc.device").Logger()}
}

func (d *Device) Load(caps domain.RtpCapabilities) error {
	local := localCapabilities(caps)
	if len(local.Codecs) == 0 {
		return ErrNoCodecs
	}

	m := &webrtc.MediaEngine{}
	for _, c := range local.Codecs {
		if err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     c.MimeType,
				ClockRate:    c.ClockRate,
				Channels:     c.Channels,
				SDPFmtpLine:  formatFmtp(c.Parameters),
				RTCPFeedback: rtcpFeedback(c.RtcpFeedback),
			},
			PayloadType: webrtc.PayloadType(c.PreferredPayloadType),
		}, codecType(c.Kind)); err != nil {
			return fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}
	for _, e := range local.HeaderExtensions {
		if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: e.URI}, codecType(e.Kind)); err != nil {
			return fmt.Errorf("register extension %s: %w", e.URI, err)
		}
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: newLoggerFactory()}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir), webrtc.WithSettingEngine(se))

	d.mu.Lock()
	d.api, d.caps, d.loaded = api, local, true
	d.mu.Unlock()
	d.logger.Info().Int("codecs", len(local.Codecs)).Int("extensions", len(local.HeaderExtensions)).Msg("device loaded")
	return nil
}

func (d *Device) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

// RtpCapabilities returns the receive capabilities: the server's set reduced
// to what this engine can handle.
func (d *Device) RtpCapabilities() domain.RtpCapabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.caps
}

func (d *Device) CanProduce(kind domain.Kind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.loaded {
		return false
	}
	for _, c := range d.caps.Codecs {
		if c.Kind == kind && !isRtx(c.MimeType) {
			return true
		}
	}
	return false
}

func (d *Device) CreateSendTransport(cfg core.TransportConfig) (core.Transport, error) {
	return d.createTransport(core.DirectionSend, cfg)
}

func (d *Device) CreateRecvTransport(cfg core.TransportConfig) (core.Transport, error) {
	return d.createTransport(core.DirectionRecv, cfg)
}

func (d *Device) createTransport(dir core.Direction, cfg core.TransportConfig) (core.Transport, error) {
	d.mu.RLock()
	api, caps, loaded := d.api, d.caps, d.loaded
	d.mu.RUnlock()
	if !loaded {
		return nil, ErrNotLoaded
	}
	return newTransport(api, dir, cfg, caps)
}

// localCapabilities intersects the server capabilities with the codecs and
// header extensions the engine implements. A retransmission codec survives
// only when its media codec does.
func localCapabilities(caps domain.RtpCapabilities) domain.RtpCapabilities {
	var out domain.RtpCapabilities
	kept := make(map[uint8]bool)
	for _, c := range caps.Codecs {
		if supportedMimeTypes[strings.ToLower(c.MimeType)] {
			out.Codecs = append(out.Codecs, c)
			kept[c.PreferredPayloadType] = true
		}
	}
	for _, c := range caps.Codecs {
		if isRtx(c.MimeType) && kept[uint8(aptOf(c.Parameters))] {
			out.Codecs = append(out.Codecs, c)
		}
	}
	for _, e := range caps.HeaderExtensions {
		if supportedExtensionURIs[e.URI] {
			out.HeaderExtensions = append(out.HeaderExtensions, e)
		}
	}
	return out
}

func codecType(kind domain.Kind) webrtc.RTPCodecType {
	if kind == domain.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

func rtcpFeedback(in []domain.RtcpFeedback) []webrtc.RTCPFeedback {
	out := make([]webrtc.RTCPFeedback, 0, len(in))
	for _, fb := range in {
		out = append(out, webrtc.RTCPFeedback{Type: fb.Type, Parameter: fb.Parameter})
	}
	return out
}

func iceServers(in []domain.IceServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		out = append(out, webrtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return out
}
