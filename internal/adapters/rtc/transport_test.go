package rtc

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

func serverCaps() domain.RtpCapabilities {
	return domain.RtpCapabilities{
		Codecs: []domain.RtpCodecCapability{
			{
				Kind:                 domain.KindAudio,
				MimeType:             "audio/opus",
				PreferredPayloadType: 100,
				ClockRate:            48000,
				Channels:             2,
				Parameters:           map[string]any{"minptime": float64(10), "useinbandfec": float64(1)},
			},
			{Kind: domain.KindVideo, MimeType: "video/AV2", PreferredPayloadType: 110, ClockRate: 90000},
			{Kind: domain.KindVideo, MimeType: "video/rtx", PreferredPayloadType: 111, ClockRate: 90000,
				Parameters: map[string]any{"apt": float64(110)}},
		},
		HeaderExtensions: []domain.RtpHeaderExtension{
			{Kind: domain.KindAudio, URI: audioLevelURI, PreferredID: 10},
			{Kind: domain.KindVideo, URI: "urn:3gpp:video-orientation", PreferredID: 13},
		},
	}
}

func TestLocalCapabilitiesDropsUnknownCodecs(t *testing.T) {
	local := localCapabilities(serverCaps())
	require.Len(t, local.Codecs, 1)
	assert.Equal(t, "audio/opus", local.Codecs[0].MimeType)
	require.Len(t, local.HeaderExtensions, 1)
	assert.Equal(t, audioLevelURI, local.HeaderExtensions[0].URI)
}

func TestDeviceLoad(t *testing.T) {
	d := NewDevice()
	assert.False(t, d.Loaded())
	assert.False(t, d.CanProduce(domain.KindAudio))
	_, err := d.CreateSendTransport(core.TransportConfig{})
	assert.ErrorIs(t, err, ErrNotLoaded)

	err = d.Load(domain.RtpCapabilities{Codecs: []domain.RtpCodecCapability{
		{Kind: domain.KindVideo, MimeType: "video/AV2", ClockRate: 90000},
	}})
	assert.ErrorIs(t, err, ErrNoCodecs)
	assert.False(t, d.Loaded())

	require.NoError(t, d.Load(serverCaps()))
	assert.True(t, d.Loaded())
	assert.True(t, d.CanProduce(domain.KindAudio))
	assert.False(t, d.CanProduce(domain.KindVideo))
	assert.Len(t, d.RtpCapabilities().Codecs, 1)
}

func transportOptions(id string) domain.TransportOptions {
	p := serverParams()
	return domain.TransportOptions{
		ID:             id,
		IceParameters:  p.Ice,
		IceCandidates:  p.Candidates[:1],
		DtlsParameters: p.Dtls,
	}
}

func TestRecvTransportConnectsOnce(t *testing.T) {
	d := NewDevice()
	require.NoError(t, d.Load(serverCaps()))

	var connects []domain.DtlsParameters
	tr, err := d.CreateRecvTransport(core.TransportConfig{
		Options: transportOptions("recv-1"),
		Handlers: core.TransportHandlers{
			OnConnect: func(_ context.Context, dtls domain.DtlsParameters) error {
				connects = append(connects, dtls)
				return nil
			},
		},
	})
	require.NoError(t, err)
	defer tr.Close()
	assert.Equal(t, "recv-1", tr.ID())
	assert.Equal(t, core.DirectionRecv, tr.Direction())

	ctx := context.Background()
	first, err := tr.Consume(ctx, core.ConsumeOptions{
		ID:            "cons-1",
		ProducerID:    "prod-1",
		Kind:          domain.KindAudio,
		RtpParameters: opusParams("", 1234),
	})
	require.NoError(t, err)
	second, err := tr.Consume(ctx, core.ConsumeOptions{
		ID:            "cons-2",
		ProducerID:    "prod-2",
		Kind:          domain.KindAudio,
		RtpParameters: opusParams("", 5678),
	})
	require.NoError(t, err)

	require.Len(t, connects, 1)
	assert.Equal(t, "client", connects[0].Role)
	require.NotEmpty(t, connects[0].Fingerprints)

	assert.Equal(t, "cons-1", first.ID())
	assert.Equal(t, "prod-2", second.ProducerID())
	assert.Equal(t, "0", first.(*Consumer).section.Mid)
	assert.Equal(t, "1", second.(*Consumer).section.Mid)
	assert.Equal(t, uint8(10), first.(*Consumer).levelExtID)

	first.Pause()
	assert.True(t, first.Paused())
	first.Resume()
	assert.False(t, first.Paused())

	first.Close()
	assert.True(t, first.(*Consumer).section.Closed)

	_, err = tr.Produce(ctx, core.ProduceOptions{})
	assert.ErrorIs(t, err, ErrUnsupported)

	tr.Close()
	assert.True(t, tr.Closed())
	_, err = tr.Consume(ctx, core.ConsumeOptions{ID: "late", Kind: domain.KindAudio, RtpParameters: opusParams("", 1)})
	assert.ErrorIs(t, err, ErrTransportClose)
}

type sampleTrack struct {
	local *webrtc.TrackLocalStaticSample
}

func (s *sampleTrack) ID() string                    { return s.local.ID() }
func (s *sampleTrack) Kind() domain.Kind             { return domain.KindAudio }
func (s *sampleTrack) Settings() core.TrackSettings  { return core.TrackSettings{} }
func (s *sampleTrack) OnEnded(func())                {}
func (s *sampleTrack) Stop()                         {}
func (s *sampleTrack) TrackLocal() webrtc.TrackLocal { return s.local }

func TestSendTransportProduces(t *testing.T) {
	d := NewDevice()
	require.NoError(t, d.Load(serverCaps()))

	var (
		connected int
		produced  domain.RtpParameters
		appData   map[string]any
	)
	tr, err := d.CreateSendTransport(core.TransportConfig{
		Options: transportOptions("send-1"),
		Handlers: core.TransportHandlers{
			OnConnect: func(context.Context, domain.DtlsParameters) error {
				connected++
				return nil
			},
			OnProduce: func(_ context.Context, kind domain.Kind, params domain.RtpParameters, data map[string]any) (string, error) {
				assert.Equal(t, domain.KindAudio, kind)
				produced, appData = params, data
				return "prod-1", nil
			},
		},
	})
	require.NoError(t, err)
	defer tr.Close()

	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "mic", "stream")
	require.NoError(t, err)

	p, err := tr.Produce(context.Background(), core.ProduceOptions{
		Track:   &sampleTrack{local: local},
		AppData: map[string]any{"source": "mic"},
	})
	require.NoError(t, err)

	assert.Equal(t, "prod-1", p.ID())
	assert.Equal(t, 1, connected)
	assert.Equal(t, map[string]any{"source": "mic"}, appData)
	assert.Equal(t, "0", produced.Mid)
	require.NotEmpty(t, produced.Codecs)
	assert.Equal(t, "audio/opus", produced.Codecs[0].MimeType)
	require.Len(t, produced.Encodings, 1)
	assert.NotZero(t, produced.Encodings[0].Ssrc)
	assert.NotEmpty(t, produced.Rtcp.Cname)

	_, err = tr.Consume(context.Background(), core.ConsumeOptions{})
	assert.ErrorIs(t, err, ErrUnsupported)
}
