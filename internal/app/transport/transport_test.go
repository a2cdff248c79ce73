package transport

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/core/coretest"
	"github.com/dkeye/Meet/internal/core/mocks"
	"github.com/dkeye/Meet/internal/domain"
)

var routerCaps = domain.RtpCapabilities{
	Codecs: []domain.RtpCodecCapability{
		{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: domain.KindVideo, MimeType: "video/VP8", ClockRate: 90000},
	},
	HeaderExtensions: []domain.RtpHeaderExtension{
		{Kind: domain.KindVideo, URI: "urn:3gpp:video-orientation", PreferredID: 4},
		{Kind: domain.KindAudio, URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", PreferredID: 10},
	},
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestSelectProfile(t *testing.T) {
	profiles, err := config.Default().Profiles()
	require.NoError(t, err)

	tests := []struct {
		name          string
		width, height int
		wantBitrates  []int
	}{
		{"vga picks 640", 640, 480, []int{150000, 500000}},
		{"portrait uses larger side", 360, 640, []int{150000, 500000}},
		{"hd picks 1280", 1280, 720, []int{150000, 500000, 1200000}},
		{"between thresholds rounds up", 1300, 700, []int{150000, 500000, 3500000}},
		{"single encoding is duplicated", 320, 240, []int{150000, 150000}},
		{"above every threshold falls back to smallest", 5000, 3000, []int{150000, 150000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encs := selectProfile(profiles, tt.width, tt.height)
			got := make([]int, len(encs))
			for i, e := range encs {
				got[i] = e.MaxBitrate
				assert.Equal(t, "L1T3", e.ScalabilityMode)
			}
			assert.Equal(t, tt.wantBitrates, got)
		})
	}
}

func TestSimulcastEncodingsUseSVCForVP9(t *testing.T) {
	dev := &coretest.Device{}
	require.NoError(t, dev.Load(domain.RtpCapabilities{Codecs: []domain.RtpCodecCapability{
		{Kind: domain.KindVideo, MimeType: "video/VP9", ClockRate: 90000},
	}}))
	m, err := New(config.Default(), coretest.NewSignaler(), dev)
	require.NoError(t, err)

	webcam := m.SimulcastEncodings(1280, 720, false)
	require.Len(t, webcam, 1)
	assert.Equal(t, "S3T3_KEY", webcam[0].ScalabilityMode)
	assert.False(t, webcam[0].Dtx)

	screen := m.SimulcastEncodings(1920, 1080, true)
	require.Len(t, screen, 1)
	assert.Equal(t, "S3T3", screen[0].ScalabilityMode)
	assert.True(t, screen[0].Dtx)

	webcam[0].NetworkPriority = "high"
	assert.Empty(t, m.SimulcastEncodings(1280, 720, false)[0].NetworkPriority)
}

func TestStartCreatesTransportsAndWiresCallbacks(t *testing.T) {
	ctrl := gomock.NewController(t)
	sig := mocks.NewMockSignaler(ctrl)
	dev := &coretest.Device{}

	sig.EXPECT().Request(gomock.Any(), "getRouterRtpCapabilities", nil).Return(mustJSON(t, routerCaps), nil)
	sig.EXPECT().Request(gomock.Any(), "createWebRtcTransport", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, data any) (json.RawMessage, error) {
			req := data.(createTransportRequest)
			id := "recv-1"
			if req.Producing {
				id = "send-1"
			}
			return mustJSON(t, domain.TransportOptions{ID: id}), nil
		}).Times(2)
	sig.EXPECT().Request(gomock.Any(), "connectWebRtcTransport", gomock.Any()).Return(nil, nil)
	sig.EXPECT().Request(gomock.Any(), "produce", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, data any) (json.RawMessage, error) {
			payload := data.(map[string]any)
			assert.Equal(t, "send-1", payload["transportId"])
			assert.Equal(t, domain.KindAudio, payload["kind"])
			return json.RawMessage(`{"id":"producer-1"}`), nil
		})

	m, err := New(config.Default(), sig, dev)
	require.NoError(t, err)
	var ready TransportsReady
	m.Events().Subscribe(func(e core.Event) {
		if r, ok := e.(TransportsReady); ok {
			ready = r
		}
	})

	require.NoError(t, m.Start(context.Background(), true))
	require.NotNil(t, m.SendTransport())
	require.NotNil(t, m.RecvTransport())
	assert.Equal(t, "send-1", m.SendTransport().ID())
	assert.Equal(t, "recv-1", m.RecvTransport().ID())
	assert.True(t, ready.CanSendMic)
	assert.True(t, ready.CanSendWebcam)

	for _, ext := range dev.RtpCapabilities().HeaderExtensions {
		assert.NotEqual(t, videoOrientationURI, ext.URI)
	}
	assert.Len(t, dev.RtpCapabilities().HeaderExtensions, 1)

	track := coretest.NewTrack(domain.KindAudio, core.TrackSettings{})
	p, err := m.SendTransport().Produce(context.Background(), core.ProduceOptions{Track: track})
	require.NoError(t, err)
	assert.Equal(t, "producer-1", p.ID())
}

func TestStartReceiveOnlySkipsSendTransport(t *testing.T) {
	sig := coretest.NewSignaler()
	sig.RespondWith("getRouterRtpCapabilities", routerCaps)
	sig.RespondWith("createWebRtcTransport", domain.TransportOptions{ID: "recv-1"})
	dev := &coretest.Device{}

	m, err := New(config.Default(), sig, dev)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background(), false))

	assert.Nil(t, m.SendTransport())
	assert.NotNil(t, m.RecvTransport())
	assert.False(t, m.CanProduce(domain.KindAudio))
	assert.Len(t, sig.Calls("createWebRtcTransport"), 1)
	assert.JSONEq(t, `{"forceTcp":false,"producing":false,"consuming":true}`, string(sig.Calls("createWebRtcTransport")[0]))
}

func TestStartFailureReleasesCreatedTransport(t *testing.T) {
	sig := coretest.NewSignaler()
	sig.RespondWith("getRouterRtpCapabilities", routerCaps)
	recvDone := make(chan struct{})
	sig.Respond("createWebRtcTransport", func(data json.RawMessage) (any, error) {
		var req createTransportRequest
		assert.NoError(t, json.Unmarshal(data, &req))
		if req.Producing {
			<-recvDone
			return nil, errors.New("no send transport")
		}
		defer close(recvDone)
		return domain.TransportOptions{ID: "recv-1"}, nil
	})
	dev := &coretest.Device{}
	clock := &coretest.Clock{}

	m, err := New(config.Default(), sig, dev)
	require.NoError(t, err)
	m.AfterFunc = clock.AfterFunc
	require.Error(t, m.Start(context.Background(), true))

	assert.Nil(t, m.RecvTransport())
	require.NotNil(t, dev.Recv)
	assert.True(t, dev.Recv.Closed())
	assert.Empty(t, m.restarters)
	assert.ErrorIs(t, m.ctx.Err(), context.Canceled)

	dev.Recv.SetState(core.StateFailed)
	assert.Zero(t, clock.Pending(), "no restart is scheduled for a released transport")
}

func TestIceRestartBackoffDoubles(t *testing.T) {
	clock := &coretest.Clock{}
	attempts := 0
	r := newIceRestarter(context.Background(), core.DirectionSend, 2*time.Second, clock.AfterFunc,
		func(ctx context.Context) error {
			attempts++
			if attempts <= 3 {
				return errors.New("restartIce failed")
			}
			return nil
		}, zerolog.Nop())

	r.OnState(core.StateFailed)
	for i := 0; i < 4; i++ {
		require.True(t, clock.FireLast())
	}

	assert.Equal(t, 4, attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, clock.Delays())
}

func TestIceRestartCancelledOnRecovery(t *testing.T) {
	clock := &coretest.Clock{}
	calls := 0
	r := newIceRestarter(context.Background(), core.DirectionRecv, 2*time.Second, clock.AfterFunc,
		func(ctx context.Context) error { calls++; return nil }, zerolog.Nop())

	r.OnState(core.StateDisconnected)
	r.OnState(core.StateFailed)
	require.Len(t, clock.Delays(), 1, "a pending restart is not stacked")

	r.OnState(core.StateConnected)
	assert.True(t, clock.Stopped(0))

	r.OnState(core.StateFailed)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.Delays())
	assert.Zero(t, calls)
}

func TestIceRestartSkippedWhileRestarting(t *testing.T) {
	clock := &coretest.Clock{}
	calls := 0
	var r *iceRestarter
	r = newIceRestarter(context.Background(), core.DirectionSend, time.Second, clock.AfterFunc,
		func(ctx context.Context) error {
			calls++
			r.fire()
			return nil
		}, zerolog.Nop())

	r.OnState(core.StateFailed)
	require.True(t, clock.FireLast())
	assert.Equal(t, 1, calls)
}

func TestManagerRestartIceRequestsFreshParameters(t *testing.T) {
	sig := coretest.NewSignaler()
	sig.RespondWith("getRouterRtpCapabilities", routerCaps)
	sig.Respond("createWebRtcTransport", func(data json.RawMessage) (any, error) {
		var req createTransportRequest
		assert.NoError(t, json.Unmarshal(data, &req))
		if req.Producing {
			return domain.TransportOptions{ID: "send-1"}, nil
		}
		return domain.TransportOptions{ID: "recv-1"}, nil
	})
	sig.RespondWith("restartIce", domain.IceParameters{UsernameFragment: "u2", Password: "p2"})
	dev := &coretest.Device{}
	clock := &coretest.Clock{}

	m, err := New(config.Default(), sig, dev)
	require.NoError(t, err)
	m.AfterFunc = clock.AfterFunc
	require.NoError(t, m.Start(context.Background(), true))

	dev.Send.SetState(core.StateFailed)
	require.Equal(t, []time.Duration{2 * time.Second}, clock.Delays())
	require.True(t, clock.FireLast())

	require.Len(t, dev.Send.Restarts(), 1)
	assert.Equal(t, "u2", dev.Send.Restarts()[0].UsernameFragment)
	assert.JSONEq(t, `{"transportId":"send-1"}`, string(sig.Calls("restartIce")[0]))
	assert.Empty(t, dev.Recv.Restarts())

	m.Close()
	assert.True(t, dev.Send.Closed())
	assert.True(t, dev.Recv.Closed())
}
