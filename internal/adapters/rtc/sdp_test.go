package rtc

import (
	"strings"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Meet/internal/domain"
)

func crlf(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

var engineOffer = crlf(
	"v=0",
	"o=- 4215 2 IN IP4 0.0.0.0",
	"s=-",
	"t=0 0",
	"a=fingerprint:sha-256 AA:BB:CC",
	"a=group:BUNDLE 0 1",
	"m=audio 9 UDP/TLS/RTP/SAVPF 111",
	"c=IN IP4 0.0.0.0",
	"a=setup:actpass",
	"a=mid:0",
	"a=ice-ufrag:abcd",
	"a=ice-pwd:efghijklmnopqrstuvwxyz",
	"a=rtcp-mux",
	"a=rtpmap:111 opus/48000/2",
	"a=fmtp:111 minptime=10;useinbandfec=1",
	"a=rtcp-fb:111 transport-cc",
	"a=extmap:1 urn:ietf:params:rtp-hdrext:sdes:mid",
	"a=extmap:2 urn:ietf:params:rtp-hdrext:ssrc-audio-level",
	"a=ssrc:1111 cname:abc",
	"a=ssrc:1111 msid:stream track",
	"a=sendonly",
	"m=video 9 UDP/TLS/RTP/SAVPF 96 97",
	"c=IN IP4 0.0.0.0",
	"a=setup:actpass",
	"a=mid:1",
	"a=ice-ufrag:abcd",
	"a=ice-pwd:efghijklmnopqrstuvwxyz",
	"a=rtcp-mux",
	"a=rtpmap:96 VP8/90000",
	"a=rtcp-fb:96 nack pli",
	"a=rtpmap:97 rtx/90000",
	"a=fmtp:97 apt=96",
	"a=extmap:1 urn:ietf:params:rtp-hdrext:sdes:mid",
	"a=ssrc-group:FID 2222 3333",
	"a=ssrc:2222 cname:abc",
	"a=ssrc:3333 cname:abc",
	"a=sendonly",
)

func TestParseLocal(t *testing.T) {
	local, err := parseLocal(engineOffer)
	require.NoError(t, err)

	assert.Equal(t, "client", local.Dtls.Role)
	require.Len(t, local.Dtls.Fingerprints, 1)
	assert.Equal(t, domain.DtlsFingerprint{Algorithm: "sha-256", Value: "AA:BB:CC"}, local.Dtls.Fingerprints[0])
	require.Len(t, local.Sections, 2)

	audio := local.Sections[0]
	assert.Equal(t, "0", audio.Mid)
	assert.Equal(t, domain.KindAudio, audio.Kind)
	assert.Equal(t, "sendonly", audio.Direction)
	assert.Equal(t, uint32(1111), audio.Ssrc)
	assert.Equal(t, "abc", audio.Cname)
	require.Len(t, audio.Codecs, 1)
	assert.Equal(t, "audio/opus", audio.Codecs[0].MimeType)
	assert.Equal(t, uint8(111), audio.Codecs[0].PayloadType)
	assert.Equal(t, uint16(2), audio.Codecs[0].Channels)
	assert.Equal(t, map[string]any{"minptime": 10, "useinbandfec": 1}, audio.Codecs[0].Parameters)
	assert.Equal(t, []domain.RtcpFeedback{{Type: "transport-cc"}}, audio.Codecs[0].RtcpFeedback)
	assert.Equal(t, []domain.RtpHeaderExtensionParameters{
		{URI: "urn:ietf:params:rtp-hdrext:sdes:mid", ID: 1},
		{URI: audioLevelURI, ID: 2},
	}, audio.Extensions)

	video := local.Sections[1]
	assert.Equal(t, uint32(2222), video.Ssrc)
	assert.Equal(t, uint32(3333), video.RtxSsrc)
	require.Len(t, video.Codecs, 2)
	assert.Equal(t, "video/VP8", video.Codecs[0].MimeType)
	assert.Equal(t, []domain.RtcpFeedback{{Type: "nack", Parameter: "pli"}}, video.Codecs[0].RtcpFeedback)
	assert.Equal(t, 96, aptOf(video.Codecs[1].Parameters))
}

func TestParseLocalWithoutFingerprint(t *testing.T) {
	_, err := parseLocal(strings.Replace(engineOffer, "a=fingerprint:sha-256 AA:BB:CC\r\n", "", 1))
	assert.ErrorIs(t, err, errNoFingerprint)
}

func TestFmtpRoundTrip(t *testing.T) {
	assert.Equal(t, "apt=96", formatFmtp(map[string]any{"apt": float64(96)}))
	assert.Equal(t, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		formatFmtp(map[string]any{
			"profile-level-id":        "42e01f",
			"packetization-mode":      float64(1),
			"level-asymmetry-allowed": 1,
		}))
	assert.Nil(t, parseFmtp(""))
	assert.Equal(t, map[string]any{"profile-level-id": "42e01f", "packetization-mode": 1},
		parseFmtp("profile-level-id=42e01f;packetization-mode=1"))
}

func TestNegotiatedCodecsKeepsRtxOfChosenCodec(t *testing.T) {
	local := []domain.RtpCodecParameters{
		{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000},
		{MimeType: "video/rtx", PayloadType: 97, ClockRate: 90000, Parameters: map[string]any{"apt": 96}},
		{MimeType: "video/H264", PayloadType: 102, ClockRate: 90000},
		{MimeType: "video/rtx", PayloadType: 103, ClockRate: 90000, Parameters: map[string]any{"apt": 102}},
	}
	caps := domain.RtpCapabilities{Codecs: []domain.RtpCodecCapability{
		{Kind: domain.KindVideo, MimeType: "video/h264", ClockRate: 90000},
		{Kind: domain.KindVideo, MimeType: "video/rtx", ClockRate: 90000},
	}}

	got := negotiatedCodecs(local, caps)
	require.Len(t, got, 2)
	assert.Equal(t, uint8(102), got[0].PayloadType)
	assert.Equal(t, uint8(103), got[1].PayloadType)

	caps.Codecs = caps.Codecs[:1]
	got = negotiatedCodecs(local, caps)
	require.Len(t, got, 1)
	assert.Equal(t, uint8(102), got[0].PayloadType)
}

func serverParams() remoteParams {
	return remoteParams{
		Ice: domain.IceParameters{UsernameFragment: "srvufrag1", Password: "srvpassword0123456789abcd", IceLite: true},
		Candidates: []domain.IceCandidate{
			{Foundation: "udpcandidate", Priority: 1076302079, IP: "10.0.0.1", Protocol: "udp", Port: 40000, Type: "host"},
			{Foundation: "tcpcandidate", Priority: 1076276479, Address: "10.0.0.1", Protocol: "tcp", Port: 40001, Type: "host", TCPType: "passive"},
		},
		Dtls: domain.DtlsParameters{Role: "auto", Fingerprints: []domain.DtlsFingerprint{
			{Algorithm: "sha-512", Value: "11:22"},
			{Algorithm: "sha-256", Value: "33:44"},
		}},
	}
}

func opusParams(mid string, ssrc uint32) domain.RtpParameters {
	return domain.RtpParameters{
		Mid: mid,
		Codecs: []domain.RtpCodecParameters{{
			MimeType:    "audio/opus",
			PayloadType: 100,
			ClockRate:   48000,
			Channels:    2,
			Parameters:  map[string]any{"minptime": float64(10), "useinbandfec": float64(1)},
		}},
		HeaderExtensions: []domain.RtpHeaderExtensionParameters{{URI: audioLevelURI, ID: 10}},
		Encodings:        []domain.RtpEncodingParameters{{Ssrc: ssrc}},
		Rtcp:             domain.RtcpParameters{Cname: "peer-cname", ReducedSize: true},
	}
}

func TestRecvOfferDescribesStreams(t *testing.T) {
	video := domain.RtpParameters{
		Codecs: []domain.RtpCodecParameters{
			{MimeType: "video/VP8", PayloadType: 101, ClockRate: 90000},
			{MimeType: "video/rtx", PayloadType: 102, ClockRate: 90000, Parameters: map[string]any{"apt": float64(101)}},
		},
		Encodings: []domain.RtpEncodingParameters{{Ssrc: 10, Rtx: &domain.RtxParameters{Ssrc: 11}}},
		Rtcp:      domain.RtcpParameters{Cname: "peer-cname"},
	}
	sections := []*remoteSection{
		{Mid: "0", Kind: domain.KindVideo, Params: video, StreamID: "prod-1", TrackID: "cons-1"},
		{Mid: "1", Kind: domain.KindAudio, Params: opusParams("1", 20), StreamID: "prod-2", TrackID: "cons-2", Closed: true},
	}

	raw, err := serverParams().recvOffer(3, sections)
	require.NoError(t, err)

	var sd sdp.SessionDescription
	require.NoError(t, sd.Unmarshal([]byte(raw)))
	_, lite := sd.Attribute("ice-lite")
	assert.True(t, lite)
	group, _ := sd.Attribute("group")
	assert.Equal(t, "BUNDLE 0 1", group)
	assert.Equal(t, uint64(3), sd.Origin.SessionVersion)
	require.Len(t, sd.MediaDescriptions, 2)

	open := sd.MediaDescriptions[0]
	_, sendonly := open.Attribute("sendonly")
	assert.True(t, sendonly)
	setup, _ := open.Attribute("setup")
	assert.Equal(t, "actpass", setup)
	fp, _ := open.Attribute("fingerprint")
	assert.Equal(t, "sha-256 33:44", fp)
	fid, _ := open.Attribute("ssrc-group")
	assert.Equal(t, "FID 10 11", fid)
	assert.Equal(t, []string{"101", "102"}, open.MediaName.Formats)

	var candidates []string
	for _, a := range open.Attributes {
		if a.Key == "candidate" {
			candidates = append(candidates, a.Value)
		}
	}
	assert.Equal(t, []string{
		"udpcandidate 1 udp 1076302079 10.0.0.1 40000 typ host",
		"tcpcandidate 1 tcp 1076276479 10.0.0.1 40001 typ host tcptype passive",
	}, candidates)

	closed := sd.MediaDescriptions[1]
	_, inactive := closed.Attribute("inactive")
	assert.True(t, inactive)
	_, hasSsrc := closed.Attribute("ssrc")
	assert.False(t, hasSsrc)
}

func TestSendAnswerMirrorsLocalSections(t *testing.T) {
	local, err := parseLocal(engineOffer)
	require.NoError(t, err)
	caps := domain.RtpCapabilities{
		Codecs: []domain.RtpCodecCapability{
			{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
			{Kind: domain.KindVideo, MimeType: "video/VP8", ClockRate: 90000},
		},
		HeaderExtensions: []domain.RtpHeaderExtension{
			{Kind: domain.KindAudio, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1},
		},
	}

	raw, err := serverParams().sendAnswer(1, local, caps)
	require.NoError(t, err)

	var sd sdp.SessionDescription
	require.NoError(t, sd.Unmarshal([]byte(raw)))
	require.Len(t, sd.MediaDescriptions, 2)

	audio := sd.MediaDescriptions[0]
	mid, _ := audio.Attribute("mid")
	assert.Equal(t, "0", mid)
	setup, _ := audio.Attribute("setup")
	assert.Equal(t, "passive", setup)
	_, recvonly := audio.Attribute("recvonly")
	assert.True(t, recvonly)
	assert.Equal(t, []string{"111"}, audio.MediaName.Formats)
	var extmaps []string
	for _, a := range audio.Attributes {
		if a.Key == "extmap" {
			extmaps = append(extmaps, a.Value)
		}
	}
	assert.Equal(t, []string{"1 urn:ietf:params:rtp-hdrext:sdes:mid"}, extmaps)

	// No rtx in the server set, so only the media codec is answered.
	assert.Equal(t, []string{"96"}, sd.MediaDescriptions[1].MediaName.Formats)
}

func TestSendParametersDescribeOneStream(t *testing.T) {
	local, err := parseLocal(engineOffer)
	require.NoError(t, err)
	caps := domain.RtpCapabilities{Codecs: []domain.RtpCodecCapability{
		{Kind: domain.KindVideo, MimeType: "video/VP8", ClockRate: 90000},
		{Kind: domain.KindVideo, MimeType: "video/rtx", ClockRate: 90000},
	}}
	ladder := []domain.RtpEncodingParameters{
		{ScaleResolutionDownBy: 4, MaxBitrate: 150000, ScalabilityMode: "L1T3"},
		{ScaleResolutionDownBy: 1, MaxBitrate: 1200000, ScalabilityMode: "L1T3", NetworkPriority: "high"},
		{ScaleResolutionDownBy: 2, MaxBitrate: 500000, ScalabilityMode: "L1T3"},
	}

	params := sendParameters(local.Sections[1], ladder, caps)
	assert.Equal(t, "1", params.Mid)
	require.Len(t, params.Encodings, 1)
	enc := params.Encodings[0]
	assert.Equal(t, uint32(2222), enc.Ssrc)
	require.NotNil(t, enc.Rtx)
	assert.Equal(t, uint32(3333), enc.Rtx.Ssrc)
	assert.Equal(t, 1200000, enc.MaxBitrate)
	assert.Equal(t, "high", enc.NetworkPriority)
	assert.Len(t, params.Codecs, 2)
	assert.Equal(t, domain.RtcpParameters{Cname: "abc", ReducedSize: true}, params.Rtcp)
}
