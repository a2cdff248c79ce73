package rtc

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/dkeye/Meet/internal/domain"
)

var errNoFingerprint = errors.New("rtc: local description has no DTLS fingerprint")

// localSection is one m-section of the engine's own description.
type localSection struct {
	Mid        string
	Kind       domain.Kind
	Direction  string
	Codecs     []domain.RtpCodecParameters
	Extensions []domain.RtpHeaderExtensionParameters
	Ssrc       uint32
	RtxSsrc    uint32
	Cname      string
}

type localDescription struct {
	Dtls     domain.DtlsParameters
	Sections []localSection
}

func (d localDescription) section(mid string) (localSection, bool) {
	for _, s := range d.Sections {
		if s.Mid == mid {
			return s, true
		}
	}
	return localSection{}, false
}

// parseLocal extracts what the server needs from a description the engine
// generated: the DTLS fingerprint and role, plus codecs, header extensions
// and SSRCs per m-section.
func parseLocal(raw string) (localDescription, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return localDescription{}, fmt.Errorf("parse local sdp: %w", err)
	}

	var out localDescription
	fingerprint, _ := sd.Attribute("fingerprint")
	setup := ""
	for _, md := range sd.MediaDescriptions {
		if fingerprint == "" {
			fingerprint, _ = md.Attribute("fingerprint")
		}
		if setup == "" {
			setup, _ = md.Attribute("setup")
		}
		out.Sections = append(out.Sections, parseSection(&sd, md))
	}

	alg, value, ok := strings.Cut(fingerprint, " ")
	if !ok {
		return localDescription{}, errNoFingerprint
	}
	out.Dtls = domain.DtlsParameters{
		Role:         dtlsRole(setup),
		Fingerprints: []domain.DtlsFingerprint{{Algorithm: alg, Value: value}},
	}
	return out, nil
}

// dtlsRole maps an SDP setup attribute to the role the server expects.
// The server side always answers passive, so actpass means client.
func dtlsRole(setup string) string {
	if setup == "passive" {
		return "server"
	}
	return "client"
}

func parseSection(sd *sdp.SessionDescription, md *sdp.MediaDescription) localSection {
	s := localSection{Kind: domain.Kind(md.MediaName.Media), Direction: "sendrecv"}
	s.Mid, _ = md.Attribute("mid")

	for _, a := range md.Attributes {
		switch a.Key {
		case "sendonly", "recvonly", "sendrecv", "inactive":
			s.Direction = a.Key
		case "extmap":
			var e sdp.ExtMap
			if err := e.Unmarshal("extmap:" + a.Value); err == nil && e.URI != nil {
				s.Extensions = append(s.Extensions, domain.RtpHeaderExtensionParameters{URI: e.URI.String(), ID: e.Value})
			}
		case "ssrc":
			id, attr, _ := strings.Cut(a.Value, " ")
			ssrc, err := strconv.ParseUint(id, 10, 32)
			if err != nil {
				continue
			}
			if s.Ssrc == 0 {
				s.Ssrc = uint32(ssrc)
			}
			if cname, ok := strings.CutPrefix(attr, "cname:"); ok && s.Cname == "" {
				s.Cname = cname
			}
		case "ssrc-group":
			f := strings.Fields(a.Value)
			if len(f) == 3 && f[0] == "FID" {
				if rtx, err := strconv.ParseUint(f[2], 10, 32); err == nil {
					s.RtxSsrc = uint32(rtx)
				}
			}
		}
	}

	for _, format := range md.MediaName.Formats {
		pt, err := strconv.ParseUint(format, 10, 8)
		if err != nil {
			continue
		}
		c, err := sd.GetCodecForPayloadType(uint8(pt))
		if err != nil {
			continue
		}
		s.Codecs = append(s.Codecs, codecFromSDP(s.Kind, c))
	}
	return s
}

func codecFromSDP(kind domain.Kind, c sdp.Codec) domain.RtpCodecParameters {
	out := domain.RtpCodecParameters{
		MimeType:    string(kind) + "/" + c.Name,
		PayloadType: c.PayloadType,
		ClockRate:   c.ClockRate,
		Parameters:  parseFmtp(c.Fmtp),
	}
	if ch, err := strconv.ParseUint(c.EncodingParameters, 10, 16); err == nil {
		out.Channels = uint16(ch)
	}
	for _, fb := range c.RTCPFeedback {
		typ, param, _ := strings.Cut(fb, " ")
		out.RtcpFeedback = append(out.RtcpFeedback, domain.RtcpFeedback{Type: typ, Parameter: param})
	}
	return out
}

// parseFmtp turns "a=1;b=x" into a parameter map. Integers stay numeric so
// they compare equal to the server's JSON values.
func parseFmtp(line string) map[string]any {
	if line == "" {
		return nil
	}
	out := make(map[string]any)
	for _, kv := range strings.Split(line, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			out[k] = n
			continue
		}
		out[k] = v
	}
	return out
}

func formatFmtp(params map[string]any) string {
	keys := slices.Sorted(maps.Keys(params))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		var v string
		switch x := params[k].(type) {
		case float64:
			v = strconv.FormatFloat(x, 'f', -1, 64)
		case string:
			v = x
		default:
			v = fmt.Sprint(x)
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ";")
}

// remoteParams is the server end of a transport as described by
// createWebRtcTransport.
type remoteParams struct {
	Ice        domain.IceParameters
	Candidates []domain.IceCandidate
	Dtls       domain.DtlsParameters
}

// remoteSection is one server-sent stream on a receiving transport.
type remoteSection struct {
	Mid      string
	Kind     domain.Kind
	Params   domain.RtpParameters
	StreamID string
	TrackID  string
	Closed   bool
}

func (r remoteParams) session(version uint64, mids []string) *sdp.SessionDescription {
	sd := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      10000,
			SessionVersion: version,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName:      "-",
		TimeDescriptions: []sdp.TimeDescription{{}},
	}
	if r.Ice.IceLite {
		sd = sd.WithPropertyAttribute("ice-lite")
	}
	sd = sd.WithValueAttribute("msid-semantic", "WMS *")
	if len(mids) > 0 {
		sd = sd.WithValueAttribute("group", "BUNDLE "+strings.Join(mids, " "))
	}
	return sd
}

func (r remoteParams) fingerprint() domain.DtlsFingerprint {
	for _, fp := range r.Dtls.Fingerprints {
		if strings.EqualFold(fp.Algorithm, "sha-256") {
			return fp
		}
	}
	if n := len(r.Dtls.Fingerprints); n > 0 {
		return r.Dtls.Fingerprints[n-1]
	}
	return domain.DtlsFingerprint{}
}

func (r remoteParams) media(kind domain.Kind, mid, direction, setup string) *sdp.MediaDescription {
	fp := r.fingerprint()
	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  string(kind),
			Port:   sdp.RangedPort{Value: 7},
			Protos: []string{"UDP", "TLS", "RTP", "SAVPF"},
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "127.0.0.1"},
		},
	}
	md = md.WithValueAttribute("mid", mid).
		WithICECredentials(r.Ice.UsernameFragment, r.Ice.Password).
		WithFingerprint(fp.Algorithm, fp.Value).
		WithValueAttribute("setup", setup).
		WithPropertyAttribute(direction).
		WithPropertyAttribute("rtcp-mux").
		WithPropertyAttribute("rtcp-rsize")
	for _, c := range r.Candidates {
		md = md.WithCandidate(candidateLine(c))
	}
	return md.WithPropertyAttribute("end-of-candidates")
}

func candidateLine(c domain.IceCandidate) string {
	line := fmt.Sprintf("%s 1 %s %d %s %d typ %s",
		c.Foundation, strings.ToLower(c.Protocol), c.Priority, c.Host(), c.Port, c.Type)
	if c.TCPType != "" {
		line += " tcptype " + c.TCPType
	}
	return line
}

func withCodecs(md *sdp.MediaDescription, codecs []domain.RtpCodecParameters) *sdp.MediaDescription {
	for _, c := range codecs {
		_, name, _ := strings.Cut(c.MimeType, "/")
		md = md.WithCodec(c.PayloadType, name, c.ClockRate, c.Channels, formatFmtp(c.Parameters))
		for _, fb := range c.RtcpFeedback {
			md = md.WithValueAttribute("rtcp-fb", strings.TrimSpace(fmt.Sprintf("%d %s %s", c.PayloadType, fb.Type, fb.Parameter)))
		}
	}
	return md
}

func withExtensions(md *sdp.MediaDescription, exts []domain.RtpHeaderExtensionParameters) *sdp.MediaDescription {
	for _, e := range exts {
		u, err := url.Parse(e.URI)
		if err != nil {
			continue
		}
		md = md.WithExtMap(sdp.ExtMap{Value: e.ID, URI: u})
	}
	return md
}

// sendAnswer answers the engine's offer on a sending transport with the
// server as the passive, receiving side.
func (r remoteParams) sendAnswer(version uint64, local localDescription, caps domain.RtpCapabilities) (string, error) {
	mids := make([]string, 0, len(local.Sections))
	for _, s := range local.Sections {
		mids = append(mids, s.Mid)
	}
	sd := r.session(version, mids)
	for _, s := range local.Sections {
		direction := "recvonly"
		if s.Direction == "inactive" || s.Direction == "recvonly" {
			direction = "inactive"
		}
		md := r.media(s.Kind, s.Mid, direction, "passive")
		md = withCodecs(md, negotiatedCodecs(s.Codecs, caps))
		md = withExtensions(md, supportedExtensions(s.Kind, s.Extensions, caps))
		sd.MediaDescriptions = append(sd.MediaDescriptions, md)
	}
	b, err := sd.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal answer: %w", err)
	}
	return string(b), nil
}

// recvOffer describes every stream the server sends on a receiving
// transport. Closed streams keep their m-section as inactive so mids stay
// in order.
func (r remoteParams) recvOffer(version uint64, sections []*remoteSection) (string, error) {
	mids := make([]string, 0, len(sections))
	for _, s := range sections {
		mids = append(mids, s.Mid)
	}
	sd := r.session(version, mids)
	for _, s := range sections {
		direction := "sendonly"
		if s.Closed {
			direction = "inactive"
		}
		md := r.media(s.Kind, s.Mid, direction, "actpass")
		md = withCodecs(md, s.Params.Codecs)
		md = withExtensions(md, s.Params.HeaderExtensions)
		if !s.Closed && len(s.Params.Encodings) > 0 {
			enc := s.Params.Encodings[0]
			cname := s.Params.Rtcp.Cname
			md = md.WithValueAttribute("msid", s.StreamID+" "+s.TrackID)
			if enc.Rtx != nil {
				md = md.WithValueAttribute("ssrc-group", fmt.Sprintf("FID %d %d", enc.Ssrc, enc.Rtx.Ssrc))
			}
			md = md.WithMediaSource(enc.Ssrc, cname, s.StreamID, s.TrackID)
			if enc.Rtx != nil {
				md = md.WithMediaSource(enc.Rtx.Ssrc, cname, s.StreamID, s.TrackID)
			}
		}
		sd.MediaDescriptions = append(sd.MediaDescriptions, md)
	}
	b, err := sd.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal offer: %w", err)
	}
	return string(b), nil
}

// negotiatedCodecs keeps the first local codec the server supports and its
// retransmission codec.
func negotiatedCodecs(local []domain.RtpCodecParameters, caps domain.RtpCapabilities) []domain.RtpCodecParameters {
	var media *domain.RtpCodecParameters
	for i := range local {
		if !isRtx(local[i].MimeType) && supportsCodec(caps, local[i]) {
			media = &local[i]
			break
		}
	}
	if media == nil {
		return nil
	}
	out := []domain.RtpCodecParameters{*media}
	for _, c := range local {
		if isRtx(c.MimeType) && aptOf(c.Parameters) == int(media.PayloadType) && hasRtx(caps) {
			out = append(out, c)
			break
		}
	}
	return out
}

func supportsCodec(caps domain.RtpCapabilities, c domain.RtpCodecParameters) bool {
	for _, cc := range caps.Codecs {
		if strings.EqualFold(cc.MimeType, c.MimeType) && cc.ClockRate == c.ClockRate {
			return true
		}
	}
	return false
}

func hasRtx(caps domain.RtpCapabilities) bool {
	for _, cc := range caps.Codecs {
		if isRtx(cc.MimeType) {
			return true
		}
	}
	return false
}

func supportedExtensions(kind domain.Kind, exts []domain.RtpHeaderExtensionParameters, caps domain.RtpCapabilities) []domain.RtpHeaderExtensionParameters {
	var out []domain.RtpHeaderExtensionParameters
	for _, e := range exts {
		for _, ce := range caps.HeaderExtensions {
			if ce.URI == e.URI && (ce.Kind == "" || ce.Kind == kind) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func isRtx(mime string) bool {
	return strings.HasSuffix(strings.ToLower(mime), "/rtx")
}

func aptOf(params map[string]any) int {
	switch v := params["apt"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return -1
}
