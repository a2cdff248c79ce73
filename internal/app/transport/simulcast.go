package transport

import (
	"strings"

	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/domain"
)

// Ladders for the SVC codec: one scalable encoding instead of simulcast.
var (
	svcWebcamEncodings = []domain.RtpEncodingParameters{{ScalabilityMode: "S3T3_KEY"}}
	svcScreenEncodings = []domain.RtpEncodingParameters{{ScalabilityMode: "S3T3", Dtx: true}}
)

const simulcastTemporalMode = "L1T3"

// SimulcastEncodings returns the encodings for a video source of the given size.
func (m *Manager) SimulcastEncodings(width, height int, screen bool) []domain.RtpEncodingParameters {
	if strings.EqualFold(m.VideoCodec(), "video/vp9") {
		if screen {
			return cloneEncodings(svcScreenEncodings)
		}
		return cloneEncodings(svcWebcamEncodings)
	}
	return selectProfile(m.profiles, width, height)
}

// selectProfile walks thresholds from highest to lowest and keeps the last one
// still at or above the larger side. With no such threshold the smallest
// profile is used. A single-encoding ladder is duplicated.
func selectProfile(profiles map[int][]config.SimulcastEncoding, width, height int) []domain.RtpEncodingParameters {
	keys := config.ProfileKeys(profiles)
	if len(keys) == 0 {
		return nil
	}
	size := max(width, height)

	var chosen []config.SimulcastEncoding
	for _, key := range keys {
		if key >= size {
			chosen = profiles[key]
		}
	}
	if chosen == nil {
		chosen = profiles[keys[len(keys)-1]]
	}

	out := make([]domain.RtpEncodingParameters, 0, len(chosen)+1)
	for _, e := range chosen {
		out = append(out, domain.RtpEncodingParameters{
			ScaleResolutionDownBy: e.ScaleResolutionDownBy,
			MaxBitrate:            e.MaxBitrate,
			ScalabilityMode:       simulcastTemporalMode,
		})
	}
	if len(out) == 1 {
		out = append(out, out[0])
	}
	return out
}

func cloneEncodings(in []domain.RtpEncodingParameters) []domain.RtpEncodingParameters {
	out := make([]domain.RtpEncodingParameters, len(in))
	copy(out, in)
	return out
}
