package producer

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

// Register installs the producer-related server handlers on the signaler.
// Moderator directives stop local media the same way the user would.
func (m *Manager) Register(sig core.Signaler) {
	sig.OnNotification("producerScore", m.handleScore)
	sig.OnNotification("moderator:mute", func(ctx context.Context, _ json.RawMessage) {
		if _, ok := m.Producer(domain.SourceMic); !ok {
			return
		}
		if err := m.MuteMic(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("moderator mute failed")
		}
	})
	sig.OnNotification("moderator:stopVideo", func(ctx context.Context, _ json.RawMessage) {
		if err := m.StopWebcam(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("moderator stop video failed")
		}
	})
	sig.OnNotification("moderator:stopScreenSharing", func(ctx context.Context, _ json.RawMessage) {
		if err := m.StopScreenShare(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("moderator stop screen sharing failed")
		}
	})
}

func (m *Manager) handleScore(_ context.Context, raw json.RawMessage) {
	var msg struct {
		ProducerID string `json:"producerId"`
		Score      []struct {
			Score int `json:"score"`
		} `json:"score"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		m.logger.Warn().Err(err).Msg("bad producerScore")
		return
	}
	score := make([]int, len(msg.Score))
	for i, s := range msg.Score {
		score[i] = s.Score
	}
	m.SetScore(msg.ProducerID, score)
}
