package consumer

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Meet/internal/domain"
)

type AppData struct {
	Source             domain.Source `json:"source"`
	Width              int           `json:"width"`
	Height             int           `json:"height"`
	ResolutionScalings []float64     `json:"resolutionScalings"`
}

type Score struct {
	Score         int `json:"score"`
	ProducerScore int `json:"producerScore"`
}

// NewConsumer is the payload of the server's newConsumer request.
type NewConsumer struct {
	PeerID         domain.PeerID        `json:"peerId"`
	ProducerID     string               `json:"producerId"`
	ID             string               `json:"id"`
	Kind           domain.Kind          `json:"kind"`
	RtpParameters  domain.RtpParameters `json:"rtpParameters"`
	Type           string               `json:"type"`
	AppData        AppData              `json:"appData"`
	ProducerPaused bool                 `json:"producerPaused"`
	Score          *Score               `json:"score,omitempty"`
}

func (m *Manager) handleNewConsumer(ctx context.Context, raw json.RawMessage) (any, error) {
	var req NewConsumer
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	if _, err := m.Consume(ctx, req); err != nil {
		m.logger.Error().Err(err).Str("consumer_id", req.ID).Str("peer_id", string(req.PeerID)).Msg("newConsumer rejected")
		return nil, err
	}
	return struct{}{}, nil
}

func decodeConsumerID(raw json.RawMessage) (string, bool) {
	var req consumerRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.ConsumerID == "" {
		return "", false
	}
	return req.ConsumerID, true
}

func (m *Manager) handleConsumerClosed(_ context.Context, raw json.RawMessage) {
	if id, ok := decodeConsumerID(raw); ok {
		m.Close(id)
	}
}

func (m *Manager) handleConsumerPaused(_ context.Context, raw json.RawMessage) {
	id, ok := decodeConsumerID(raw)
	if !ok {
		return
	}
	if info, ok := m.update(id, func(c *domain.Consumer) { c.RemotelyPaused = true }); ok {
		m.events.Emit(ConsumerPaused{Consumer: info, Remote: true})
	}
}

func (m *Manager) handleConsumerResumed(_ context.Context, raw json.RawMessage) {
	id, ok := decodeConsumerID(raw)
	if !ok {
		return
	}
	if info, ok := m.update(id, func(c *domain.Consumer) { c.RemotelyPaused = false }); ok {
		m.events.Emit(ConsumerResumed{Consumer: info, Remote: true})
	}
}

func (m *Manager) handleLayersChanged(_ context.Context, raw json.RawMessage) {
	var msg struct {
		ConsumerID    string `json:"consumerId"`
		SpatialLayer  *int   `json:"spatialLayer"`
		TemporalLayer *int   `json:"temporalLayer"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		m.logger.Warn().Err(err).Msg("bad consumerLayersChanged")
		return
	}
	info, ok := m.update(msg.ConsumerID, func(c *domain.Consumer) {
		c.CurrentSpatialLayer, c.CurrentTemporalLayer = -1, -1
		if msg.SpatialLayer != nil {
			c.CurrentSpatialLayer = *msg.SpatialLayer
		}
		if msg.TemporalLayer != nil {
			c.CurrentTemporalLayer = *msg.TemporalLayer
		}
	})
	if ok {
		m.events.Emit(ConsumerUpdated{Consumer: info})
	}
}

func (m *Manager) handleScore(_ context.Context, raw json.RawMessage) {
	var msg struct {
		ConsumerID string `json:"consumerId"`
		Score      Score  `json:"score"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		m.logger.Warn().Err(err).Msg("bad consumerScore")
		return
	}
	info, ok := m.update(msg.ConsumerID, func(c *domain.Consumer) {
		c.Score, c.ProducerScore = msg.Score.Score, msg.Score.ProducerScore
	})
	if ok {
		m.events.Emit(ConsumerUpdated{Consumer: info})
	}
}
