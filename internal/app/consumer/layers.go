package consumer

import (
	"context"
	"math"

	"github.com/dkeye/Meet/internal/domain"
)

// preferredLayers picks the layers for a viewport. It walks the resolution
// levels from the most scaled down one and moves up while the viewport can
// show the level at the adaptive factor. On the lowest spatial layer a very
// small viewport also gives up temporal layers.
func preferredLayers(c domain.Consumer, factor float64, viewWidth, viewHeight int) (spatial, temporal int) {
	factor = min(max(factor, 0.5), 1)
	vw, vh := float64(viewWidth), float64(viewHeight)
	width, height := float64(c.Width), float64(c.Height)
	scalings := c.ResolutionScalings
	if len(scalings) == 0 {
		scalings = defaultScalings(c.SpatialLayers)
	}

	for i, scale := range scalings {
		if scale <= 0 {
			break
		}
		levelWidth := factor * width / scale
		levelHeight := factor * height / scale
		if vw >= levelWidth || vh >= levelHeight {
			spatial = i
		} else {
			break
		}
	}
	spatial = clamp(spatial, 0, c.SpatialLayers-1)

	temporal = c.TemporalLayers - 1
	if spatial == 0 && temporal > 0 && len(scalings) > 0 && scalings[0] > 0 {
		lowestWidth := width / scalings[0]
		lowestHeight := height / scalings[0]
		if vw < lowestWidth*0.5 && vh < lowestHeight*0.5 {
			temporal--
		}
		if temporal > 0 && vw < lowestWidth*0.25 && vh < lowestHeight*0.25 {
			temporal--
		}
	}
	return spatial, max(temporal, 0)
}

// defaultScalings halves the resolution per spatial layer below the top one,
// for producers that did not announce their ladder.
func defaultScalings(spatialLayers int) []float64 {
	out := make([]float64, 0, max(spatialLayers, 0))
	for i := range spatialLayers {
		out = append(out, math.Ldexp(1, spatialLayers-i-1))
	}
	return out
}

// AdaptLayers selects the preferred layers of a video consumer for the
// viewport it is rendered in. Single-layer consumers and unknown viewport
// sizes are ignored.
func (m *Manager) AdaptLayers(ctx context.Context, id string, viewWidth, viewHeight int) error {
	if viewWidth <= 0 || viewHeight <= 0 {
		return nil
	}
	c, ok := m.Consumer(id)
	if !ok {
		return nil
	}
	if c.Kind != domain.KindVideo || c.Simple() || c.Width <= 0 || c.Height <= 0 {
		return nil
	}
	spatial, temporal := preferredLayers(c, m.cfg.AdaptiveScalingFactor, viewWidth, viewHeight)
	if spatial == c.PreferredSpatialLayer && temporal == c.PreferredTemporalLayer {
		return nil
	}
	return m.SetPreferredLayers(ctx, id, spatial, temporal)
}

// ScheduleAdaptLayers debounces AdaptLayers per consumer. A newer call
// replaces the pending one.
func (m *Manager) ScheduleAdaptLayers(id string, viewWidth, viewHeight int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.consumers[id]; !ok {
		return
	}
	if p, ok := m.debounce[id]; ok {
		p.stop()
	}
	m.seq++
	seq := m.seq
	stop := m.AfterFunc(m.cfg.LayerDebounce, func() {
		m.mu.Lock()
		if p, ok := m.debounce[id]; ok && p.seq == seq {
			delete(m.debounce, id)
		}
		m.mu.Unlock()
		if err := m.AdaptLayers(context.Background(), id, viewWidth, viewHeight); err != nil {
			m.logger.Warn().Err(err).Str("consumer_id", id).Msg("adapt layers failed")
		}
	})
	m.debounce[id] = pendingAdapt{seq: seq, stop: stop}
}
