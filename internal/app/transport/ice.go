package transport

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"

	"github.com/dkeye/Meet/internal/core"
)

// iceRestarter recovers one directional transport from ICE disconnects.
type iceRestarter struct {
	dir       core.Direction
	afterFunc core.AfterFunc
	restart   func(ctx context.Context) error
	onFailure func(delay time.Duration, err error)
	logger    zerolog.Logger

	mu         sync.Mutex
	ctx        context.Context
	stop       func() bool
	restarting bool
	closed     bool
	backoff    *backoff.ExponentialBackOff
}

func newIceRestarter(
	ctx context.Context,
	dir core.Direction,
	delay time.Duration,
	afterFunc core.AfterFunc,
	restart func(ctx context.Context) error,
	logger zerolog.Logger,
) *iceRestarter {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	b.Reset()
	return &iceRestarter{
		ctx:       ctx,
		dir:       dir,
		afterFunc: afterFunc,
		restart:   restart,
		logger:    logger.With().Str("direction", string(dir)).Logger(),
		backoff:   b,
	}
}

// OnState reacts to a connection state change of the transport.
func (r *iceRestarter) OnState(state core.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	switch state {
	case core.StateDisconnected, core.StateFailed:
		if r.stop != nil || r.restarting {
			return
		}
		r.scheduleLocked()
	default:
		r.cancelLocked()
		r.backoff.Reset()
	}
}

func (r *iceRestarter) scheduleLocked() time.Duration {
	d := r.backoff.NextBackOff()
	r.stop = r.afterFunc(d, r.fire)
	r.logger.Info().Dur("delay", d).Msg("ice restart scheduled")
	return d
}

func (r *iceRestarter) cancelLocked() {
	if r.stop != nil {
		r.stop()
		r.stop = nil
	}
}

func (r *iceRestarter) fire() {
	r.mu.Lock()
	r.stop = nil
	if r.closed {
		r.mu.Unlock()
		return
	}
	if r.restarting {
		r.mu.Unlock()
		r.logger.Debug().Msg("ice restart already running")
		return
	}
	r.restarting = true
	ctx := r.ctx
	r.mu.Unlock()

	err := r.restart(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.restarting = false
	if r.closed {
		return
	}
	if err != nil {
		d := r.scheduleLocked()
		r.logger.Error().Err(err).Dur("retry_in", d).Msg("ice restart failed")
		if r.onFailure != nil {
			r.onFailure(d, err)
		}
		return
	}
	r.backoff.Reset()
	r.logger.Info().Msg("ice restarted")
}

func (r *iceRestarter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cancelLocked()
}
