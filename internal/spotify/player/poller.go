package player

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tessro/tandem/internal/engine"
	tandemerrors "github.com/tessro/tandem/internal/errors"
	"github.com/tessro/tandem/internal/spotify/client"
)

// notReadyAfter is the number of consecutive failed polls before the device
// is reported unreachable. Each poll already carries the API retry policy.
const notReadyAfter = 2

// poller fetches playback state on an interval and feeds it to the engine.
type poller struct {
	e        *Engine
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}

	failures    int
	unreachable bool
	authFailed  bool
}

func newPoller(e *Engine, interval time.Duration) *poller {
	return &poller{e: e, interval: interval, done: make(chan struct{})}
}

func (p *poller) start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(ctx)
}

// stop cancels the loop and waits for it to exit.
func (p *poller) stop() {
	p.cancel()
	<-p.done
}

func (p *poller) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.e.clk.After(p.interval):
		}
		p.poll(ctx)
	}
}

func (p *poller) poll(ctx context.Context) {
	st, err := p.e.api.GetPlaybackState(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.fail(err)
		return
	}

	p.failures = 0
	p.authFailed = false
	if p.unreachable {
		p.unreachable = false
		p.e.log.Info("device reachable again")
		p.e.hub.Publish(engine.Event{Type: engine.EventReady})
	}
	p.e.apply(st)
}

func (p *poller) fail(err error) {
	switch tandemerrors.KindOf(err) {
	case tandemerrors.KindUnauthorized:
		if !p.authFailed {
			p.authFailed = true
			p.e.hub.Publish(engine.Event{Type: engine.EventAuthError, Err: err})
		}
		return
	case tandemerrors.KindForbidden:
		p.e.hub.Publish(engine.Event{Type: engine.EventAccountError, Err: err})
		return
	}

	p.failures++
	p.e.log.Debug("poll failed", zap.Int("failures", p.failures), zap.Error(err))
	if p.failures >= notReadyAfter && !p.unreachable {
		p.unreachable = true
		p.e.log.Warn("device unreachable", zap.Error(err))
		p.e.hub.Publish(engine.Event{Type: engine.EventNotReady, Err: err})
	}
}

// apply folds a polled snapshot into the engine state and publishes it for
// the current source. Snapshots taken before the device picked up the
// source are ignored; once it has, a different or missing item means the
// source finished.
func (e *Engine) apply(st *client.PlaybackState) {
	e.mu.Lock()
	src := e.src
	if src == "" || !e.started {
		e.mu.Unlock()
		return
	}

	ev := engine.Event{Type: engine.EventStateChanged, Src: src}
	switch {
	case st != nil && st.Item != nil && st.Item.URI == src:
		e.seen = true
		e.position = st.Progress()
		if d := st.Duration(); d > 0 {
			e.duration = d
		}
		e.paused = !st.IsPlaying
		ev.TrackID = st.Item.ID
	case e.seen:
		e.ended = true
		e.paused = true
		e.position = 0
	default:
		e.mu.Unlock()
		return
	}
	ev.Position = e.position
	ev.Duration = e.duration
	ev.Paused = e.paused
	e.mu.Unlock()

	e.hub.Publish(ev)
}
