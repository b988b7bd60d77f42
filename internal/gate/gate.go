// Package gate serializes play and pause requests against an engine so at
// most one play request is ever outstanding.
package gate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tessro/tandem/internal/engine"
	tandemerrors "github.com/tessro/tandem/internal/errors"
	"github.com/tessro/tandem/internal/metrics"
)

const (
	DefaultSettleDelay  = 50 * time.Millisecond
	DefaultReadyTimeout = 5 * time.Second
)

// Config tunes the gate's waits.
type Config struct {
	SettleDelay  time.Duration
	ReadyTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
}

// intent is an outstanding play request.
type intent struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Gate is the only caller of Engine.Play and Engine.Pause for playback
// control.
type Gate struct {
	eng    engine.Engine
	cfg    Config
	logger *zap.Logger

	// sem serializes native play/pause calls in issuance order.
	sem chan struct{}

	mu     sync.Mutex
	intent *intent
}

// New creates a gate for eng.
func New(eng engine.Engine, cfg Config, logger *zap.Logger) *Gate {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		eng:    eng,
		cfg:    cfg,
		logger: logger.Named("gate"),
		sem:    make(chan struct{}, 1),
	}
	return g
}

// Pending reports whether a play request is outstanding.
func (g *Gate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.intent != nil
}

// SafePlay starts playback of the loaded source. Interruptions by a later
// pause or play return nil; other failures return a *errors.PlayerError.
func (g *Gate) SafePlay(ctx context.Context) error {
	aborted := g.settle()

	if aborted || !g.eng.Paused() {
		if err := g.call(ctx, g.eng.Pause); err != nil {
			g.logger.Debug("pause before play failed", zap.Error(err))
		}
		if err := g.sleep(ctx, g.cfg.SettleDelay); err != nil {
			return nil
		}
	}

	if g.eng.ReadyState() < engine.HaveEnoughData {
		if err := g.waitReady(ctx); err != nil {
			if tandemerrors.IsInterruption(err) {
				return nil
			}
			pe := tandemerrors.Classify(err)
			metrics.IncPlayFailure(pe.Kind.String())
			return pe
		}
	}

	it := g.begin(ctx)
	err := g.call(it.ctx, g.eng.Play)
	g.finish(it, err)

	if err == nil {
		return nil
	}
	if tandemerrors.IsInterruption(err) {
		g.logger.Debug("play interrupted", zap.Error(err))
		metrics.IncPlayInterrupted()
		return nil
	}
	pe := tandemerrors.Classify(err)
	metrics.IncPlayFailure(pe.Kind.String())
	g.logger.Warn("play failed", zap.String("kind", pe.Kind.String()), zap.Error(err))
	return pe
}

// SafePause settles any outstanding play request and pauses. It never
// fails; engine errors are logged.
func (g *Gate) SafePause(ctx context.Context) {
	aborted := g.settle()
	if !aborted && g.eng.Paused() {
		return
	}
	if err := g.call(ctx, g.eng.Pause); err != nil {
		g.logger.Debug("pause failed", zap.Error(err))
		return
	}
	_ = g.sleep(ctx, g.cfg.SettleDelay)
}

// settle cancels the outstanding intent, if any, and waits for it to finish.
// It reports whether the intent ended without a confirmed result. The engine
// may have received that play, so its Paused flag cannot be trusted and the
// caller must pause regardless.
func (g *Gate) settle() bool {
	g.mu.Lock()
	it := g.intent
	g.mu.Unlock()
	if it == nil {
		return false
	}
	it.cancel()
	<-it.done
	return it.err != nil && tandemerrors.IsInterruption(it.err)
}

func (g *Gate) begin(parent context.Context) *intent {
	ctx, cancel := context.WithCancel(parent)
	it := &intent{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	g.mu.Lock()
	prev := g.intent
	g.intent = it
	g.mu.Unlock()
	if prev != nil {
		prev.cancel()
	}
	return it
}

func (g *Gate) finish(it *intent, err error) {
	g.mu.Lock()
	if g.intent == it {
		g.intent = nil
	}
	g.mu.Unlock()
	it.err = err
	it.cancel()
	close(it.done)
}

// call runs fn while holding the engine semaphore.
func (g *Gate) call(ctx context.Context, fn func(context.Context) error) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return engine.ErrAborted
	}
	defer func() { <-g.sem }()
	if ctx.Err() != nil {
		return engine.ErrAborted
	}
	return fn(ctx)
}

func (g *Gate) waitReady(ctx context.Context) error {
	sub := g.eng.Subscribe()
	defer sub.Close()

	if g.eng.ReadyState() >= engine.HaveEnoughData {
		return nil
	}
	src := g.eng.Src()

	timer := time.NewTimer(g.cfg.ReadyTimeout)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if ev.Src != src {
				continue
			}
			switch ev.Type {
			case engine.EventCanPlay:
				return nil
			case engine.EventError:
				if ev.Err == nil {
					return tandemerrors.ErrCorruptMedia
				}
				return ev.Err
			}
		case <-timer.C:
			g.logger.Debug("ready wait timed out, playing anyway", zap.Duration("timeout", g.cfg.ReadyTimeout))
			return nil
		case <-ctx.Done():
			return engine.ErrAborted
		}
	}
}

func (g *Gate) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
