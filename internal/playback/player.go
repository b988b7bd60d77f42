// Package playback wires a session, a playlist and an engine into the
// operation set exposed to user interfaces.
package playback

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tessro/tandem/internal/core"
	"github.com/tessro/tandem/internal/engine"
	tandemerrors "github.com/tessro/tandem/internal/errors"
	"github.com/tessro/tandem/internal/playlist"
	"github.com/tessro/tandem/internal/resolver"
	"github.com/tessro/tandem/internal/session"
)

// DefaultEngineReadyTimeout bounds Connect.
const DefaultEngineReadyTimeout = 10 * time.Second

// Config configures a Player.
type Config struct {
	Session            session.Config
	AutoAdvance        bool
	EngineReadyTimeout time.Duration
}

// Player implements core.Player over one engine. One Player owns one
// session and one playlist.
type Player struct {
	eng      engine.Engine
	session  *session.Session
	playlist *playlist.Controller
	cfg      Config
	logger   *zap.Logger

	mu        sync.Mutex
	connected bool
	running   bool
	closed    bool
	connErr   *tandemerrors.PlayerError

	changes chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Player.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	session  []session.Option
	playlist []playlist.Option
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSessionOptions passes options to the underlying session.
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *options) { o.session = append(o.session, opts...) }
}

// WithPlaylistOptions passes options to the underlying playlist.
func WithPlaylistOptions(opts ...playlist.Option) Option {
	return func(o *options) { o.playlist = append(o.playlist, opts...) }
}

// New creates a disconnected player.
func New(eng engine.Engine, res *resolver.Resolver, cfg Config, opts ...Option) *Player {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if cfg.EngineReadyTimeout <= 0 {
		cfg.EngineReadyTimeout = DefaultEngineReadyTimeout
	}

	p := &Player{
		eng:      eng,
		playlist: playlist.New(o.playlist...),
		cfg:      cfg,
		logger:   o.logger.Named("player"),
		changes:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	p.playlist.SetAutoAdvance(cfg.AutoAdvance)
	p.session = session.New(eng, res, cfg.Session,
		append([]session.Option{session.WithLogger(o.logger)}, o.session...)...)
	p.session.OnEnded(p.onEnded)
	p.session.OnFailed(p.onFailed)
	return p
}

// Connect opens the engine. It is idempotent.
func (p *Player) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return tandemerrors.ErrNotConnected
	}
	if p.connected {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	openCtx, cancel := context.WithTimeout(ctx, p.cfg.EngineReadyTimeout)
	defer cancel()

	if err := p.eng.Open(openCtx); err != nil {
		pe := tandemerrors.Classify(err)
		if pe.Kind == tandemerrors.KindInterrupted && ctx.Err() == nil {
			pe = tandemerrors.New(tandemerrors.KindLoadTimeout, err)
		}
		p.mu.Lock()
		p.connErr = pe
		p.mu.Unlock()
		p.notify()
		p.logger.Warn("engine open failed", zap.String("kind", pe.Kind.String()), zap.Error(err))
		return pe
	}

	p.mu.Lock()
	p.connected = true
	p.connErr = nil
	startLoops := !p.running
	p.running = true
	p.mu.Unlock()

	if startLoops {
		p.session.Start(context.Background())
		sub := p.eng.Subscribe()
		p.wg.Add(2)
		go p.forwardChanges()
		go p.watchConnection(sub)
	}

	p.session.SetVolume(ctx, p.session.Snapshot().Volume)
	p.logger.Info("engine connected")
	p.notify()
	return nil
}

// Disconnect pauses playback, clears the track and playlist and closes the
// engine.
func (p *Player) Disconnect() {
	p.mu.Lock()
	wasConnected := p.connected
	p.connected = false
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p.session.Reset(ctx)
	p.playlist.Clear()
	if wasConnected {
		if err := p.eng.Close(); err != nil {
			p.logger.Debug("engine close failed", zap.Error(err))
		}
	}
	p.notify()
}

// Close disconnects and releases all background work. The player cannot be
// reused.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.Disconnect()
	p.session.Stop()
	close(p.stop)
	p.wg.Wait()
}

// PlayTrack starts track, optionally replacing the playlist first. The
// engine is connected on demand.
func (p *Player) PlayTrack(ctx context.Context, track core.Track, opts ...core.PlayOption) error {
	var po core.PlayOptions
	for _, opt := range opts {
		opt(&po)
	}
	if po.Playlist != nil {
		p.playlist.Set(po.Playlist, po.Index)
	} else if i := p.playlist.IndexOf(track); i >= 0 {
		p.playlist.Select(i)
	}
	p.notify()

	if err := p.Connect(ctx); err != nil {
		return err
	}
	return p.session.PlayTrack(ctx, track)
}

// TogglePlay pauses or resumes. With nothing loaded it starts the current
// playlist entry.
func (p *Player) TogglePlay(ctx context.Context) error {
	if p.session.Snapshot().Track == nil {
		if t, ok := p.playlist.Snapshot().Current(); ok {
			return p.PlayTrack(ctx, t)
		}
		return nil
	}
	return p.session.TogglePlay(ctx)
}

// Next plays the following playlist entry. At the end of a non-repeating
// playlist it does nothing.
func (p *Player) Next(ctx context.Context) error {
	t, ok := p.playlist.Advance()
	if !ok {
		return nil
	}
	p.notify()
	return p.session.PlayTrack(ctx, t)
}

// Previous plays the preceding playlist entry.
func (p *Player) Previous(ctx context.Context) error {
	t, ok := p.playlist.Rewind()
	if !ok {
		return nil
	}
	p.notify()
	return p.session.PlayTrack(ctx, t)
}

// Seek moves to fraction of the current track.
func (p *Player) Seek(ctx context.Context, fraction float64) error {
	return p.session.Seek(ctx, fraction)
}

// SetVolume sets the volume, clamped to 0-100.
func (p *Player) SetVolume(ctx context.Context, percent int) {
	p.session.SetVolume(ctx, percent)
}

// ToggleShuffle flips shuffle and mirrors it to engines with their own
// shuffle state.
func (p *Player) ToggleShuffle(ctx context.Context) bool {
	on := p.playlist.ToggleShuffle()
	if ms, ok := p.eng.(engine.ModeSetter); ok && p.isConnected() {
		if err := ms.SetShuffle(ctx, on); err != nil {
			p.logger.Debug("engine shuffle failed", zap.Error(err))
		}
	}
	p.notify()
	return on
}

// ToggleRepeat cycles off, all, one and mirrors the mode to the engine.
func (p *Player) ToggleRepeat(ctx context.Context) core.RepeatMode {
	mode := p.playlist.CycleRepeat()
	if ms, ok := p.eng.(engine.ModeSetter); ok && p.isConnected() {
		if err := ms.SetRepeat(ctx, mode); err != nil {
			p.logger.Debug("engine repeat failed", zap.Error(err))
		}
	}
	p.notify()
	return mode
}

// SetPlaylist replaces the playlist without starting playback.
func (p *Player) SetPlaylist(tracks []core.Track, start int) {
	p.playlist.Set(tracks, start)
	p.notify()
}

// ClearPlaylist empties the playlist.
func (p *Player) ClearPlaylist() {
	p.playlist.Clear()
	p.notify()
}

// SetAutoAdvance controls whether a finished track starts the next one.
func (p *Player) SetAutoAdvance(on bool) {
	p.playlist.SetAutoAdvance(on)
	p.notify()
}

// State returns a copy of everything a UI renders.
func (p *Player) State() core.PlayerState {
	snap := p.session.Snapshot()
	pl := p.playlist.Snapshot()

	p.mu.Lock()
	connected, connErr := p.connected, p.connErr
	p.mu.Unlock()

	st := core.PlayerState{
		Connected:   connected,
		Phase:       snap.Phase,
		Track:       snap.Track,
		Position:    snap.Position,
		Duration:    snap.Duration,
		Volume:      snap.Volume,
		Shuffle:     pl.Shuffle,
		Repeat:      pl.Repeat,
		AutoAdvance: pl.AutoAdvance,
		Playlist:    pl.Tracks,
		Index:       pl.Index,
	}
	switch {
	case snap.LastError != nil:
		st.LastError = snap.LastError.Message()
	case connErr != nil:
		st.LastError = connErr.Message()
	}
	return st
}

// Changes delivers a coalesced notification after every state change.
func (p *Player) Changes() <-chan struct{} {
	return p.changes
}

func (p *Player) onEnded(ctx context.Context, t core.Track) {
	if !p.playlist.AutoAdvance() {
		return
	}
	if err := p.Next(ctx); err != nil {
		p.logger.Debug("auto-advance failed", zap.String("after", t.ID), zap.Error(err))
	}
}

func (p *Player) onFailed(ctx context.Context, t core.Track, perr *tandemerrors.PlayerError) {
	next, ok := p.playlist.Skip()
	if !ok {
		return
	}
	p.logger.Info("skipping failed track",
		zap.String("failed", t.ID),
		zap.String("kind", perr.Kind.String()),
		zap.String("next", next.ID))
	p.notify()
	if err := p.session.PlayTrack(ctx, next); err != nil {
		p.logger.Debug("skip failed", zap.String("track", next.ID), zap.Error(err))
	}
}

func (p *Player) forwardChanges() {
	defer p.wg.Done()
	for {
		select {
		case <-p.session.Changes():
			p.notify()
		case <-p.stop:
			return
		}
	}
}

// watchConnection tracks engine readiness and account events.
func (p *Player) watchConnection(sub *engine.Subscription) {
	defer p.wg.Done()
	defer sub.Close()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			p.handleConnectionEvent(ev)
		case <-p.stop:
			return
		}
	}
}

func (p *Player) handleConnectionEvent(ev engine.Event) {
	switch ev.Type {
	case engine.EventReady:
		p.mu.Lock()
		p.connected = true
		p.connErr = nil
		p.mu.Unlock()
	case engine.EventNotReady:
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
		p.logger.Warn("engine not ready")
	case engine.EventAuthError:
		p.logger.Warn("engine authentication failed, disconnecting", zap.Error(ev.Err))
		p.Disconnect()
		p.mu.Lock()
		p.connErr = tandemerrors.New(tandemerrors.KindUnauthorized, errOr(ev.Err, tandemerrors.ErrNotAuthenticated))
		p.mu.Unlock()
	case engine.EventAccountError:
		p.mu.Lock()
		p.connErr = tandemerrors.New(tandemerrors.KindForbidden, errOr(ev.Err, tandemerrors.ErrPremiumRequired))
		p.mu.Unlock()
		p.logger.Warn("account cannot play", zap.Error(ev.Err))
	default:
		return
	}
	p.notify()
}

func (p *Player) isConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Player) notify() {
	select {
	case p.changes <- struct{}{}:
	default:
	}
}

func errOr(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}

var _ core.Player = (*Player)(nil)
