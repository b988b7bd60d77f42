// Package session owns one engine and drives the playback phase machine:
// loading a track, gated play and pause, seeking, volume and end-of-track
// handling.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tessro/tandem/internal/clock"
	"github.com/tessro/tandem/internal/core"
	"github.com/tessro/tandem/internal/detector"
	"github.com/tessro/tandem/internal/engine"
	tandemerrors "github.com/tessro/tandem/internal/errors"
	"github.com/tessro/tandem/internal/gate"
	"github.com/tessro/tandem/internal/metrics"
	"github.com/tessro/tandem/internal/resolver"
)

const (
	DefaultFailureAdvanceDelay = time.Second
	DefaultVolumeDebounce      = 500 * time.Millisecond
	DefaultVolume              = 70
)

// Config tunes session timing.
type Config struct {
	Gate     gate.Config
	Detector detector.Config

	// FailureAdvanceDelay is the pause between a failed load and OnFailed.
	FailureAdvanceDelay time.Duration
	// VolumeDebounce coalesces volume changes for remote-volume engines.
	VolumeDebounce time.Duration
	// Volume is the initial volume, 0-100. Nil selects DefaultVolume; zero
	// starts muted.
	Volume *int
}

func (c *Config) applyDefaults() {
	if c.FailureAdvanceDelay <= 0 {
		c.FailureAdvanceDelay = DefaultFailureAdvanceDelay
	}
	if c.VolumeDebounce <= 0 {
		c.VolumeDebounce = DefaultVolumeDebounce
	}
}

func (c *Config) initialVolume() int {
	if c.Volume == nil {
		return DefaultVolume
	}
	return clampVolume(*c.Volume)
}

// Snapshot is a point-in-time copy of session state.
type Snapshot struct {
	Track     *core.Track
	Phase     core.Phase
	Position  time.Duration
	Duration  time.Duration
	Volume    int
	LastError *tandemerrors.PlayerError
	Src       string
}

// EndedFunc is called after the current track played to its end.
type EndedFunc func(ctx context.Context, t core.Track)

// FailedFunc is called, after the failure advance delay, when a track could
// not be started.
type FailedFunc func(ctx context.Context, t core.Track, err *tandemerrors.PlayerError)

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the clock used for timers.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = clock.OrReal(c) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// Session is safe for concurrent use. Its lock is never held across engine
// calls, network requests or waits.
type Session struct {
	eng      engine.Engine
	gate     *gate.Gate
	resolver *resolver.Resolver
	detector *detector.Detector
	clock    clock.Clock
	cfg      Config
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	track      *core.Track
	phase      core.Phase
	position   time.Duration
	duration   time.Duration
	volume     int
	lastErr    *tandemerrors.PlayerError
	src        string
	gen        uint64
	cancelLoad context.CancelFunc
	failTimer  clock.Timer
	volTimer   clock.Timer
	onEnded    EndedFunc
	onFailed   FailedFunc
	started    bool
	stopped    bool
	sub        *engine.Subscription

	changes chan struct{}
	wg      sync.WaitGroup
}

// New creates a session around eng. Call Start to begin consuming engine
// events.
func New(eng engine.Engine, res *resolver.Resolver, cfg Config, opts ...Option) *Session {
	cfg.applyDefaults()
	s := &Session{
		eng:      eng,
		resolver: res,
		clock:    clock.Real{},
		cfg:      cfg,
		logger:   zap.NewNop(),
		volume:   cfg.initialVolume(),
		changes:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("session")
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.gate = gate.New(eng, cfg.Gate, s.logger)
	s.detector = detector.New(cfg.Detector, s.clock, s.handleEnded, s.logger)
	return s
}

// OnEnded installs the end-of-track hook.
func (s *Session) OnEnded(fn EndedFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = fn
}

// OnFailed installs the load-failure hook.
func (s *Session) OnFailed(fn FailedFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailed = fn
}

// Changes delivers a coalesced notification after every state change.
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var t *core.Track
	if s.track != nil {
		cp := *s.track
		t = &cp
	}
	return Snapshot{
		Track:     t,
		Phase:     s.phase,
		Position:  s.position,
		Duration:  s.duration,
		Volume:    s.volume,
		LastError: s.lastErr,
		Src:       s.src,
	}
}

// Start begins consuming engine events. It is idempotent.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.sub = s.eng.Subscribe()
	sub := s.sub
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(ctx, sub)
}

// Stop cancels any in-flight load, releases the engine subscription and
// timers, and waits for background work to finish.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.cancelLoad != nil {
		s.cancelLoad()
	}
	stopTimer(&s.failTimer)
	stopTimer(&s.volTimer)
	sub := s.sub
	s.mu.Unlock()

	s.cancel()
	if sub != nil {
		sub.Close()
	}
	s.detector.Stop()
	s.wg.Wait()
}

// Reset abandons the current track and returns to Idle. Volume is kept.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	s.gen++
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
	stopTimer(&s.failTimer)
	s.track = nil
	s.src = ""
	s.position = 0
	s.duration = 0
	s.lastErr = nil
	s.setPhaseLocked(core.PhaseIdle)
	s.mu.Unlock()

	s.detector.Reset()
	s.gate.SafePause(ctx)
	s.notify()
}

// PlayTrack makes t the current track and starts it. Asking for the track
// that is already current resumes it instead of reloading. Failures are
// reported through the snapshot; the returned error is informational.
func (s *Session) PlayTrack(ctx context.Context, t core.Track) error {
	engEnded := s.eng.Ended()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return tandemerrors.ErrNotConnected
	}
	if s.track.Same(&t) && !engEnded && isActive(s.phase) {
		phase := s.phase
		s.mu.Unlock()
		if phase == core.PhasePaused {
			return s.resume(ctx)
		}
		return nil
	}

	s.gen++
	gen := s.gen
	if s.cancelLoad != nil {
		s.cancelLoad()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	s.cancelLoad = cancel
	stopTimer(&s.failTimer)
	cp := t
	s.track = &cp
	s.src = ""
	s.position = 0
	s.duration = t.Duration
	s.lastErr = nil
	s.setPhaseLocked(core.PhaseLoading)
	s.mu.Unlock()

	defer cancel()
	s.detector.Reset()
	s.notify()

	log := s.logger.With(
		zap.String("load_id", uuid.NewString()),
		zap.String("track", t.ID),
		zap.String("source", string(t.Source)))
	log.Debug("loading track", zap.String("name", t.DisplayName()))

	s.gate.SafePause(loadCtx)
	if s.stale(gen) {
		return nil
	}

	src, err := s.resolver.ResolveAndLoad(loadCtx, s.eng, t)
	if s.stale(gen) {
		log.Debug("load superseded")
		return nil
	}
	if err != nil {
		return s.fail(gen, t, err, log)
	}

	s.mu.Lock()
	s.src = src
	if d := s.eng.Duration(); d > 0 {
		s.duration = d
	}
	s.mu.Unlock()

	if err := s.gate.SafePlay(loadCtx); err != nil {
		if s.stale(gen) {
			return nil
		}
		return s.fail(gen, t, err, log)
	}

	paused := s.eng.Paused()
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	if paused {
		s.setPhaseLocked(core.PhasePaused)
	} else {
		s.setPhaseLocked(core.PhasePlaying)
	}
	s.cancelLoad = nil
	s.mu.Unlock()

	metrics.IncTrackStarted(string(t.Source))
	log.Info("track started", zap.String("src", src))
	s.notify()
	return nil
}

func (s *Session) fail(gen uint64, t core.Track, err error, log *zap.Logger) error {
	pe := tandemerrors.Classify(err)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	s.cancelLoad = nil
	if pe.Kind == tandemerrors.KindInterrupted {
		s.setPhaseLocked(core.PhaseIdle)
		s.mu.Unlock()
		s.notify()
		return nil
	}
	s.lastErr = pe
	s.setPhaseLocked(core.PhaseError)
	s.failTimer = s.clock.AfterFunc(s.cfg.FailureAdvanceDelay, func() {
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.failTimer = nil
		fn := s.onFailed
		s.mu.Unlock()
		if fn != nil {
			s.goHook(func(ctx context.Context) { fn(ctx, t, pe) })
		}
	})
	s.mu.Unlock()

	log.Warn("track failed", zap.String("kind", pe.Kind.String()), zap.Error(err))
	s.notify()
	return pe
}

// TogglePlay pauses a playing (or starting) track and resumes a paused one.
// It does nothing while a track is loading.
func (s *Session) TogglePlay(ctx context.Context) error {
	s.mu.Lock()
	track, phase, gen := s.track, s.phase, s.gen
	s.mu.Unlock()

	if track == nil || phase == core.PhaseLoading {
		return nil
	}

	if phase == core.PhasePlaying || s.gate.Pending() {
		s.gate.SafePause(ctx)
		s.mu.Lock()
		if gen == s.gen && s.phase != core.PhaseLoading {
			s.setPhaseLocked(core.PhasePaused)
		}
		s.mu.Unlock()
		s.notify()
		return nil
	}

	if phase == core.PhaseError || (phase == core.PhaseIdle && s.eng.Ended()) {
		return s.PlayTrack(ctx, *track)
	}
	return s.resume(ctx)
}

// resume plays the already-loaded source.
func (s *Session) resume(ctx context.Context) error {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	err := s.gate.SafePlay(ctx)
	paused := s.eng.Paused()

	s.mu.Lock()
	if gen != s.gen || s.phase == core.PhaseLoading {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		pe := tandemerrors.Classify(err)
		s.lastErr = pe
		s.setPhaseLocked(core.PhaseError)
		s.mu.Unlock()
		s.notify()
		return pe
	}
	if paused {
		s.setPhaseLocked(core.PhasePaused)
	} else {
		s.lastErr = nil
		s.setPhaseLocked(core.PhasePlaying)
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// Seek moves the playhead to fraction (clamped to [0,1]) of the duration.
func (s *Session) Seek(ctx context.Context, fraction float64) error {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	s.mu.Lock()
	if s.track == nil || s.duration <= 0 {
		s.mu.Unlock()
		return nil
	}
	pos := time.Duration(float64(s.duration) * fraction)
	s.position = pos
	s.mu.Unlock()
	s.notify()

	if err := s.eng.Seek(ctx, pos); err != nil {
		s.logger.Warn("seek failed", zap.Duration("position", pos), zap.Error(err))
		return err
	}
	return nil
}

// SetVolume clamps percent to [0,100] and applies it. Remote-volume engines
// receive the last value after the debounce delay.
func (s *Session) SetVolume(ctx context.Context, percent int) {
	percent = clampVolume(percent)
	remote := s.eng.Capabilities().RemoteVolume

	s.mu.Lock()
	s.volume = percent
	if remote {
		stopTimer(&s.volTimer)
		if !s.stopped {
			s.volTimer = s.clock.AfterFunc(s.cfg.VolumeDebounce, func() {
				s.mu.Lock()
				s.volTimer = nil
				s.mu.Unlock()
				if err := s.eng.SetVolume(s.ctx, percent); err != nil {
					s.logger.Warn("set volume failed", zap.Int("volume", percent), zap.Error(err))
				}
			})
		}
		s.mu.Unlock()
		s.notify()
		return
	}
	s.mu.Unlock()
	s.notify()

	if err := s.eng.SetVolume(ctx, percent); err != nil {
		s.logger.Warn("set volume failed", zap.Int("volume", percent), zap.Error(err))
	}
}

func (s *Session) loop(ctx context.Context, sub *engine.Subscription) {
	defer s.wg.Done()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			s.handleEvent(ev)
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) handleEvent(ev engine.Event) {
	nativeEnd := s.eng.Capabilities().NativeEnd
	engPaused := s.eng.Paused()

	s.mu.Lock()
	if s.track == nil || ev.Src == "" || ev.Src != s.src {
		s.mu.Unlock()
		return
	}
	trackID := s.track.ID
	changed := false
	var tick *detector.Tick
	var ended bool
	var failed *tandemerrors.PlayerError

	switch ev.Type {
	case engine.EventTimeUpdate:
		s.position = ev.Position
		changed = true
		if !nativeEnd {
			tick = &detector.Tick{TrackID: trackID, Playing: s.phase == core.PhasePlaying,
				Position: s.position, Duration: s.duration}
		}
	case engine.EventDurationChange:
		if ev.Duration > 0 {
			s.duration = ev.Duration
			changed = true
		}
	case engine.EventPlaying:
		// Late events are checked against the engine's current state.
		if s.phase == core.PhasePaused && !engPaused && !s.gate.Pending() {
			s.setPhaseLocked(core.PhasePlaying)
			changed = true
		}
	case engine.EventPaused:
		if s.phase == core.PhasePlaying && engPaused && !s.gate.Pending() {
			s.setPhaseLocked(core.PhasePaused)
			changed = true
		}
	case engine.EventEnded:
		ended = nativeEnd
	case engine.EventError:
		if s.phase == core.PhasePlaying || s.phase == core.PhasePaused {
			failed = tandemerrors.Classify(ev.Err)
			if ev.Err == nil {
				failed = tandemerrors.New(tandemerrors.KindNetwork, tandemerrors.ErrNetworkError)
			}
		}
	case engine.EventStateChanged:
		s.position = ev.Position
		if ev.Duration > 0 {
			s.duration = ev.Duration
		}
		if !s.gate.Pending() {
			switch {
			case s.phase == core.PhasePlaying && ev.Paused:
				s.setPhaseLocked(core.PhasePaused)
			case s.phase == core.PhasePaused && !ev.Paused:
				s.setPhaseLocked(core.PhasePlaying)
			}
		}
		changed = true
		if !nativeEnd {
			tick = &detector.Tick{TrackID: trackID, Playing: !ev.Paused,
				Position: s.position, Duration: s.duration}
		}
	}
	gen := s.gen
	track := *s.track
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	if tick != nil {
		s.detector.Observe(*tick)
	}
	if ended {
		s.detector.NotifyEnded(trackID)
	}
	if failed != nil {
		_ = s.fail(gen, track, failed, s.logger.With(zap.String("track", trackID)))
	}
}

// handleEnded is the detector callback.
func (s *Session) handleEnded(trackID string) {
	s.mu.Lock()
	if s.track == nil || s.track.ID != trackID {
		s.mu.Unlock()
		return
	}
	if s.phase != core.PhasePlaying && s.phase != core.PhasePaused {
		s.mu.Unlock()
		return
	}
	track := *s.track
	if s.duration > 0 {
		s.position = s.duration
	}
	s.setPhaseLocked(core.PhaseIdle)
	fn := s.onEnded
	s.mu.Unlock()

	metrics.IncTrackEnded(string(track.Source))
	s.logger.Debug("track ended", zap.String("track", trackID))
	s.notify()
	if fn != nil {
		s.goHook(func(ctx context.Context) { fn(ctx, track) })
	}
}

// goHook runs fn on a tracked goroutine unless the session is stopped.
func (s *Session) goHook(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func (s *Session) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen != s.gen
}

func (s *Session) setPhaseLocked(p core.Phase) {
	s.phase = p
	metrics.SetPhase(p.String())
}

func (s *Session) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// isActive reports whether p has a loaded or loading track.
func isActive(p core.Phase) bool {
	return p == core.PhaseLoading || p == core.PhasePlaying || p == core.PhasePaused
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
