// Package enginetest provides a scriptable in-memory engine.
package enginetest

import (
	"context"
	"sync"
	"time"

	"github.com/tessro/tandem/internal/engine"
)

// Outcome is what the fake reports after a Load.
type Outcome int

const (
	// OutcomeCanPlay emits EventCanPlay immediately.
	OutcomeCanPlay Outcome = iota
	// OutcomeError emits EventError with the scripted error.
	OutcomeError
	// OutcomeStall emits EventStalled and nothing else.
	OutcomeStall
	// OutcomeStallThenCanPlay stalls and becomes playable after Reload.
	OutcomeStallThenCanPlay
	// OutcomeSilent emits nothing.
	OutcomeSilent
)

// Script describes the reaction to loading one source.
type Script struct {
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// Fake is an Engine whose behaviour is controlled by the test.
type Fake struct {
	hub  *engine.Hub
	caps engine.Capabilities

	mu       sync.Mutex
	opened   bool
	opens    int
	openErr  error
	src      string
	paused   bool
	ended    bool
	ready    engine.ReadyState
	position time.Duration
	duration time.Duration
	volume   int

	scripts map[string]Script
	loads   []string
	reloads int
	seeks   []time.Duration
	volumes []int

	playErr      error
	playHold     chan struct{}
	playStarted  chan struct{}
	playInFlight int
	maxPlay      int
	plays        int
	pauses       int
}

// New creates a paused fake engine.
func New(caps engine.Capabilities) *Fake {
	return &Fake{
		hub:     engine.NewHub(),
		caps:    caps,
		paused:  true,
		volume:  100,
		scripts: make(map[string]Script),
	}
}

// Script sets the reaction for src. Unscripted sources become playable.
func (f *Fake) Script(src string, s Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[src] = s
}

// FailOpen makes Open return err.
func (f *Fake) FailOpen(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

// FailPlay makes subsequent Play calls return err.
func (f *Fake) FailPlay(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playErr = err
}

// HoldPlay makes Play block until Release is called or the call's context is
// done. Started is signalled each time a held Play begins waiting.
func (f *Fake) HoldPlay() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playHold = make(chan struct{})
	f.playStarted = make(chan struct{}, 16)
}

// Started returns the channel signalled when a held Play begins waiting.
func (f *Fake) Started() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playStarted
}

// Release unblocks held Play calls and stops holding.
func (f *Fake) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playHold != nil {
		close(f.playHold)
		f.playHold = nil
	}
}

func (f *Fake) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opened {
		return nil
	}
	f.opens++
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = true
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.opened = false
	f.mu.Unlock()
	return nil
}

func (f *Fake) Capabilities() engine.Capabilities { return f.caps }

func (f *Fake) Load(ctx context.Context, src string) error {
	f.mu.Lock()
	f.src = src
	f.paused = true
	f.ended = false
	f.position = 0
	f.ready = engine.HaveNothing
	f.loads = append(f.loads, src)
	sc := f.scripts[src]
	f.mu.Unlock()

	f.react(src, sc)
	return nil
}

func (f *Fake) react(src string, sc Script) {
	switch sc.Outcome {
	case OutcomeCanPlay:
		f.makeReady(src, sc.Duration)
	case OutcomeError:
		f.hub.Publish(engine.Event{Type: engine.EventError, Src: src, Err: sc.Err})
	case OutcomeStall, OutcomeStallThenCanPlay:
		f.hub.Publish(engine.Event{Type: engine.EventStalled, Src: src})
	}
}

func (f *Fake) makeReady(src string, d time.Duration) {
	f.mu.Lock()
	f.ready = engine.HaveEnoughData
	if d > 0 {
		f.duration = d
	}
	dur := f.duration
	f.mu.Unlock()
	f.hub.Publish(engine.Event{Type: engine.EventDurationChange, Src: src, Duration: dur})
	f.hub.Publish(engine.Event{Type: engine.EventCanPlay, Src: src, Duration: dur})
}

func (f *Fake) Reload(ctx context.Context) error {
	f.mu.Lock()
	f.reloads++
	src := f.src
	sc := f.scripts[src]
	f.mu.Unlock()
	if sc.Outcome == OutcomeStallThenCanPlay {
		f.makeReady(src, sc.Duration)
	}
	return nil
}

func (f *Fake) Play(ctx context.Context) error {
	f.mu.Lock()
	f.plays++
	f.playInFlight++
	if f.playInFlight > f.maxPlay {
		f.maxPlay = f.playInFlight
	}
	hold, started, playErr := f.playHold, f.playStarted, f.playErr
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.playInFlight--
		f.mu.Unlock()
	}()

	if hold != nil {
		started <- struct{}{}
		select {
		case <-hold:
		case <-ctx.Done():
			return engine.ErrAborted
		}
	}
	if playErr != nil {
		return playErr
	}

	f.mu.Lock()
	f.paused = false
	src := f.src
	f.mu.Unlock()
	f.hub.Publish(engine.Event{Type: engine.EventPlaying, Src: src})
	return nil
}

func (f *Fake) Pause(ctx context.Context) error {
	f.mu.Lock()
	f.pauses++
	f.paused = true
	src := f.src
	f.mu.Unlock()
	f.hub.Publish(engine.Event{Type: engine.EventPaused, Src: src})
	return nil
}

func (f *Fake) Src() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.src
}

func (f *Fake) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *Fake) Ended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ended
}

func (f *Fake) ReadyState() engine.ReadyState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *Fake) Position() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

func (f *Fake) Duration() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration
}

func (f *Fake) Seek(ctx context.Context, pos time.Duration) error {
	f.mu.Lock()
	f.position = pos
	f.seeks = append(f.seeks, pos)
	src := f.src
	f.mu.Unlock()
	f.hub.Publish(engine.Event{Type: engine.EventTimeUpdate, Src: src, Position: pos})
	return nil
}

func (f *Fake) SetVolume(ctx context.Context, percent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = percent
	f.volumes = append(f.volumes, percent)
	return nil
}

func (f *Fake) Subscribe() *engine.Subscription { return f.hub.Subscribe() }

// Emit publishes an arbitrary event.
func (f *Fake) Emit(ev engine.Event) { f.hub.Publish(ev) }

// Progress moves the playhead and publishes a time update for the current
// source.
func (f *Fake) Progress(pos time.Duration) {
	f.mu.Lock()
	f.position = pos
	src := f.src
	f.mu.Unlock()
	f.hub.Publish(engine.Event{Type: engine.EventTimeUpdate, Src: src, Position: pos})
}

// Finish marks the current source ended and publishes EventEnded.
func (f *Fake) Finish() {
	f.mu.Lock()
	f.ended = true
	f.paused = true
	src := f.src
	f.mu.Unlock()
	f.hub.Publish(engine.Event{Type: engine.EventEnded, Src: src})
}

// Subscribers returns the number of live subscriptions.
func (f *Fake) Subscribers() int { return f.hub.Len() }

// Loads returns every source passed to Load, in order.
func (f *Fake) Loads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loads...)
}

// Reloads returns the number of Reload calls.
func (f *Fake) Reloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads
}

// Plays returns the number of Play calls.
func (f *Fake) Plays() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays
}

// Pauses returns the number of Pause calls.
func (f *Fake) Pauses() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pauses
}

// MaxConcurrentPlays returns the highest number of overlapping Play calls.
func (f *Fake) MaxConcurrentPlays() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxPlay
}

// Opens returns the number of Open calls that did real work.
func (f *Fake) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// Volumes returns every volume passed to SetVolume.
func (f *Fake) Volumes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.volumes...)
}

// Seeks returns every position passed to Seek.
func (f *Fake) Seeks() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.seeks...)
}

var _ engine.Engine = (*Fake)(nil)
