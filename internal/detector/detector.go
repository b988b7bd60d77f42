// Package detector decides when a track has finished. Engines that report
// the end natively are forwarded; for polled engines the end is inferred
// from successive position samples.
package detector

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tessro/tandem/internal/clock"
)

// Config holds the inference thresholds.
type Config struct {
	// EndEpsilon is how close to the end a playing track must be before the
	// end timer is armed.
	EndEpsilon time.Duration
	// MinDuration skips the end timer for very short or unknown tracks.
	MinDuration time.Duration
	// ResetThreshold is the minimum position before a stop-and-rewind counts
	// as an end.
	ResetThreshold time.Duration
	// NearZero is the position a rewound track must fall to.
	NearZero time.Duration
	// StuckDelta is the largest movement that still counts as stuck.
	StuckDelta time.Duration
	// NearEnd is the window in which a stuck playhead counts as an end.
	NearEnd time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		EndEpsilon:     2 * time.Second,
		MinDuration:    30 * time.Second,
		ResetThreshold: 10 * time.Second,
		NearZero:       2 * time.Second,
		StuckDelta:     500 * time.Millisecond,
		NearEnd:        5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.EndEpsilon <= 0 {
		c.EndEpsilon = d.EndEpsilon
	}
	if c.MinDuration <= 0 {
		c.MinDuration = d.MinDuration
	}
	if c.ResetThreshold <= 0 {
		c.ResetThreshold = d.ResetThreshold
	}
	if c.NearZero <= 0 {
		c.NearZero = d.NearZero
	}
	if c.StuckDelta <= 0 {
		c.StuckDelta = d.StuckDelta
	}
	if c.NearEnd <= 0 {
		c.NearEnd = d.NearEnd
	}
}

// Tick is one observation of a polled engine.
type Tick struct {
	TrackID  string
	Playing  bool
	Position time.Duration
	Duration time.Duration
}

// Detector reports each track's end at most once.
type Detector struct {
	cfg    Config
	clock  clock.Clock
	onEnd  func(trackID string)
	logger *zap.Logger

	mu      sync.Mutex
	trackID string
	fired   bool
	timer   clock.Timer
	last    Tick
	hasLast bool
	stopped bool
}

// New creates a detector that calls onEnd when a track ends. onEnd is
// called without internal locks held, possibly from a timer goroutine.
func New(cfg Config, clk clock.Clock, onEnd func(trackID string), logger *zap.Logger) *Detector {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		cfg:    cfg,
		clock:  clock.OrReal(clk),
		onEnd:  onEnd,
		logger: logger.Named("detector"),
	}
}

// NotifyEnded forwards a native end-of-track event.
func (d *Detector) NotifyEnded(trackID string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if trackID != d.trackID {
		d.resetLocked(trackID)
	}
	ok := d.markFiredLocked()
	d.mu.Unlock()

	if ok {
		d.logger.Debug("native end", zap.String("track", trackID))
		d.onEnd(trackID)
	}
}

// Observe feeds one polled sample.
func (d *Detector) Observe(t Tick) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if t.TrackID != d.trackID {
		d.resetLocked(t.TrackID)
	}
	if d.fired {
		d.mu.Unlock()
		return
	}

	prev, hadPrev := d.last, d.hasLast
	d.last, d.hasLast = t, true
	remaining := t.Duration - t.Position

	reason := ""
	switch {
	case hadPrev && prev.Playing && !t.Playing &&
		prev.Position > d.cfg.ResetThreshold && t.Position <= d.cfg.NearZero:
		reason = "stopped and rewound"
	case hadPrev && prev.Playing && t.Playing && t.Duration > 0 &&
		remaining <= d.cfg.NearEnd && absDur(t.Position-prev.Position) <= d.cfg.StuckDelta:
		reason = "stuck near end"
	}

	if reason != "" {
		ok := d.markFiredLocked()
		d.mu.Unlock()
		if ok {
			d.logger.Debug("inferred end", zap.String("track", t.TrackID), zap.String("reason", reason))
			d.onEnd(t.TrackID)
		}
		return
	}

	switch {
	case t.Playing && t.Duration >= d.cfg.MinDuration && remaining <= d.cfg.EndEpsilon:
		if d.timer == nil {
			if remaining < 0 {
				remaining = 0
			}
			id := t.TrackID
			d.timer = d.clock.AfterFunc(remaining, func() { d.timerFired(id) })
		}
	case d.timer != nil:
		// Paused or sought away from the end.
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
}

func (d *Detector) timerFired(trackID string) {
	d.mu.Lock()
	if d.stopped || trackID != d.trackID {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	ok := d.markFiredLocked()
	d.mu.Unlock()

	if ok {
		d.logger.Debug("end timer fired", zap.String("track", trackID))
		d.onEnd(trackID)
	}
}

// Reset forgets the current track so the next one can fire.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked("")
}

// Stop cancels any pending timer. The detector ignores input afterwards.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked("")
	d.stopped = true
}

func (d *Detector) resetLocked(trackID string) {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.trackID = trackID
	d.fired = false
	d.hasLast = false
	d.last = Tick{}
}

func (d *Detector) markFiredLocked() bool {
	if d.fired {
		return false
	}
	d.fired = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	return true
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
