// Package playlist holds the ordered track list and decides which track
// plays next under the shuffle and repeat modes.
package playlist

import (
	"math/rand/v2"
	"sync"

	"github.com/tessro/tandem/internal/core"
)

// Snapshot is a copy of the controller state.
type Snapshot struct {
	Tracks      []core.Track
	Index       int
	Shuffle     bool
	Repeat      core.RepeatMode
	AutoAdvance bool
}

// Current returns the track at Index, if any.
func (s Snapshot) Current() (core.Track, bool) {
	if s.Index < 0 || s.Index >= len(s.Tracks) {
		return core.Track{}, false
	}
	return s.Tracks[s.Index], true
}

// Controller is safe for concurrent use.
type Controller struct {
	mu          sync.Mutex
	tracks      []core.Track
	index       int
	shuffle     bool
	repeat      core.RepeatMode
	autoAdvance bool
	intn        func(n int) int
}

// Option configures a Controller.
type Option func(*Controller)

// WithRandom replaces the random index source used by shuffle.
func WithRandom(intn func(n int) int) Option {
	return func(c *Controller) { c.intn = intn }
}

// New creates an empty controller with auto-advance on and repeat off.
func New(opts ...Option) *Controller {
	c := &Controller{
		repeat:      core.RepeatOff,
		autoAdvance: true,
		intn:        rand.IntN,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set replaces the playlist. start is clamped into range.
func (c *Controller) Set(tracks []core.Track, start int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append([]core.Track(nil), tracks...)
	c.index = clamp(start, len(c.tracks))
}

// Clear empties the playlist. Modes are kept.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = nil
	c.index = 0
}

// Len returns the number of tracks.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracks)
}

// Advance moves to the next track. It returns false, leaving the index
// unchanged, when the end is reached with repeat off or the list is empty.
func (c *Controller) Advance() (core.Track, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.tracks)
	if n == 0 {
		return core.Track{}, false
	}

	switch {
	case c.repeat == core.RepeatOne:
	case c.shuffle:
		c.index = c.intn(n)
	case c.index+1 < n:
		c.index++
	case c.repeat == core.RepeatAll:
		c.index = 0
	default:
		return core.Track{}, false
	}
	return c.tracks[c.index], true
}

// Skip moves past the current track after a failure. Unlike Advance it
// never stays on the same index: repeat one behaves like repeat all.
func (c *Controller) Skip() (core.Track, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.tracks)
	if n < 2 {
		return core.Track{}, false
	}

	switch {
	case c.shuffle:
		next := c.intn(n - 1)
		if next >= c.index {
			next++
		}
		c.index = next
	case c.index+1 < n:
		c.index++
	case c.repeat != core.RepeatOff:
		c.index = 0
	default:
		return core.Track{}, false
	}
	return c.tracks[c.index], true
}

// Rewind moves to the previous track, wrapping under repeat all and
// clamping at the first track otherwise.
func (c *Controller) Rewind() (core.Track, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.tracks)
	if n == 0 {
		return core.Track{}, false
	}

	c.index--
	if c.index < 0 {
		if c.repeat == core.RepeatAll {
			c.index = n - 1
		} else {
			c.index = 0
		}
	}
	return c.tracks[c.index], true
}

// Select makes index current.
func (c *Controller) Select(index int) (core.Track, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.tracks) {
		return core.Track{}, false
	}
	c.index = index
	return c.tracks[index], true
}

// IndexOf returns the position of t in the playlist, or -1.
func (c *Controller) IndexOf(t core.Track) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.tracks {
		if c.tracks[i].Same(&t) {
			return i
		}
	}
	return -1
}

// ToggleShuffle flips shuffle and returns the new value.
func (c *Controller) ToggleShuffle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuffle = !c.shuffle
	return c.shuffle
}

// SetShuffle sets shuffle.
func (c *Controller) SetShuffle(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuffle = on
}

// CycleRepeat advances Off -> All -> One -> Off and returns the new mode.
func (c *Controller) CycleRepeat() core.RepeatMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repeat = c.repeat.Next()
	return c.repeat
}

// SetRepeat sets the repeat mode.
func (c *Controller) SetRepeat(m core.RepeatMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repeat = m
}

// SetAutoAdvance controls whether the end of a track starts the next one.
func (c *Controller) SetAutoAdvance(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoAdvance = on
}

// AutoAdvance reports whether auto-advance is on.
func (c *Controller) AutoAdvance() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoAdvance
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Tracks:      append([]core.Track(nil), c.tracks...),
		Index:       c.index,
		Shuffle:     c.shuffle,
		Repeat:      c.repeat,
		AutoAdvance: c.autoAdvance,
	}
}

func clamp(i, n int) int {
	if n == 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
