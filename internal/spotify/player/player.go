// Package player drives a Spotify Connect device as a playback engine.
// Control goes through the Web API; state comes from polling.
package player

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tessro/tandem/internal/clock"
	"github.com/tessro/tandem/internal/core"
	"github.com/tessro/tandem/internal/engine"
	tandemerrors "github.com/tessro/tandem/internal/errors"
	"github.com/tessro/tandem/internal/spotify/client"
)

const (
	// DefaultPollInterval is how often playback state is fetched.
	DefaultPollInterval = time.Second
	// DefaultOpenTimeout bounds Open.
	DefaultOpenTimeout = 10 * time.Second
)

// API is the subset of the Web API the engine uses.
type API interface {
	GetCurrentUser(ctx context.Context) (*client.User, error)
	GetDevices(ctx context.Context) ([]client.Device, error)
	GetPlaybackState(ctx context.Context) (*client.PlaybackState, error)
	Play(ctx context.Context, deviceID string, opts *client.PlayOptions) error
	Pause(ctx context.Context, deviceID string) error
	Seek(ctx context.Context, deviceID string, pos time.Duration) error
	SetVolume(ctx context.Context, deviceID string, percent int) error
	SetShuffle(ctx context.Context, deviceID string, on bool) error
	SetRepeat(ctx context.Context, deviceID string, mode core.RepeatMode) error
	TransferPlayback(ctx context.Context, deviceID string, play bool) error
}

// Options configures an Engine.
type Options struct {
	// Device is the preferred device name. Empty picks the active device.
	Device       string
	PollInterval time.Duration
	OpenTimeout  time.Duration
	// Configured reports whether credentials exist at all. Nil means yes.
	Configured func() bool
	Clock      clock.Clock
	Logger     *zap.Logger
}

// Engine implements engine.Engine and engine.ModeSetter for Spotify.
type Engine struct {
	api  API
	opts Options
	hub  *engine.Hub
	clk  clock.Clock
	log  *zap.Logger

	mu       sync.Mutex
	opened   bool
	deviceID string
	src      string
	started  bool
	seen     bool
	paused   bool
	ended    bool
	position time.Duration
	duration time.Duration
	poller   *poller

	// attempted is set while a play request may have reached the device
	// without a confirmed response.
	attempted bool
}

// New creates a closed engine.
func New(api API, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = DefaultOpenTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		api:    api,
		opts:   opts,
		hub:    engine.NewHub(),
		clk:    clock.OrReal(opts.Clock),
		log:    logger.Named("spotify"),
		paused: true,
	}
}

// Open validates the token, picks a device and starts polling.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	opened := e.opened
	e.mu.Unlock()
	if opened {
		return nil
	}
	if e.api == nil || (e.opts.Configured != nil && !e.opts.Configured()) {
		return tandemerrors.New(tandemerrors.KindNotConfigured,
			fmt.Errorf("spotify: %w", tandemerrors.ErrNotConfigured))
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.OpenTimeout)
	defer cancel()

	user, err := e.api.GetCurrentUser(ctx)
	if err != nil {
		e.publishAccountError(err)
		return err
	}
	if !user.Premium() {
		err := tandemerrors.New(tandemerrors.KindForbidden, tandemerrors.ErrPremiumRequired)
		e.hub.Publish(engine.Event{Type: engine.EventAccountError, Err: err})
		return err
	}

	devices, err := e.api.GetDevices(ctx)
	if err != nil {
		e.publishAccountError(err)
		return err
	}
	dev, ok := pickDevice(devices, e.opts.Device)
	if !ok {
		err := tandemerrors.New(tandemerrors.KindNotFound, tandemerrors.ErrNoActiveDevice)
		if e.opts.Device != "" {
			err = tandemerrors.New(tandemerrors.KindNotFound,
				fmt.Errorf("%w: %q", tandemerrors.ErrNoActiveDevice, e.opts.Device))
		}
		return err
	}
	if !dev.IsActive {
		if err := e.api.TransferPlayback(ctx, dev.ID, false); err != nil {
			return err
		}
	}

	e.mu.Lock()
	if e.opened {
		e.mu.Unlock()
		return nil
	}
	e.opened = true
	e.deviceID = dev.ID
	e.poller = newPoller(e, e.opts.PollInterval)
	p := e.poller
	e.mu.Unlock()

	p.start()
	e.log.Info("connected", zap.String("device", dev.Name), zap.String("user", user.ID))
	e.hub.Publish(engine.Event{Type: engine.EventReady})
	return nil
}

// publishAccountError reports auth and entitlement failures to subscribers.
func (e *Engine) publishAccountError(err error) {
	switch tandemerrors.KindOf(err) {
	case tandemerrors.KindUnauthorized:
		e.hub.Publish(engine.Event{Type: engine.EventAuthError, Err: err})
	case tandemerrors.KindForbidden:
		e.hub.Publish(engine.Event{Type: engine.EventAccountError, Err: err})
	}
}

// pickDevice prefers the named device, then the active one, then the first
// controllable one.
func pickDevice(devices []client.Device, name string) (client.Device, bool) {
	var usable []client.Device
	for _, d := range devices {
		if !d.IsRestricted {
			usable = append(usable, d)
		}
	}
	if name != "" {
		for _, d := range usable {
			if strings.EqualFold(d.Name, name) || d.ID == name {
				return d, true
			}
		}
		return client.Device{}, false
	}
	for _, d := range usable {
		if d.IsActive {
			return d, true
		}
	}
	if len(usable) > 0 {
		return usable[0], true
	}
	return client.Device{}, false
}

// Close stops polling. The engine can be opened again.
func (e *Engine) Close() error {
	e.mu.Lock()
	p := e.poller
	e.poller = nil
	wasOpen := e.opened
	e.opened = false
	e.paused = true
	e.mu.Unlock()

	if p != nil {
		p.stop()
	}
	if wasOpen {
		e.hub.Publish(engine.Event{Type: engine.EventNotReady})
	}
	return nil
}

func (e *Engine) Capabilities() engine.Capabilities {
	return engine.Capabilities{RemoteVolume: true, NativeURI: true}
}

// Load selects src. Nothing is sent to the device until Play, so the source
// is immediately playable.
func (e *Engine) Load(ctx context.Context, src string) error {
	e.mu.Lock()
	if !e.opened {
		e.mu.Unlock()
		return tandemerrors.ErrNotConnected
	}
	e.src = src
	e.started = false
	e.seen = false
	e.paused = true
	e.ended = false
	e.position = 0
	e.duration = 0
	e.mu.Unlock()

	e.hub.Publish(engine.Event{Type: engine.EventCanPlay, Src: src})
	return nil
}

func (e *Engine) Reload(ctx context.Context) error {
	src := e.Src()
	if src == "" {
		return nil
	}
	e.hub.Publish(engine.Event{Type: engine.EventCanPlay, Src: src})
	return nil
}

// Play starts src on the device, or resumes it when it already started.
func (e *Engine) Play(ctx context.Context) error {
	e.mu.Lock()
	src, dev, started, ended := e.src, e.deviceID, e.started, e.ended
	if src != "" {
		e.attempted = true
	}
	e.mu.Unlock()
	if src == "" {
		return tandemerrors.ErrNoCandidates
	}

	var opts *client.PlayOptions
	if !started || ended {
		opts = &client.PlayOptions{URIs: []string{src}}
	}
	if err := e.api.Play(ctx, dev, opts); err != nil {
		if ctx.Err() != nil {
			return engine.ErrAborted
		}
		e.mu.Lock()
		e.attempted = false
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	if e.src != src {
		e.mu.Unlock()
		return engine.ErrAborted
	}
	e.attempted = false
	e.started = true
	e.paused = false
	if ended {
		e.ended = false
		e.seen = false
		e.position = 0
	}
	e.mu.Unlock()
	e.hub.Publish(engine.Event{Type: engine.EventPlaying, Src: src})
	return nil
}

func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	src, dev := e.src, e.deviceID
	playing := (e.started && !e.paused) || e.attempted
	e.mu.Unlock()

	// An unstarted source with no play in flight has nothing playing on
	// the device.
	if playing {
		if err := e.api.Pause(ctx, dev); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.paused = true
	e.attempted = false
	e.mu.Unlock()
	e.hub.Publish(engine.Event{Type: engine.EventPaused, Src: src})
	return nil
}

func (e *Engine) Src() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src
}

func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Engine) Ended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ended
}

func (e *Engine) ReadyState() engine.ReadyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.src == "" {
		return engine.HaveNothing
	}
	return engine.HaveEnoughData
}

func (e *Engine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

func (e *Engine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *Engine) Seek(ctx context.Context, pos time.Duration) error {
	e.mu.Lock()
	dev, started := e.deviceID, e.started
	e.mu.Unlock()
	if !started {
		return nil
	}
	if err := e.api.Seek(ctx, dev, pos); err != nil {
		return err
	}
	e.mu.Lock()
	e.position = pos
	e.mu.Unlock()
	return nil
}

func (e *Engine) SetVolume(ctx context.Context, percent int) error {
	return e.api.SetVolume(ctx, e.device(), percent)
}

func (e *Engine) SetShuffle(ctx context.Context, on bool) error {
	return e.api.SetShuffle(ctx, e.device(), on)
}

func (e *Engine) SetRepeat(ctx context.Context, mode core.RepeatMode) error {
	return e.api.SetRepeat(ctx, e.device(), mode)
}

func (e *Engine) Subscribe() *engine.Subscription { return e.hub.Subscribe() }

func (e *Engine) device() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deviceID
}

var (
	_ engine.Engine     = (*Engine)(nil)
	_ engine.ModeSetter = (*Engine)(nil)
)
