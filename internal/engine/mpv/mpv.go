// Package mpv is a local playback engine driving mpv over its JSON IPC
// socket.
package mpv

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tessro/tandem/internal/engine"
	tandemerrors "github.com/tessro/tandem/internal/errors"
)

const (
	// DefaultBinary is looked up on PATH.
	DefaultBinary = "mpv"
	// timeUpdateStep throttles position events.
	timeUpdateStep = 250 * time.Millisecond
	quitGrace      = 3 * time.Second
	startTimeout   = 5 * time.Second
)

// Observed property ids.
const (
	propPause = iota + 1
	propTimePos
	propDuration
	propPausedForCache
)

var observed = map[int]string{
	propPause:          "pause",
	propTimePos:        "time-pos",
	propDuration:       "duration",
	propPausedForCache: "paused-for-cache",
}

// Options configures an Engine.
type Options struct {
	// Binary is the mpv executable.
	Binary string
	// SocketDir holds the IPC socket of a spawned mpv.
	SocketDir string
	// Socket attaches to an already running mpv instead of spawning one.
	Socket string
	// Args are extra command line arguments for a spawned mpv.
	Args   []string
	Logger *zap.Logger
}

// Engine implements engine.Engine on top of mpv.
type Engine struct {
	opts Options
	hub  *engine.Hub
	log  *zap.Logger

	// opMu serializes Open and Close.
	opMu sync.Mutex
	conn *conn
	proc *process

	mu        sync.Mutex
	src       string
	entry     int64
	paused    bool
	ended     bool
	ready     engine.ReadyState
	position  time.Duration
	published time.Duration
	duration  time.Duration

	// stale is the highest playlist entry id of a replaced file. mpv ids
	// only grow, so events at or below it belong to an older load.
	stale int64
}

// New creates a closed engine.
func New(opts Options) *Engine {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		opts:   opts,
		hub:    engine.NewHub(),
		log:    logger.Named("mpv"),
		paused: true,
	}
}

// Open spawns or attaches to mpv and subscribes to its properties.
func (e *Engine) Open(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if e.conn != nil {
		return nil
	}

	socket := e.opts.Socket
	var proc *process
	if socket == "" {
		socket = socketPath(e.opts.SocketDir)
		p, err := startProcess(e.opts.Binary, socket, e.opts.Args)
		if err != nil {
			return tandemerrors.New(tandemerrors.KindNotConfigured,
				fmt.Errorf("%w: %w", tandemerrors.ErrNotConfigured, err))
		}
		wctx, cancel := context.WithTimeout(ctx, startTimeout)
		err = p.waitForSocket(wctx)
		cancel()
		if err != nil {
			_ = killProcess(p.cmd)
			p.stop(0)
			return err
		}
		proc = p
	}

	c, err := dial(ctx, socket, e.handleEvent)
	if err != nil {
		if proc != nil {
			_ = killProcess(proc.cmd)
			proc.stop(0)
		}
		return err
	}
	for id, name := range observed {
		if _, err := c.command(ctx, "observe_property", id, name); err != nil {
			_ = c.close()
			if proc != nil {
				_ = killProcess(proc.cmd)
				proc.stop(0)
			}
			return fmt.Errorf("observe %s: %w", name, err)
		}
	}

	e.conn, e.proc = c, proc
	e.log.Info("mpv ready", zap.String("socket", socket), zap.Bool("spawned", proc != nil))
	return nil
}

// Close quits a spawned mpv and drops the connection.
func (e *Engine) Close() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if e.conn == nil {
		return nil
	}
	c, proc := e.conn, e.proc
	e.conn, e.proc = nil, nil

	if proc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, _ = c.command(ctx, "quit")
		cancel()
	}
	err := c.close()
	if proc != nil {
		proc.stop(quitGrace)
	}

	e.mu.Lock()
	e.paused = true
	e.ready = engine.HaveNothing
	e.mu.Unlock()
	return err
}

func (e *Engine) Capabilities() engine.Capabilities {
	return engine.Capabilities{NativeEnd: true}
}

func (e *Engine) client() (*conn, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if e.conn == nil {
		return nil, tandemerrors.ErrNotConnected
	}
	return e.conn, nil
}

// Load replaces the current file. mpv starts it paused; readiness arrives
// as file-loaded or end-file events.
func (e *Engine) Load(ctx context.Context, src string) error {
	c, err := e.client()
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.src = src
	e.stale = max(e.stale, e.entry)
	e.entry = 0
	e.paused = true
	e.ended = false
	e.ready = engine.HaveNothing
	e.position = 0
	e.published = 0
	e.duration = 0
	e.mu.Unlock()

	if _, err := c.command(ctx, "set_property", "pause", true); err != nil {
		return err
	}
	data, err := c.command(ctx, "loadfile", src, "replace")
	if err != nil {
		return err
	}

	var reply struct {
		PlaylistEntryID int64 `json:"playlist_entry_id"`
	}
	if len(data) > 0 && json.Unmarshal(data, &reply) == nil {
		e.mu.Lock()
		if e.src == src && e.entry == 0 {
			e.entry = reply.PlaylistEntryID
		}
		e.mu.Unlock()
	}
	return nil
}

func (e *Engine) Reload(ctx context.Context) error {
	src := e.Src()
	if src == "" {
		return nil
	}
	return e.Load(ctx, src)
}

func (e *Engine) Play(ctx context.Context) error {
	c, err := e.client()
	if err != nil {
		return err
	}
	if _, err := c.command(ctx, "set_property", "pause", false); err != nil {
		if ctx.Err() != nil {
			return engine.ErrAborted
		}
		return err
	}
	e.setPaused(false)
	return nil
}

func (e *Engine) Pause(ctx context.Context) error {
	c, err := e.client()
	if err != nil {
		return err
	}
	if _, err := c.command(ctx, "set_property", "pause", true); err != nil {
		return err
	}
	e.setPaused(true)
	return nil
}

// setPaused records a pause state and publishes it when it changed.
func (e *Engine) setPaused(paused bool) {
	e.mu.Lock()
	changed := e.paused != paused
	e.paused = paused
	src := e.src
	e.mu.Unlock()
	if !changed || src == "" {
		return
	}
	typ := engine.EventPlaying
	if paused {
		typ = engine.EventPaused
	}
	e.hub.Publish(engine.Event{Type: typ, Src: src, Paused: paused})
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
	return e.ready
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
	c, err := e.client()
	if err != nil {
		return err
	}
	_, err = c.command(ctx, "seek", pos.Seconds(), "absolute")
	return err
}

func (e *Engine) SetVolume(ctx context.Context, percent int) error {
	c, err := e.client()
	if err != nil {
		return err
	}
	_, err = c.command(ctx, "set_property", "volume", percent)
	return err
}

func (e *Engine) Subscribe() *engine.Subscription { return e.hub.Subscribe() }

// handleEvent runs on the IPC reader goroutine.
func (e *Engine) handleEvent(m message) {
	switch m.Event {
	case "property-change":
		e.handleProperty(m.Name, m.Data)
	case "file-loaded":
		e.mu.Lock()
		e.ready = engine.HaveEnoughData
		src, d := e.src, e.duration
		e.mu.Unlock()
		e.hub.Publish(engine.Event{Type: engine.EventCanPlay, Src: src, Duration: d})
	case "end-file":
		e.handleEndFile(m)
	}
}

func (e *Engine) handleEndFile(m message) {
	e.mu.Lock()
	if m.PlaylistEntryID != 0 && (m.PlaylistEntryID <= e.stale ||
		e.entry != 0 && m.PlaylistEntryID != e.entry) {
		e.mu.Unlock()
		return
	}
	src := e.src
	switch m.Reason {
	case "eof":
		e.ended = true
		e.paused = true
		if e.duration > 0 {
			e.position = e.duration
		}
		e.mu.Unlock()
		e.hub.Publish(engine.Event{Type: engine.EventEnded, Src: src})
	case "error":
		e.ready = engine.HaveNothing
		e.mu.Unlock()
		err := fileError(m.FileError)
		e.log.Debug("file failed", zap.String("src", src), zap.Error(err))
		e.hub.Publish(engine.Event{Type: engine.EventError, Src: src, Err: err})
	default:
		e.mu.Unlock()
	}
}

func (e *Engine) handleProperty(name string, data json.RawMessage) {
	switch name {
	case "pause":
		var paused bool
		if json.Unmarshal(data, &paused) == nil {
			e.setPaused(paused)
		}
	case "time-pos":
		var secs float64
		if json.Unmarshal(data, &secs) != nil {
			return
		}
		pos := seconds(secs)
		e.mu.Lock()
		e.position = pos
		delta := pos - e.published
		publish := delta >= timeUpdateStep || delta < 0
		if publish {
			e.published = pos
		}
		src := e.src
		e.mu.Unlock()
		if publish {
			e.hub.Publish(engine.Event{Type: engine.EventTimeUpdate, Src: src, Position: pos})
		}
	case "duration":
		var secs float64
		if json.Unmarshal(data, &secs) != nil || secs <= 0 {
			return
		}
		e.mu.Lock()
		e.duration = seconds(secs)
		src, d := e.src, e.duration
		e.mu.Unlock()
		e.hub.Publish(engine.Event{Type: engine.EventDurationChange, Src: src, Duration: d})
	case "paused-for-cache":
		var stalled bool
		if json.Unmarshal(data, &stalled) == nil && stalled {
			e.mu.Lock()
			e.ready = engine.HaveCurrentData
			src := e.src
			e.mu.Unlock()
			e.hub.Publish(engine.Event{Type: engine.EventStalled, Src: src})
		}
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// fileError maps mpv's end-file error text onto the error taxonomy.
func fileError(reason string) error {
	r := strings.ToLower(reason)
	switch {
	case strings.Contains(r, "unrecognized file format"), strings.Contains(r, "unsupported"):
		return fmt.Errorf("%w: %s", tandemerrors.ErrUnsupportedFormat, reason)
	case strings.Contains(r, "no audio or video data"), strings.Contains(r, "decod"):
		return fmt.Errorf("%w: %s", tandemerrors.ErrCorruptMedia, reason)
	case reason == "":
		return tandemerrors.ErrNetworkError
	default:
		return fmt.Errorf("%w: %s", tandemerrors.ErrNetworkError, reason)
	}
}

var _ engine.Engine = (*Engine)(nil)
