package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tessro/tandem/internal/engine"
	tandemerrors "github.com/tessro/tandem/internal/errors"
	"github.com/tessro/tandem/internal/resolver"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeMPV speaks enough of the IPC protocol to drive the engine. Sources
// named "bad" fail to load. Loading "late" first reports a failure of the
// previous entry, before the loadfile reply. Everything else loads with a
// 200s duration.
type fakeMPV struct {
	t      *testing.T
	socket string
	ln     net.Listener
	wg     sync.WaitGroup

	mu       sync.Mutex
	conns    []net.Conn
	commands [][]any
	entry    int64
	paused   bool
}

func newFakeMPV(t *testing.T) *fakeMPV {
	t.Helper()
	dir, err := os.MkdirTemp("", "mpv")
	require.NoError(t, err)
	socket := filepath.Join(dir, "s.sock")
	ln, err := net.Listen("unix", socket)
	require.NoError(t, err)

	f := &fakeMPV{t: t, socket: socket, ln: ln, paused: false}
	f.wg.Add(1)
	go f.accept()
	t.Cleanup(func() {
		_ = ln.Close()
		f.mu.Lock()
		for _, c := range f.conns {
			_ = c.Close()
		}
		f.mu.Unlock()
		f.wg.Wait()
		_ = os.RemoveAll(dir)
	})
	return f
}

func (f *fakeMPV) accept() {
	defer f.wg.Done()
	for {
		c, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, c)
		f.mu.Unlock()
		f.wg.Add(1)
		go f.serve(c)
	}
}

func (f *fakeMPV) send(v any) {
	b, _ := json.Marshal(v)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_, _ = c.Write(append(b, '\n'))
	}
}

func (f *fakeMPV) reply(id float64, data any, errText string) {
	f.send(map[string]any{"request_id": id, "error": errText, "data": data})
}

func (f *fakeMPV) serve(c net.Conn) {
	defer f.wg.Done()
	sc := bufio.NewScanner(c)
	for sc.Scan() {
		var req struct {
			Command   []any   `json:"command"`
			RequestID float64 `json:"request_id"`
		}
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			continue
		}
		f.mu.Lock()
		f.commands = append(f.commands, req.Command)
		f.mu.Unlock()

		switch req.Command[0] {
		case "loadfile":
			f.mu.Lock()
			f.entry++
			entry := f.entry
			f.mu.Unlock()
			if req.Command[1] == "late" && entry > 1 {
				f.send(map[string]any{"event": "end-file", "reason": "error",
					"file_error": "loading failed", "playlist_entry_id": entry - 1})
			}
			f.reply(req.RequestID, map[string]any{"playlist_entry_id": entry}, "success")
			f.send(map[string]any{"event": "start-file", "playlist_entry_id": entry})
			if req.Command[1] == "bad" {
				f.send(map[string]any{"event": "end-file", "reason": "error",
					"file_error": "unrecognized file format", "playlist_entry_id": entry})
				continue
			}
			f.send(map[string]any{"event": "property-change", "name": "duration", "data": 200.0})
			f.send(map[string]any{"event": "file-loaded"})
		case "set_property":
			f.reply(req.RequestID, nil, "success")
			if req.Command[1] == "pause" {
				f.mu.Lock()
				changed := f.paused != req.Command[2].(bool)
				f.paused = req.Command[2].(bool)
				f.mu.Unlock()
				if changed {
					f.send(map[string]any{"event": "property-change", "name": "pause", "data": req.Command[2]})
				}
			}
		case "get_property":
			f.reply(req.RequestID, nil, "property unavailable")
		default:
			f.reply(req.RequestID, nil, "success")
		}
	}
}

func (f *fakeMPV) Commands(name string) [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]any
	for _, c := range f.commands {
		if c[0] == name {
			out = append(out, c)
		}
	}
	return out
}

func openEngine(t *testing.T) (*Engine, *fakeMPV, *engine.Subscription) {
	t.Helper()
	f := newFakeMPV(t)
	e := New(Options{Socket: f.socket})
	require.NoError(t, e.Open(context.Background()))
	sub := e.Subscribe()
	t.Cleanup(func() {
		sub.Close()
		_ = e.Close()
	})
	return e, f, sub
}

func next(t *testing.T, sub *engine.Subscription, typ engine.EventType) engine.Event {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
			return engine.Event{}
		}
	}
}

func TestOpenObservesProperties(t *testing.T) {
	e, f, _ := openEngine(t)

	assert.Len(t, f.Commands("observe_property"), len(observed))
	require.NoError(t, e.Open(context.Background()))
	assert.Len(t, f.Commands("observe_property"), len(observed), "second Open is a no-op")
	assert.True(t, e.Capabilities().NativeEnd)
}

func TestOpenMissingBinary(t *testing.T) {
	e := New(Options{Binary: filepath.Join(t.TempDir(), "no-such-mpv")})
	err := e.Open(context.Background())
	assert.Equal(t, tandemerrors.KindNotConfigured, tandemerrors.KindOf(err))
}

func TestLoadReady(t *testing.T) {
	e, f, sub := openEngine(t)

	require.NoError(t, e.Load(context.Background(), "https://cdn/a.mp3"))
	ev := next(t, sub, engine.EventCanPlay)
	assert.Equal(t, "https://cdn/a.mp3", ev.Src)
	assert.Equal(t, 200*time.Second, ev.Duration)
	assert.Equal(t, engine.HaveEnoughData, e.ReadyState())
	assert.True(t, e.Paused())

	load := f.Commands("loadfile")
	require.Len(t, load, 1)
	assert.Equal(t, []any{"loadfile", "https://cdn/a.mp3", "replace"}, load[0])
}

func TestLoadUnsupported(t *testing.T) {
	e, _, sub := openEngine(t)

	require.NoError(t, e.Load(context.Background(), "bad"))
	ev := next(t, sub, engine.EventError)
	assert.Equal(t, "bad", ev.Src)
	assert.Equal(t, tandemerrors.KindUnsupported, tandemerrors.KindOf(ev.Err))
}

func TestTryLoadThroughResolver(t *testing.T) {
	e, _, _ := openEngine(t)
	r := resolver.New()

	require.NoError(t, r.TryLoad(context.Background(), e, "https://cdn/a.mp3", time.Second))
	err := r.TryLoad(context.Background(), e, "bad", time.Second)
	assert.Equal(t, tandemerrors.KindUnsupported, tandemerrors.KindOf(err))
}

func TestPlayPause(t *testing.T) {
	e, _, sub := openEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Load(ctx, "a"))

	require.NoError(t, e.Play(ctx))
	assert.Equal(t, "a", next(t, sub, engine.EventPlaying).Src)
	assert.False(t, e.Paused())

	require.NoError(t, e.Pause(ctx))
	next(t, sub, engine.EventPaused)
	assert.True(t, e.Paused())
}

func TestEndOfFile(t *testing.T) {
	e, f, sub := openEngine(t)
	require.NoError(t, e.Load(context.Background(), "a"))
	next(t, sub, engine.EventCanPlay)

	// A stale entry does not end the current file.
	f.send(map[string]any{"event": "end-file", "reason": "eof", "playlist_entry_id": 99})
	f.send(map[string]any{"event": "end-file", "reason": "stop", "playlist_entry_id": 1})
	f.send(map[string]any{"event": "end-file", "reason": "eof", "playlist_entry_id": 1})

	ev := next(t, sub, engine.EventEnded)
	assert.Equal(t, "a", ev.Src)
	assert.True(t, e.Ended())
	assert.Equal(t, 200*time.Second, e.Position())
}

func TestPreviousFileEndIgnoredDuringLoad(t *testing.T) {
	e, _, sub := openEngine(t)
	ctx := context.Background()
	require.NoError(t, e.Load(ctx, "a"))
	next(t, sub, engine.EventCanPlay)

	require.NoError(t, e.Load(ctx, "late"))
	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-sub.Events():
			require.NotEqual(t, engine.EventError, ev.Type, "old file's failure reported for %s", ev.Src)
			require.NotEqual(t, engine.EventEnded, ev.Type)
			if ev.Type == engine.EventCanPlay {
				assert.Equal(t, "late", ev.Src)
				assert.Equal(t, engine.HaveEnoughData, e.ReadyState())
				return
			}
		case <-timeout:
			t.Fatal("no canplay event")
		}
	}
}

func TestTimeUpdatesThrottled(t *testing.T) {
	e, f, sub := openEngine(t)
	require.NoError(t, e.Load(context.Background(), "a"))
	next(t, sub, engine.EventCanPlay)

	for _, s := range []float64{1.0, 1.1, 1.3} {
		f.send(map[string]any{"event": "property-change", "name": "time-pos", "data": s})
	}
	assert.Equal(t, time.Second, next(t, sub, engine.EventTimeUpdate).Position)
	assert.Equal(t, 1300*time.Millisecond, next(t, sub, engine.EventTimeUpdate).Position)
	assert.Equal(t, 1300*time.Millisecond, e.Position())
}

func TestStall(t *testing.T) {
	e, f, sub := openEngine(t)
	require.NoError(t, e.Load(context.Background(), "a"))
	next(t, sub, engine.EventCanPlay)

	f.send(map[string]any{"event": "property-change", "name": "paused-for-cache", "data": true})
	next(t, sub, engine.EventStalled)
	assert.Equal(t, engine.HaveCurrentData, e.ReadyState())
}

func TestSeekAndVolume(t *testing.T) {
	e, f, _ := openEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Seek(ctx, 90*time.Second))
	require.NoError(t, e.SetVolume(ctx, 40))

	assert.Equal(t, [][]any{{"seek", 90.0, "absolute"}}, f.Commands("seek"))
	assert.Contains(t, f.Commands("set_property"), []any{"set_property", "volume", 40.0})
}

func TestCommandError(t *testing.T) {
	e, _, _ := openEngine(t)
	c, err := e.client()
	require.NoError(t, err)

	_, err = c.command(context.Background(), "get_property", "time-pos")
	var cerr *CommandError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "property unavailable", cerr.Reason)
}

func TestClosedEngine(t *testing.T) {
	e, _, _ := openEngine(t)
	require.NoError(t, e.Close())

	assert.ErrorIs(t, e.Load(context.Background(), "a"), tandemerrors.ErrNotConnected)
	assert.ErrorIs(t, e.Play(context.Background()), tandemerrors.ErrNotConnected)
	require.NoError(t, e.Close())
}

func TestFileError(t *testing.T) {
	tests := []struct {
		reason string
		want   tandemerrors.Kind
	}{
		{"unrecognized file format", tandemerrors.KindUnsupported},
		{"no audio or video data played", tandemerrors.KindCorruptMedia},
		{"loading failed", tandemerrors.KindNetwork},
		{"", tandemerrors.KindNetwork},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tandemerrors.KindOf(fileError(tt.reason)), tt.reason)
	}
}
