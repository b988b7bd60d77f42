package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tessro/tandem/internal/clock"
	"github.com/tessro/tandem/internal/core"
	"github.com/tessro/tandem/internal/engine"
	tandemerrors "github.com/tessro/tandem/internal/errors"
	"github.com/tessro/tandem/internal/gate"
	"github.com/tessro/tandem/internal/spotify/client"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type call struct {
	name   string
	device string
	uris   []string
	arg    any
}

type fakeAPI struct {
	mu        sync.Mutex
	user      *client.User
	userErr   error
	devices   []client.Device
	state     *client.PlaybackState
	stateErr  error
	calls     []call
	userCalls int

	// playSent, when set, receives each play request, which then blocks
	// until its context is done.
	playSent chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		user:    &client.User{ID: "u", Product: "premium"},
		devices: []client.Device{{ID: "d1", Name: "Desk", IsActive: true}},
	}
}

func (f *fakeAPI) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeAPI) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeAPI) SetState(st *client.PlaybackState, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state, f.stateErr = st, err
}

func (f *fakeAPI) GetCurrentUser(ctx context.Context) (*client.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	return f.user, f.userErr
}

func (f *fakeAPI) GetDevices(ctx context.Context) ([]client.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices, nil
}

func (f *fakeAPI) GetPlaybackState(ctx context.Context) (*client.PlaybackState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.stateErr
}

func (f *fakeAPI) Play(ctx context.Context, deviceID string, opts *client.PlayOptions) error {
	c := call{name: "play", device: deviceID}
	if opts != nil {
		c.uris = opts.URIs
	}
	f.record(c)

	f.mu.Lock()
	sent := f.playSent
	f.mu.Unlock()
	if sent != nil {
		sent <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeAPI) Pause(ctx context.Context, deviceID string) error {
	f.record(call{name: "pause", device: deviceID})
	return nil
}

func (f *fakeAPI) Seek(ctx context.Context, deviceID string, pos time.Duration) error {
	f.record(call{name: "seek", device: deviceID, arg: pos})
	return nil
}

func (f *fakeAPI) SetVolume(ctx context.Context, deviceID string, percent int) error {
	f.record(call{name: "volume", device: deviceID, arg: percent})
	return nil
}

func (f *fakeAPI) SetShuffle(ctx context.Context, deviceID string, on bool) error {
	f.record(call{name: "shuffle", device: deviceID, arg: on})
	return nil
}

func (f *fakeAPI) SetRepeat(ctx context.Context, deviceID string, mode core.RepeatMode) error {
	f.record(call{name: "repeat", device: deviceID, arg: mode})
	return nil
}

func (f *fakeAPI) TransferPlayback(ctx context.Context, deviceID string, play bool) error {
	f.record(call{name: "transfer", device: deviceID, arg: play})
	return nil
}

const interval = time.Second

func newEngine(t *testing.T, api *fakeAPI, opts Options) (*Engine, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock(time.Unix(0, 0))
	opts.Clock = clk
	opts.PollInterval = interval
	e := New(api, opts)
	t.Cleanup(func() { _ = e.Close() })
	return e, clk
}

func openEngine(t *testing.T, api *fakeAPI) (*Engine, *clock.Mock) {
	t.Helper()
	e, clk := newEngine(t, api, Options{})
	require.NoError(t, e.Open(context.Background()))
	return e, clk
}

// tick waits for the poller to arm its timer and fires it.
func tick(t *testing.T, clk *clock.Mock) {
	t.Helper()
	require.Eventually(t, func() bool { return clk.Pending() > 0 }, time.Second, time.Millisecond)
	clk.Advance(interval)
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

func TestOpenNotConfigured(t *testing.T) {
	api := newFakeAPI()
	e, _ := newEngine(t, api, Options{Configured: func() bool { return false }})

	err := e.Open(context.Background())
	assert.Equal(t, tandemerrors.KindNotConfigured, tandemerrors.KindOf(err))
	assert.Zero(t, api.userCalls)
}

func TestOpenRequiresPremium(t *testing.T) {
	api := newFakeAPI()
	api.user.Product = "free"
	e, _ := newEngine(t, api, Options{})
	sub := e.Subscribe()
	defer sub.Close()

	err := e.Open(context.Background())
	assert.Equal(t, tandemerrors.KindForbidden, tandemerrors.KindOf(err))
	assert.ErrorIs(t, err, tandemerrors.ErrPremiumRequired)
	next(t, sub, engine.EventAccountError)
}

func TestOpenUnauthorized(t *testing.T) {
	api := newFakeAPI()
	api.userErr = tandemerrors.New(tandemerrors.KindUnauthorized, tandemerrors.ErrNotAuthenticated)
	e, _ := newEngine(t, api, Options{})
	sub := e.Subscribe()
	defer sub.Close()

	err := e.Open(context.Background())
	assert.Equal(t, tandemerrors.KindUnauthorized, tandemerrors.KindOf(err))
	next(t, sub, engine.EventAuthError)
}

func TestOpenIdempotent(t *testing.T) {
	api := newFakeAPI()
	e, _ := openEngine(t, api)

	require.NoError(t, e.Open(context.Background()))
	assert.Equal(t, 1, api.userCalls)
}

func TestOpenTransfersToNamedDevice(t *testing.T) {
	api := newFakeAPI()
	api.devices = append(api.devices, client.Device{ID: "d2", Name: "Kitchen"})
	e, _ := newEngine(t, api, Options{Device: "kitchen"})

	require.NoError(t, e.Open(context.Background()))
	assert.Equal(t, []call{{name: "transfer", device: "d2", arg: false}}, api.Calls())
	assert.Equal(t, "d2", e.device())
}

func TestOpenNoDevice(t *testing.T) {
	api := newFakeAPI()
	api.devices = nil
	e, _ := newEngine(t, api, Options{})

	err := e.Open(context.Background())
	assert.Equal(t, tandemerrors.KindNotFound, tandemerrors.KindOf(err))
}

func TestPickDevice(t *testing.T) {
	devices := []client.Device{
		{ID: "r", Name: "Car", IsRestricted: true, IsActive: true},
		{ID: "a", Name: "Desk"},
		{ID: "b", Name: "Kitchen", IsActive: true},
	}
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"", "b", true},
		{"KITCHEN", "b", true},
		{"a", "a", true},
		{"Car", "", false},
		{"Garage", "", false},
	}
	for _, tt := range tests {
		got, ok := pickDevice(devices, tt.name)
		assert.Equal(t, tt.wantOK, ok, tt.name)
		assert.Equal(t, tt.want, got.ID, tt.name)
	}

	got, ok := pickDevice(devices[:2], "")
	assert.True(t, ok)
	assert.Equal(t, "a", got.ID, "falls back to the first usable device")
}

func TestLoadBeforeOpen(t *testing.T) {
	e, _ := newEngine(t, newFakeAPI(), Options{})
	assert.ErrorIs(t, e.Load(context.Background(), "spotify:track:1"), tandemerrors.ErrNotConnected)
}

func TestLoadPlayPauseResume(t *testing.T) {
	api := newFakeAPI()
	e, _ := openEngine(t, api)
	sub := e.Subscribe()
	defer sub.Close()
	ctx := context.Background()
	const src = "spotify:track:1"

	require.NoError(t, e.Load(ctx, src))
	ev := next(t, sub, engine.EventCanPlay)
	assert.Equal(t, src, ev.Src)
	assert.Equal(t, engine.HaveEnoughData, e.ReadyState())
	assert.True(t, e.Paused())

	// Nothing is playing yet, so pausing does not reach the device.
	require.NoError(t, e.Pause(ctx))
	require.NoError(t, e.Play(ctx))
	next(t, sub, engine.EventPlaying)
	assert.False(t, e.Paused())
	require.NoError(t, e.Pause(ctx))
	require.NoError(t, e.Play(ctx))

	assert.Equal(t, []call{
		{name: "play", device: "d1", uris: []string{src}},
		{name: "pause", device: "d1"},
		{name: "play", device: "d1"},
	}, api.Calls())
}

func TestPauseAfterUnconfirmedPlay(t *testing.T) {
	api := newFakeAPI()
	api.playSent = make(chan struct{}, 1)
	e, _ := openEngine(t, api)
	ctx := context.Background()
	const src = "spotify:track:A"
	require.NoError(t, e.Load(ctx, src))

	g := gate.New(e, gate.Config{SettleDelay: time.Millisecond}, nil)
	done := make(chan error, 1)
	go func() { done <- g.SafePlay(ctx) }()
	<-api.playSent

	// The device has the request but no response arrived.
	assert.True(t, e.Paused())
	g.SafePause(ctx)
	require.NoError(t, <-done)

	assert.Equal(t, []call{
		{name: "play", device: "d1", uris: []string{src}},
		{name: "pause", device: "d1"},
	}, api.Calls())
	assert.True(t, e.Paused())

	// Once paused, a further pause has nothing to stop.
	require.NoError(t, e.Pause(ctx))
	assert.Len(t, api.Calls(), 2)
}

func TestPollPublishesStateForSource(t *testing.T) {
	api := newFakeAPI()
	e, clk := openEngine(t, api)
	sub := e.Subscribe()
	defer sub.Close()
	ctx := context.Background()
	const src = "spotify:track:1"

	require.NoError(t, e.Load(ctx, src))
	require.NoError(t, e.Play(ctx))

	api.SetState(&client.PlaybackState{
		IsPlaying:  true,
		ProgressMS: 42000,
		Item:       &client.Track{ID: "1", URI: src, DurationMS: 200000},
	}, nil)
	tick(t, clk)

	ev := next(t, sub, engine.EventStateChanged)
	assert.Equal(t, src, ev.Src)
	assert.Equal(t, "1", ev.TrackID)
	assert.Equal(t, 42*time.Second, ev.Position)
	assert.Equal(t, 200*time.Second, ev.Duration)
	assert.False(t, ev.Paused)
	assert.Equal(t, 42*time.Second, e.Position())
	assert.False(t, e.Ended())
}

func TestPollDetectsDeviceMovedOn(t *testing.T) {
	api := newFakeAPI()
	e, clk := openEngine(t, api)
	sub := e.Subscribe()
	defer sub.Close()
	ctx := context.Background()
	const src = "spotify:track:1"

	require.NoError(t, e.Load(ctx, src))
	require.NoError(t, e.Play(ctx))

	// Stale state from before the play request is ignored.
	api.SetState(&client.PlaybackState{IsPlaying: true, Item: &client.Track{URI: "spotify:track:old"}}, nil)
	tick(t, clk)

	api.SetState(&client.PlaybackState{IsPlaying: true, ProgressMS: 199000,
		Item: &client.Track{ID: "1", URI: src, DurationMS: 200000}}, nil)
	tick(t, clk)
	ev := next(t, sub, engine.EventStateChanged)
	assert.Equal(t, 199*time.Second, ev.Position, "the stale snapshot must not produce an event")

	api.SetState(&client.PlaybackState{IsPlaying: true, Item: &client.Track{URI: "spotify:track:2"}}, nil)
	tick(t, clk)
	ev = next(t, sub, engine.EventStateChanged)
	assert.True(t, ev.Paused)
	assert.Zero(t, ev.Position)
	assert.True(t, e.Ended())

	// Replaying an ended source starts it again from the URI.
	require.NoError(t, e.Play(ctx))
	calls := api.Calls()
	assert.Equal(t, []string{src}, calls[len(calls)-1].uris)
	assert.False(t, e.Ended())
}

func TestPollAuthErrorOnce(t *testing.T) {
	api := newFakeAPI()
	e, clk := openEngine(t, api)
	sub := e.Subscribe()
	defer sub.Close()

	api.SetState(nil, tandemerrors.New(tandemerrors.KindUnauthorized, tandemerrors.ErrNotAuthenticated))
	tick(t, clk)
	next(t, sub, engine.EventAuthError)
	tick(t, clk)
	tick(t, clk)

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPollUnreachableThenReady(t *testing.T) {
	api := newFakeAPI()
	e, clk := openEngine(t, api)
	sub := e.Subscribe()
	defer sub.Close()

	api.SetState(nil, tandemerrors.New(tandemerrors.KindNetwork, errors.New("connection refused")))
	tick(t, clk)
	tick(t, clk)
	next(t, sub, engine.EventNotReady)

	api.SetState(nil, nil)
	tick(t, clk)
	next(t, sub, engine.EventReady)
}

func TestCloseStopsPolling(t *testing.T) {
	api := newFakeAPI()
	e, _ := openEngine(t, api)
	sub := e.Subscribe()
	defer sub.Close()

	require.NoError(t, e.Close())
	next(t, sub, engine.EventNotReady)
	assert.ErrorIs(t, e.Load(context.Background(), "spotify:track:1"), tandemerrors.ErrNotConnected)
	require.NoError(t, e.Close())
}

func TestModesAndVolumeTargetDevice(t *testing.T) {
	api := newFakeAPI()
	e, _ := openEngine(t, api)
	ctx := context.Background()

	require.NoError(t, e.SetShuffle(ctx, true))
	require.NoError(t, e.SetRepeat(ctx, core.RepeatOne))
	require.NoError(t, e.SetVolume(ctx, 30))

	assert.Equal(t, []call{
		{name: "shuffle", device: "d1", arg: true},
		{name: "repeat", device: "d1", arg: core.RepeatOne},
		{name: "volume", device: "d1", arg: 30},
	}, api.Calls())
}

func TestSeekBeforeStartIsNoop(t *testing.T) {
	api := newFakeAPI()
	e, _ := openEngine(t, api)
	ctx := context.Background()

	require.NoError(t, e.Load(ctx, "spotify:track:1"))
	require.NoError(t, e.Seek(ctx, 10*time.Second))
	assert.Empty(t, api.Calls())

	require.NoError(t, e.Play(ctx))
	require.NoError(t, e.Seek(ctx, 10*time.Second))
	assert.Equal(t, 10*time.Second, e.Position())
}

func TestCapabilities(t *testing.T) {
	caps := New(nil, Options{}).Capabilities()
	assert.True(t, caps.NativeURI)
	assert.True(t, caps.RemoteVolume)
	assert.False(t, caps.NativeEnd)
}
