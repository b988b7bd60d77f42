// Package resolver turns a logical track into a loaded engine source,
// trying each candidate media reference in turn.
package resolver

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/tessro/tandem/internal/core"
	"github.com/tessro/tandem/internal/engine"
	tandemerrors "github.com/tessro/tandem/internal/errors"
	"github.com/tessro/tandem/internal/metrics"
)

// DefaultLoadTimeout bounds a single candidate load.
const DefaultLoadTimeout = 10 * time.Second

// Resolver ranks candidate media references and loads the first that works.
type Resolver struct {
	loadTimeout time.Duration
	nativeURI   bool
	logger      *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLoadTimeout sets the per-candidate load timeout.
func WithLoadTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.loadTimeout = d
		}
	}
}

// WithNativeURI makes the track URI the sole candidate, for engines that
// play catalog URIs directly.
func WithNativeURI(on bool) Option {
	return func(r *Resolver) { r.nativeURI = on }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		loadTimeout: DefaultLoadTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("resolver")
	return r
}

// Candidates returns the ordered, de-duplicated media references for t.
// MP3 references come first; the rest keep declaration order.
func (r *Resolver) Candidates(t core.Track) ([]string, error) {
	if r.nativeURI {
		switch {
		case t.URI != "":
			return []string{t.URI}, nil
		case t.ID != "":
			return []string{"spotify:track:" + t.ID}, nil
		default:
			return nil, tandemerrors.ErrNoCandidates
		}
	}

	var short string
	if s := strings.TrimSpace(t.ShortURL); s != "" {
		short = strings.TrimRight(s, "/") + "/download"
	}
	refs := lo.Uniq(lo.Filter([]string{
		strings.TrimSpace(t.AudioURL),
		strings.TrimSpace(t.DownloadURL),
		short,
	}, func(s string, _ int) bool { return s != "" }))

	if len(refs) == 0 {
		return nil, tandemerrors.ErrNoCandidates
	}

	mp3, other := lo.FilterReject(refs, func(s string, _ int) bool { return isMP3(s) })
	return append(mp3, other...), nil
}

// isMP3 reports whether a reference names MP3 by extension or query hint.
func isMP3(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return strings.HasSuffix(strings.ToLower(ref), ".mp3")
	}
	if strings.EqualFold(path.Ext(u.Path), ".mp3") {
		return true
	}
	q := u.Query()
	if strings.EqualFold(q.Get("format"), "mp3") {
		return true
	}
	return strings.HasPrefix(strings.ToLower(q.Get("audioformat")), "mp3")
}

// TryLoad loads src into eng and waits until it can play, fails, or the
// timeout elapses. A single stall triggers one reload; after that only the
// timeout applies.
func (r *Resolver) TryLoad(ctx context.Context, eng engine.Engine, src string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = r.loadTimeout
	}

	// Subscribe before loading so a fast CanPlay is not missed.
	sub := eng.Subscribe()
	defer sub.Close()

	if err := eng.Load(ctx, src); err != nil {
		return tandemerrors.New(tandemerrors.KindNetwork, fmt.Errorf("load %s: %w", src, err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	nudged := false
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return tandemerrors.ErrInterrupted
			}
			if ev.Src != src {
				continue
			}
			switch ev.Type {
			case engine.EventCanPlay:
				return nil
			case engine.EventError:
				return classifyLoadError(ev.Err)
			case engine.EventStalled:
				if nudged {
					continue
				}
				nudged = true
				r.logger.Debug("stalled, reloading", zap.String("src", src))
				if err := eng.Reload(ctx); err != nil {
					r.logger.Debug("reload failed", zap.String("src", src), zap.Error(err))
				}
			}
		case <-timer.C:
			return fmt.Errorf("%w after %s", tandemerrors.ErrLoadTimeout, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func classifyLoadError(err error) error {
	if err == nil {
		return tandemerrors.New(tandemerrors.KindNetwork, tandemerrors.ErrNetworkError)
	}
	switch k := tandemerrors.KindOf(err); k {
	case tandemerrors.KindCorruptMedia, tandemerrors.KindUnsupported:
		return tandemerrors.New(k, err)
	default:
		return tandemerrors.New(tandemerrors.KindNetwork, err)
	}
}

// ResolveAndLoad tries every candidate for t in order and returns the one
// that loaded. Earlier failures are logged, not returned.
func (r *Resolver) ResolveAndLoad(ctx context.Context, eng engine.Engine, t core.Track) (string, error) {
	candidates, err := r.Candidates(t)
	if err != nil {
		return "", err
	}

	var lastErr error
	for i, src := range candidates {
		err := r.TryLoad(ctx, eng, src, r.loadTimeout)
		if err == nil {
			if i > 0 {
				r.logger.Info("loaded fallback candidate",
					zap.String("track", t.ID), zap.Int("index", i), zap.String("src", src))
			}
			return src, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		metrics.IncCandidateFailure(tandemerrors.KindOf(err).String())
		r.logger.Warn("candidate failed",
			zap.String("track", t.ID),
			zap.Int("index", i),
			zap.String("src", src),
			zap.Error(err))
	}

	return "", tandemerrors.New(tandemerrors.KindAllCandidatesFailed,
		fmt.Errorf("%w: %d tried, last: %w", tandemerrors.ErrAllCandidatesFailed, len(candidates), lastErr))
}
