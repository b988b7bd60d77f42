package auth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// CallbackResult contains the query of the OAuth redirect.
type CallbackResult struct {
	Code  string
	State string
	Error string
}

// CallbackServer receives the OAuth redirect on a loopback address.
type CallbackServer struct {
	server   *http.Server
	listener net.Listener
	result   chan CallbackResult
}

// NewCallbackServer listens on addr and serves path.
func NewCallbackServer(addr, path string) (*CallbackServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	cs := &CallbackServer{
		listener: listener,
		result:   make(chan CallbackResult, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, cs.handleCallback)
	cs.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return cs, nil
}

// Start serves in the background.
func (cs *CallbackServer) Start() {
	go func() {
		_ = cs.server.Serve(cs.listener)
	}()
}

// Wait blocks until a redirect arrives or ctx is done.
func (cs *CallbackServer) Wait(ctx context.Context) (CallbackResult, error) {
	select {
	case result := <-cs.result:
		return result, nil
	case <-ctx.Done():
		return CallbackResult{}, ctx.Err()
	}
}

// Shutdown stops the server.
func (cs *CallbackServer) Shutdown(ctx context.Context) error {
	return cs.server.Shutdown(ctx)
}

// Port returns the listening port.
func (cs *CallbackServer) Port() int {
	return cs.listener.Addr().(*net.TCPAddr).Port
}

func (cs *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result := CallbackResult{
		Code:  query.Get("code"),
		State: query.Get("state"),
		Error: query.Get("error"),
	}

	// Duplicate redirects are dropped.
	select {
	case cs.result <- result:
	default:
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if result.Error != "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><title>tandem: login failed</title></head>
<body><h1>Login failed</h1><p>Error: %s</p><p>You can close this window.</p></body></html>`,
			html.EscapeString(result.Error))
		return
	}
	fmt.Fprint(w, `<!DOCTYPE html>
<html><head><title>tandem: logged in</title></head>
<body><h1>Logged in</h1><p>You can close this window and return to the terminal.</p></body></html>`)
}

// ErrStateMismatch means the redirect did not belong to this login attempt.
var ErrStateMismatch = errors.New("oauth state mismatch")

// Login runs the PKCE flow: it serves the redirect URI, hands the
// authorization URL to open, waits for the redirect, exchanges the code and
// stores the token through src.
func Login(ctx context.Context, cfg *Config, ex *Exchanger, src *Source, open func(url string) error, logger *zap.Logger) (*Token, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pkce, err := NewPKCE()
	if err != nil {
		return nil, fmt.Errorf("generate pkce: %w", err)
	}

	addr, path, err := cfg.CallbackAddr()
	if err != nil {
		return nil, err
	}
	cs, err := NewCallbackServer(addr, path)
	if err != nil {
		return nil, err
	}
	cs.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = cs.Shutdown(shutdownCtx)
	}()

	authURL := cfg.BuildAuthURL(pkce)
	logger.Debug("opening authorization url", zap.String("addr", addr))
	if err := open(authURL); err != nil {
		logger.Warn("could not open browser", zap.Error(err))
	}

	result, err := cs.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for authorization: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("authorization denied: %s", result.Error)
	}
	if result.State != pkce.State {
		return nil, ErrStateMismatch
	}

	tok, err := ex.ExchangeCode(ctx, result.Code, pkce.Verifier)
	if err != nil {
		return nil, err
	}
	if err := src.Set(tok); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	return tok, nil
}
