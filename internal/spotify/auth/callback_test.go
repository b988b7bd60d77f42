package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func startCallbackServer(t *testing.T) *CallbackServer {
	t.Helper()
	server, err := NewCallbackServer("127.0.0.1:0", "/callback")
	if err != nil {
		t.Fatalf("NewCallbackServer() error = %v", err)
	}
	server.Start()
	t.Cleanup(func() { _ = server.Shutdown(context.Background()) })
	return server
}

func hit(t *testing.T, rawURL string) {
	t.Helper()
	go func() {
		resp, err := http.Get(rawURL)
		if err != nil {
			t.Errorf("callback request failed: %v", err)
			return
		}
		_ = resp.Body.Close()
	}()
}

func TestCallbackServer(t *testing.T) {
	server := startCallbackServer(t)
	if server.Port() == 0 {
		t.Fatal("Server port should not be 0 after starting")
	}

	hit(t, fmt.Sprintf("http://127.0.0.1:%d/callback?code=test_code&state=test_state", server.Port()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := server.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if result.Code != "test_code" || result.State != "test_state" || result.Error != "" {
		t.Errorf("result = %+v", result)
	}
}

func TestCallbackServerError(t *testing.T) {
	server := startCallbackServer(t)
	hit(t, fmt.Sprintf("http://127.0.0.1:%d/callback?error=access_denied&state=s", server.Port()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := server.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if result.Error != "access_denied" {
		t.Errorf("Error = %q, want %q", result.Error, "access_denied")
	}
}

func TestCallbackServerTimeout(t *testing.T) {
	server := startCallbackServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := server.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// browser follows the authorization URL straight to the redirect URI,
// optionally tampering with the state.
func browser(t *testing.T, state string) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		if state == "" {
			state = q.Get("state")
		}
		hit(t, q.Get("redirect_uri")+"?code=the_code&state="+url.QueryEscape(state))
		return nil
	}
}

func TestLogin(t *testing.T) {
	ex := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.FormValue("code") != "the_code" || r.FormValue("code_verifier") == "" {
			t.Errorf("unexpected exchange form %v", r.Form)
		}
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "a", RefreshToken: "r", ExpiresIn: 3600})
	})
	ex.cfg.RedirectURI = fmt.Sprintf("http://127.0.0.1:%d/callback", freePort(t))
	fs := afero.NewMemMapFs()
	src := NewSource(NewFileStore(fs, "/t.json"), ex, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tok, err := Login(ctx, ex.cfg, ex, src, browser(t, ""), nil)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if tok.AccessToken != "a" {
		t.Errorf("AccessToken = %q", tok.AccessToken)
	}
	if ok, _ := afero.Exists(fs, "/t.json"); !ok {
		t.Error("Login() should persist the token")
	}
}

func TestLoginStateMismatch(t *testing.T) {
	ex := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("code must not be exchanged on a state mismatch")
	})
	ex.cfg.RedirectURI = fmt.Sprintf("http://127.0.0.1:%d/callback", freePort(t))
	src := NewSource(NewFileStore(afero.NewMemMapFs(), "/t.json"), ex, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := Login(ctx, ex.cfg, ex, src, browser(t, "forged"), nil); !errors.Is(err, ErrStateMismatch) {
		t.Errorf("Login() error = %v, want ErrStateMismatch", err)
	}
}
