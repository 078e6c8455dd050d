package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/mikey/inbox-sweeper/internal/core"
)

// Session is an immutable authenticated session. Refreshing never mutates an
// existing Session; it produces a new one with the rotated token.
type Session struct {
	token *oauth2.Token
}

// Valid reports whether the session's token is present and unexpired.
func (s *Session) Valid() bool {
	return s != nil && s.token.Valid()
}

// CanRefresh reports whether the session carries a refresh token.
func (s *Session) CanRefresh() bool {
	return s != nil && s.token != nil && s.token.RefreshToken != ""
}

// Expiry returns the token expiry time.
func (s *Session) Expiry() time.Time {
	if s == nil || s.token == nil {
		return time.Time{}
	}
	return s.token.Expiry
}

// Authenticator owns OAuth credentials and the on-disk token cache. It hands
// out Sessions and builds Gmail services from them.
type Authenticator struct {
	conf      *oauth2.Config
	tokenPath string
	logger    *zap.Logger
}

// NewAuthenticator loads the OAuth client credentials. A missing credentials
// file is an AuthError telling the user where to put it.
func NewAuthenticator(credentialsPath, tokenPath string, logger *zap.Logger) (*Authenticator, error) {
	b, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, &core.AuthError{
			Reason:      fmt.Sprintf("credentials file %s not readable", credentialsPath),
			Remediation: fmt.Sprintf("download OAuth client credentials from Google Cloud Console and save them to %s", credentialsPath),
			Err:         err,
		}
	}

	conf, err := google.ConfigFromJSON(b, gmailv1.GmailModifyScope)
	if err != nil {
		return nil, &core.AuthError{
			Reason:      "credentials file is not a valid OAuth client config",
			Remediation: "re-download the OAuth client credentials from Google Cloud Console",
			Err:         err,
		}
	}

	return &Authenticator{
		conf:      conf,
		tokenPath: tokenPath,
		logger:    logger,
	}, nil
}

// Load reads the cached token. A missing or unreadable token is an AuthError
// pointing at the auth command.
func (a *Authenticator) Load(ctx context.Context) (*Session, error) {
	f, err := os.Open(a.tokenPath)
	if err != nil {
		return nil, &core.AuthError{
			Reason:      "no cached token",
			Remediation: "run 'inbox-sweeper auth' to authorize access",
			Err:         err,
		}
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, &core.AuthError{
			Reason:      "cached token is unreadable",
			Remediation: "run 'inbox-sweeper auth' to authorize access",
			Err:         err,
		}
	}
	return &Session{token: tok}, nil
}

// Refresh exchanges the session's refresh token for a fresh access token,
// persists the rotation and returns a new Session.
func (a *Authenticator) Refresh(ctx context.Context, sess *Session) (*Session, error) {
	if !sess.CanRefresh() {
		return nil, &core.AuthError{
			Reason:      "token expired and no refresh token is available",
			Remediation: "run 'inbox-sweeper auth' to re-authorize access",
		}
	}

	tok, err := a.conf.TokenSource(ctx, sess.token).Token()
	if err != nil {
		return nil, &core.AuthError{
			Reason:      "token refresh rejected",
			Remediation: "run 'inbox-sweeper auth' to re-authorize access",
			Err:         err,
		}
	}

	if err := a.saveToken(tok); err != nil {
		return nil, err
	}
	a.logger.Debug("Refreshed session token", zap.Time("expiry", tok.Expiry))
	return &Session{token: tok}, nil
}

// Ensure returns a valid session: the cached one when still good, a
// refreshed one when possible, otherwise the interactive flow.
func (a *Authenticator) Ensure(ctx context.Context) (*Session, error) {
	sess, err := a.Load(ctx)
	if err == nil {
		if sess.Valid() {
			return sess, nil
		}
		if sess.CanRefresh() {
			refreshed, rerr := a.Refresh(ctx, sess)
			if rerr == nil {
				return refreshed, nil
			}
			a.logger.Warn("Token refresh failed, re-authorizing", zap.Error(rerr))
		}
	}
	return a.Authorize(ctx)
}

// Service builds a Gmail service bound to the session.
func (a *Authenticator) Service(ctx context.Context, sess *Session) (*gmailv1.Service, error) {
	client := a.conf.Client(ctx, sess.token)
	svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return svc, nil
}

func (a *Authenticator) saveToken(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(a.tokenPath), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	tmp := a.tokenPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return fmt.Errorf("failed to write token: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}
	if err := os.Rename(tmp, a.tokenPath); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// Authorize runs the interactive OAuth flow: a loopback redirect server when
// possible, manual code paste as fallback. The obtained token is persisted.
func (a *Authenticator) Authorize(ctx context.Context) (*Session, error) {
	tok, err := a.tokenFromWeb(ctx)
	if err != nil {
		return nil, &core.AuthError{
			Reason:      "interactive authorization failed",
			Remediation: "run 'inbox-sweeper auth' and complete the browser flow",
			Err:         err,
		}
	}
	if err := a.saveToken(tok); err != nil {
		return nil, err
	}
	a.logger.Info("Authorization complete", zap.String("token_path", a.tokenPath))
	return &Session{token: tok}, nil
}

func (a *Authenticator) tokenFromWeb(ctx context.Context) (*oauth2.Token, error) {
	type result struct {
		code string
	}
	resCh := make(chan result, 1)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err == nil {
		port := ln.Addr().(*net.TCPAddr).Port
		redirect := fmt.Sprintf("http://127.0.0.1:%d/", port)
		oldRedirect := a.conf.RedirectURL
		a.conf.RedirectURL = redirect

		mux := http.NewServeMux()
		srv := &http.Server{
			ReadHeaderTimeout: 5 * time.Second,
			Handler:           mux,
		}
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "Missing 'code' parameter", http.StatusBadRequest)
				return
			}
			fmt.Fprintln(w, "Authorization complete. You can close this window.")
			select {
			case resCh <- result{code: code}:
			default:
			}
			go func() { _ = srv.Shutdown(context.Background()) }()
		})
		go func() { _ = srv.Serve(ln) }()

		authURL := a.conf.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
		fmt.Fprintln(os.Stderr, "Open this URL in your browser to authorize access:")
		fmt.Fprintln(os.Stderr, authURL)
		fmt.Fprintf(os.Stderr, "Waiting for redirect on %s ...\n", redirect)

		select {
		case <-ctx.Done():
			_ = srv.Shutdown(context.Background())
			a.conf.RedirectURL = oldRedirect
			return nil, ctx.Err()
		case r := <-resCh:
			tok, err := a.conf.Exchange(ctx, strings.TrimSpace(r.code))
			a.conf.RedirectURL = oldRedirect
			if err != nil {
				return nil, fmt.Errorf("token exchange failed: %w", err)
			}
			return tok, nil
		case <-time.After(120 * time.Second):
			_ = srv.Shutdown(context.Background())
			a.conf.RedirectURL = oldRedirect
			fmt.Fprintln(os.Stderr, "Timed out waiting for redirect; falling back to manual paste.")
		}
	}

	// Manual paste fallback.
	authURL := a.conf.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintln(os.Stderr, "Open this URL in your browser to authorize access:")
	fmt.Fprintln(os.Stderr, authURL)
	fmt.Fprintln(os.Stderr, "Paste the auth code or the full redirect URL here, then press Enter.")
	fmt.Fprint(os.Stderr, "> ")

	var input string
	if _, err := fmt.Fscanln(os.Stdin, &input); err != nil {
		return nil, fmt.Errorf("failed to read auth code: %w", err)
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.New("empty authorization code")
	}

	code := input
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		u, err := url.Parse(input)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redirect URL: %w", err)
		}
		code = u.Query().Get("code")
		if code == "" {
			return nil, errors.New("no 'code' parameter in pasted URL")
		}
	}

	tok, err := a.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	return tok, nil
}
