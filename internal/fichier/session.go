package fichier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"golang.org/x/net/publicsuffix"
)

// sessionCookie is the cookie the console sets once credentials are accepted.
const sessionCookie = "SID"

// Credentials identify one remote account.
type Credentials struct {
	Email    string
	Password string
}

// LoginOptions are the session flags sent with the login form.
type LoginOptions struct {
	LongSession      bool // "lt": keep the session alive
	RestrictIP       bool // "restrict": bind the session to the caller's IP
	PurgeOldSessions bool // "purge": invalidate the account's other sessions
}

// DefaultLoginOptions returns a long-lived, unrestricted session that leaves
// other sessions alone.
func DefaultLoginOptions() LoginOptions {
	return LoginOptions{LongSession: true}
}

// Session is one authenticated login. It owns a cookie jar shared by a
// metadata client (request timeout) and a transfer client (no timeout).
// A Session is never re-authenticated; callers log in again instead.
type Session struct {
	client   *Client
	jar      http.CookieJar
	meta     *http.Client
	transfer *http.Client
}

// Login posts the credentials and returns a new Session. The console answers
// a rejected login with an ordinary page, so success is judged by the
// presence of the session cookie afterwards.
func (c *Client) Login(ctx context.Context, creds Credentials, opts LoginOptions) (*Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("fichier: creating cookie jar: %w", err)
	}

	s := &Session{
		client:   c,
		jar:      jar,
		meta:     withJar(c.metaHTTP, jar),
		transfer: withJar(c.transferHTTP, jar),
	}

	c.logger.Info("logging in", slog.String("account", creds.Email))

	form := url.Values{
		"mail":     {creds.Email},
		"pass":     {creds.Password},
		"lt":       {onOff(opts.LongSession)},
		"restrict": {onOff(opts.RestrictIP)},
		"purge":    {onOff(opts.PurgeOldSessions)},
	}

	if _, err := c.readAll(ctx, s.meta, http.MethodPost, "/login.pl", form); err != nil {
		return nil, fmt.Errorf("fichier: login: %w", err)
	}

	if !s.authenticated() {
		return nil, fmt.Errorf("fichier: login as %s: %w", creds.Email, ErrAuthFailed)
	}

	c.logger.Debug("login succeeded", slog.String("account", creds.Email))

	return s, nil
}

// Logout ends the session server-side. Best effort: failures are logged and
// otherwise ignored.
func (s *Session) Logout(ctx context.Context) {
	if _, err := s.client.readAll(ctx, s.meta, http.MethodGet, "/logout.pl", nil); err != nil {
		s.client.logger.Debug("logout failed", slog.String("error", err.Error()))
		return
	}

	s.client.logger.Debug("logged out")
}

// authenticated reports whether the jar holds a session cookie for the
// service.
func (s *Session) authenticated() bool {
	base, err := url.Parse(s.client.baseURL + "/")
	if err != nil {
		return false
	}

	for _, ck := range s.jar.Cookies(base) {
		if ck.Name == sessionCookie && ck.Value != "" {
			return true
		}
	}

	return false
}

// withJar returns a shallow copy of hc that stores cookies in jar.
func withJar(hc *http.Client, jar http.CookieJar) *http.Client {
	cp := *hc
	cp.Jar = jar

	return &cp
}

func onOff(b bool) string {
	if b {
		return "on"
	}

	return "off"
}
