package console

import (
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

type Credential struct {
	Identity   string
	Secret     string
	CaptchaKey string
}

// Session is one immutable snapshot of everything needed to make an
// authenticated request: the harvested cookie jar plus csrf state.
// refreshes never mutate a snapshot in place, they publish a new one
// through the SessionHolder.
type Session struct {
	Cookies         map[string]string
	CSRFToken       string
	XSRFToken       string
	Origin          string
	ScopeID         string
	EstablishedAt   time.Time
	LastValidatedAt time.Time
}

// Valid reports whether the snapshot carries both cookies a usable
// session needs. the csrf token is allowed to be absent.
func (s *Session) Valid(sessionCookie, xsrfCookie string) bool {
	if s == nil {
		return false
	}
	return s.Cookies[sessionCookie] != "" && s.Cookies[xsrfCookie] != ""
}

func (s *Session) Clone() *Session {
	out := *s
	out.Cookies = make(map[string]string, len(s.Cookies))
	for k, v := range s.Cookies {
		out.Cookies[k] = v
	}
	return &out
}

// CookieHeader renders the jar as a Cookie header value, sorted by name
// so identical jars always serialize identically.
func (s *Session) CookieHeader() string {
	names := make([]string, 0, len(s.Cookies))
	for name := range s.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+s.Cookies[name])
	}
	return strings.Join(pairs, "; ")
}

// XSRFHeaderValue returns the url-decoded xsrf cookie value, the form
// the console expects in the X-XSRF-TOKEN header.
func (s *Session) XSRFHeaderValue() string {
	decoded, err := url.QueryUnescape(s.XSRFToken)
	if err != nil {
		return s.XSRFToken
	}
	return decoded
}

// CSRFHeaderValue returns the resolved meta token, or degrades to the
// xsrf cookie value when token acquisition came up empty.
func (s *Session) CSRFHeaderValue() string {
	if s.CSRFToken != "" {
		return s.CSRFToken
	}
	return s.XSRFHeaderValue()
}

type LoginOutcome struct {
	Session           *Session
	ReachedTargetArea bool
}

// SessionHolder publishes Session snapshots atomically so enrichment
// workers never observe a half-written refresh.
type SessionHolder struct {
	ptr atomic.Pointer[Session]
}

func NewSessionHolder() *SessionHolder {
	return &SessionHolder{}
}

func (h *SessionHolder) Current() *Session {
	return h.ptr.Load()
}

func (h *SessionHolder) Publish(s *Session) {
	h.ptr.Store(s)
}
