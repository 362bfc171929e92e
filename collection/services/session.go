package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// Session is a cookie carrying HTTP client with headers that are sent on
// every request. It is not safe for concurrent use by more than one task;
// the worker pool serialises tasks that share a session.
type Session struct {
	client *http.Client
	header http.Header
	logger *log.Entry

	mu          sync.Mutex
	lastRequest atomic.Int64
}

type SessionOptions struct {
	Logger    *log.Entry
	UserAgent string
	Limiter   RateLimiter
	RetryMax  int
	// Transport replaces the network transport, tests point it at a mock
	Transport http.RoundTripper
}

func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Logger:   log.WithField("component", "http"),
		Limiter:  NewAdaptiveRateLimiter(rate.Every(100*time.Millisecond), 5, rate.Every(200*time.Millisecond)),
		RetryMax: 2,
	}
}

// NewSession produces a fresh session with a randomised desktop user agent
// unless one is configured.
func NewSession(opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "http")
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = RandomUserAgent()
	}
	client := NewRetryClient(opts.Logger, opts.Limiter, opts.RetryMax, opts.Transport)
	client.Jar = newJar()

	s := &Session{
		client: client,
		header: http.Header{},
		logger: opts.Logger,
	}
	s.header.Set("User-Agent", ua)
	return s
}

func newJar() http.CookieJar {
	// the options never make cookiejar.New fail
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return jar
}

func (s *Session) Logger() *log.Entry { return s.logger }

func (s *Session) Client() *http.Client { return s.client }

func (s *Session) SetHeader(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header.Set(key, value)
}

func (s *Session) Header(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header.Get(key)
}

func (s *Session) DelHeader(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header.Del(key)
}

// ClearCookies drops every cookie so a new login starts from a clean state.
func (s *Session) ClearCookies() {
	s.client.Jar = newJar()
}

func (s *Session) Cookies(u *url.URL) []*http.Cookie {
	return s.client.Jar.Cookies(u)
}

// LastRequest is the time the most recent request was sent, zero if none.
func (s *Session) LastRequest() time.Time {
	n := s.lastRequest.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Touch records activity without sending a request.
func (s *Session) Touch() {
	s.lastRequest.Store(time.Now().UnixNano())
}

func (s *Session) applyHeaders(req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, values := range s.header {
		if req.Header.Get(key) != "" {
			continue
		}
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
}

func (s *Session) Do(req *http.Request) (*http.Response, error) {
	s.applyHeaders(req)
	s.Touch()
	return s.client.Do(req)
}

// NoRedirect performs req without following redirects; the returned
// response is the first hop.
func (s *Session) NoRedirect(req *http.Request) (*http.Response, error) {
	client := *s.client
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	s.applyHeaders(req)
	s.Touch()
	return client.Do(req)
}

func (s *Session) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return s.Do(req)
}

func (s *Session) PostForm(ctx context.Context, rawURL string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.Do(req)
}

func (s *Session) PostJSON(ctx context.Context, rawURL string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.Do(req)
}

// ReadBody drains and closes the body, mapping transport and status
// failures to ErrTemporaryNetworkFailure.
func ReadBody(resp *http.Response, respErr error) ([]byte, error) {
	if err := RespOrStatusErr(resp, respErr); err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, RespOrStatusErr(nil, err)
	}
	return body, nil
}

// DecodeJSON reads an OK response into v.
func DecodeJSON(resp *http.Response, respErr error, v any) error {
	body, err := ReadBody(resp, respErr)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return Unparseable("decoding %s: %v", resp.Request.URL.Path, err)
	}
	return nil
}

func (s *Session) String() string {
	return fmt.Sprintf("session(ua=%q)", s.Header("User-Agent"))
}
