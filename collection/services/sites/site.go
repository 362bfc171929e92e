// Package sites keeps one authenticated session per campus site and knows
// what each site needs after the portal hands control back.
package sites

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sso"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/webvpn"
)

type Site string

const (
	Ehall      Site = "ehall"
	Attendance Site = "attendance"
	Jwxt       Site = "jwxt"
	Jwapp      Site = "jwapp"
	Gmis       Site = "gmis"
	Gste       Site = "gste"
	Ywtb       Site = "ywtb"
)

type LoginMethod int

const (
	MethodNormal LoginMethod = iota
	MethodWebVPN
)

func (m LoginMethod) String() string {
	if m == MethodWebVPN {
		return "webvpn"
	}
	return "normal"
}

// ParseLoginMethod accepts the config spelling.
func ParseLoginMethod(s string) (LoginMethod, error) {
	switch s {
	case "", "normal":
		return MethodNormal, nil
	case "webvpn":
		return MethodWebVPN, nil
	}
	return MethodNormal, fmt.Errorf("unknown login method %q", s)
}

// DefaultTimeout is how long a session may sit idle before it has to log in
// again.
const DefaultTimeout = 15 * time.Minute

var (
	ErrUnknownSite = errors.New("unknown site")
	ErrNoWebVPN    = errors.New("site has no webvpn login")
	ErrNotLoggedIn = errors.New("site session is not logged in")
)

type Credentials struct {
	Username    string
	Password    string
	AccountType sso.AccountType
}

type siteSpec struct {
	loginURL string
	// login entry used through the gateway, empty when the site has none
	webvpnURL string
	postLogin sso.PostLoginFunc
}

var specs = map[Site]siteSpec{
	Ehall: {loginURL: sso.EhallLoginURL},
	Attendance: {
		loginURL:  sso.AttendanceLoginURL,
		webvpnURL: sso.AttendanceWebVPNURL,
		postLogin: tokenHeader("Synjones-Auth", "bearer "),
	},
	Jwxt:  {loginURL: sso.JwxtLoginURL, webvpnURL: sso.JwxtLoginURL},
	Jwapp: {loginURL: sso.JwappLoginURL, postLogin: jwtHeader("Authorization")},
	Gmis:  {loginURL: sso.GmisLoginURL},
	Gste:  {loginURL: sso.GsteLoginURL, webvpnURL: sso.GsteLoginURL},
	Ywtb:  {loginURL: sso.YwtbLoginURL, postLogin: idTokenHeaders},
}

func Known() []Site {
	return []Site{Ehall, Attendance, Jwxt, Jwapp, Gmis, Gste, Ywtb}
}

// tokenHeader copies the token= parameter of the landing URL into header.
func tokenHeader(header, prefix string) sso.PostLoginFunc {
	return func(_ context.Context, d *sso.Driver, final *url.URL) error {
		token := final.Query().Get("token")
		if token == "" {
			return services.Unparseable("no token in %s", final.Path)
		}
		d.Session().SetHeader(header, prefix+token)
		return nil
	}
}

// jwtHeader is tokenHeader for sites whose token is a JWT; the claims are
// read without verification to reject anything that is not one.
func jwtHeader(header string) sso.PostLoginFunc {
	return func(_ context.Context, d *sso.Driver, final *url.URL) error {
		token := final.Query().Get("token")
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return services.Unparseable("token is not a jwt: %v", err)
		}
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			d.Session().Logger().WithField("expires", exp.Time).Debug("site token issued")
		}
		d.Session().SetHeader(header, token)
		return nil
	}
}

// the ticket on the landing URL is a JWT whose idToken claim is what the
// site wants back on every request
func idTokenHeaders(_ context.Context, d *sso.Driver, final *url.URL) error {
	ticket := final.Query().Get("ticket")
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(ticket, claims); err != nil {
		return services.Unparseable("ticket is not a jwt: %v", err)
	}
	idToken, ok := claims["idToken"].(string)
	if !ok || idToken == "" {
		return services.Unparseable("ticket has no idToken")
	}
	s := d.Session()
	s.SetHeader("x-device-info", "PC")
	s.SetHeader("x-terminal-info", "PC")
	s.SetHeader("x-id-token", idToken)
	return nil
}

// SiteSession is the long lived session for one site of one account. Only
// the login state may be read and changed concurrently; requests and logins
// are serialised by the worker pool, one task per session.
type SiteSession struct {
	site    Site
	spec    siteSpec
	cfg     Config
	session *services.Session
	logger  *log.Entry

	mu sync.Mutex
	// method is what the current login went through, preferred what the
	// next login uses
	method    LoginMethod
	preferred LoginMethod
	hasLogin  bool
}

func newSiteSession(site Site, cfg Config) (*SiteSession, error) {
	spec, ok := specs[site]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSite, site)
	}
	cfg = cfg.withDefaults()
	logger := cfg.Session.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	logger = logger.WithField("site", string(site))
	opts := cfg.Session
	opts.Logger = logger
	return &SiteSession{
		site:      site,
		spec:      spec,
		cfg:       cfg,
		session:   services.NewSession(opts),
		logger:    logger,
		method:    cfg.Methods[site],
		preferred: cfg.Methods[site],
	}, nil
}

func (s *SiteSession) Site() Site { return s.site }

func (s *SiteSession) Session() *services.Session { return s.session }

// Method is the transport of the current login, or the preferred method
// before any login.
func (s *SiteSession) Method() LoginMethod {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.method
}

// Preferred is the method the next Login uses.
func (s *SiteSession) Preferred() LoginMethod {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preferred
}

// SetPreferred changes the method of future logins. A live login keeps its
// transport until it is replaced.
func (s *SiteSession) SetPreferred(method LoginMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferred = method
	if !s.hasLogin {
		s.method = method
	}
}

// HasTimeout reports whether the session sat idle past its timeout; a
// session that never sent a request has timed out.
func (s *SiteSession) HasTimeout() bool {
	last := s.session.LastRequest()
	return last.IsZero() || time.Since(last) > s.cfg.Timeout
}

// HasLogin is false once the session timed out, even if a login once
// succeeded.
func (s *SiteSession) HasLogin() bool {
	timedOut := s.HasTimeout()
	s.mu.Lock()
	defer s.mu.Unlock()
	if timedOut {
		s.hasLogin = false
	}
	return s.hasLogin
}

// SupportsWebVPN reports whether the site can be reached through the
// gateway.
func (s *SiteSession) SupportsWebVPN() bool { return s.spec.webvpnURL != "" }

// Flow lists the drivers a login walks through, in order.
type Flow struct {
	s      *SiteSession
	method LoginMethod
	steps  []step
	next   int
	canRun func() bool
}

type step struct {
	name      string
	loginURL  string
	viaVPN    bool
	postLogin sso.PostLoginFunc
}

// Begin starts a login with method. Cookies and site headers of a previous
// login are dropped first.
func (s *SiteSession) Begin(method LoginMethod, canRun func() bool) (*Flow, error) {
	if method == MethodWebVPN && !s.SupportsWebVPN() {
		return nil, fmt.Errorf("%w: %s", ErrNoWebVPN, s.site)
	}
	if canRun == nil {
		canRun = func() bool { return true }
	}
	s.mu.Lock()
	s.hasLogin = false
	s.mu.Unlock()
	s.session.ClearCookies()
	for _, h := range []string{"Synjones-Auth", "Authorization", "x-id-token", "x-device-info", "x-terminal-info"} {
		s.session.DelHeader(h)
	}

	f := &Flow{s: s, method: method, canRun: canRun}
	if method == MethodWebVPN {
		// the gateway itself is logged into directly, then the site through it
		f.steps = []step{
			{name: "webvpn", loginURL: sso.WebVPNLoginURL},
			{name: string(s.site), loginURL: s.spec.webvpnURL, viaVPN: true, postLogin: s.spec.postLogin},
		}
	} else {
		f.steps = []step{{name: string(s.site), loginURL: s.spec.loginURL, postLogin: s.spec.postLogin}}
	}
	return f, nil
}

func (f *Flow) Steps() int { return len(f.steps) }

// Next bootstraps the driver of the next step; ok is false when every step
// is done.
func (f *Flow) Next(ctx context.Context) (d *sso.Driver, name string, ok bool, err error) {
	if f.next >= len(f.steps) {
		return nil, "", false, nil
	}
	st := f.steps[f.next]
	f.next++

	opts := []sso.Option{
		sso.WithPortal(f.s.cfg.Portal),
		sso.WithCanRun(f.canRun),
		sso.WithLogger(f.s.logger.WithField("step", st.name)),
	}
	if f.s.cfg.VisitorID != "" {
		opts = append(opts, sso.WithVisitorID(f.s.cfg.VisitorID))
	}
	if st.viaVPN {
		opts = append(opts, sso.WithWebVPN(f.s.cfg.Codec))
	}
	if st.postLogin != nil {
		opts = append(opts, sso.WithPostLogin(st.postLogin))
	}
	d, err = sso.New(ctx, st.loginURL, f.s.session, opts...)
	if err != nil {
		return nil, st.name, false, err
	}
	return d, st.name, true, nil
}

// Complete marks the session logged in; call it after every driver of the
// flow reached SUCCESS.
func (f *Flow) Complete() error {
	if f.next < len(f.steps) {
		return fmt.Errorf("%w: %d of %d login steps done", ErrNotLoggedIn, f.next, len(f.steps))
	}
	f.s.mu.Lock()
	f.s.method = f.method
	f.s.hasLogin = true
	f.s.mu.Unlock()
	f.s.session.Touch()
	f.s.logger.WithField("method", f.method).Info("site login complete")
	return nil
}

// Login runs a non-interactive login with the session's preferred method.
func (s *SiteSession) Login(ctx context.Context, creds Credentials) error {
	return s.LoginWith(ctx, creds, s.Preferred())
}

func (s *SiteSession) LoginWith(ctx context.Context, creds Credentials, method LoginMethod) error {
	flow, err := s.Begin(method, nil)
	if err != nil {
		return err
	}
	for {
		d, _, ok, err := flow.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if _, err := sso.LoginOrRaise(ctx, d, creds.Username, creds.Password, creds.AccountType); err != nil {
			return err
		}
	}
	return flow.Complete()
}

// EnsureLogin logs in again when the session is new or went idle.
func (s *SiteSession) EnsureLogin(ctx context.Context, creds Credentials) error {
	if s.HasLogin() {
		return nil
	}
	return s.Login(ctx, creds)
}

// URL maps rawURL onto the transport the session logged in with.
func (s *SiteSession) URL(rawURL string) (string, error) {
	if s.Method() != MethodWebVPN || s.cfg.Codec.IsVPN(rawURL) {
		return rawURL, nil
	}
	return s.cfg.Codec.Encode(rawURL)
}

func (s *SiteSession) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	target, err := s.URL(rawURL)
	if err != nil {
		return nil, err
	}
	return s.session.Get(ctx, target)
}

func (s *SiteSession) PostForm(ctx context.Context, rawURL string, form url.Values) (*http.Response, error) {
	target, err := s.URL(rawURL)
	if err != nil {
		return nil, err
	}
	return s.session.PostForm(ctx, target, form)
}

func (s *SiteSession) PostJSON(ctx context.Context, rawURL string, body any) (*http.Response, error) {
	target, err := s.URL(rawURL)
	if err != nil {
		return nil, err
	}
	return s.session.PostJSON(ctx, target, body)
}

// Config is shared by every session of a registry.
type Config struct {
	Session   services.SessionOptions
	Timeout   time.Duration
	VisitorID string
	Portal    sso.Portal
	Codec     *webvpn.Codec
	// login method per site, MethodNormal when absent
	Methods map[Site]LoginMethod
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Portal.Base == "" {
		c.Portal = sso.DefaultPortal
	}
	if c.Codec == nil {
		c.Codec = webvpn.Default
	}
	if c.Methods == nil {
		c.Methods = map[Site]LoginMethod{}
	}
	return c
}
