// Package testsso hosts a fake campus portal together with the sites that
// sit behind it. Every request made through Transport lands on the mock
// regardless of host, so the production URL constants work unchanged.
package testsso

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"html/template"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/webvpn"
)

const (
	PortalHost     = "login.xjtu.edu.cn"
	OrgHost        = "org.xjtu.edu.cn"
	EhallHost      = "ehall.xjtu.edu.cn"
	JwxtHost       = "jwxt.xjtu.edu.cn"
	JwappHost      = "jwapp.xjtu.edu.cn"
	AttendanceHost = "bkkq.xjtu.edu.cn"
	GmisHost       = "gmis.xjtu.edu.cn"
	GsteHost       = "gste.xjtu.edu.cn"
	YwtbHost       = "ywtb.xjtu.edu.cn"
	CalendarHost   = "one2020.xjtu.edu.cn"
	DeanHost       = "dean.xjtu.edu.cn"
	GraduateHost   = "gs.xjtu.edu.cn"
	SoftwareHost   = "se.xjtu.edu.cn"

	DefaultCaptcha = "k7x2"
	// the header the rewriting transport uses to tell handlers the scheme
	// the client actually asked for
	schemeHeader = "X-Mock-Scheme"
	// signs the ticket the ywtb site receives
	ticketSecret = "mock-ticket-secret"
)

type User struct {
	Username string
	Password string
	// phone verification is demanded until the client is trusted
	RequireMFA bool
	Phone      string
	SMSCode    string
	// more than one identity makes the portal show the chooser
	Identities []string
}

type flow struct {
	execution string
	service   string
	failN     int
	choosing  *User
}

type guard struct {
	username string
	state    string
	gid      string
	sent     bool
	verified bool
}

type Server struct {
	*httptest.Server
	logger *log.Entry
	key    *rsa.PrivateKey
	pemKey []byte

	// answer the captcha image encodes
	Captcha    string
	MFAEnabled bool
	// delays the attendance flow endpoint, to exercise monitor workers
	FlowDelay time.Duration
	Data      *SiteData

	mu       sync.Mutex
	users    map[string]*User
	flows    map[string]*flow
	tickets  map[string]string // ticket -> username
	codes    map[string]string // oauth code -> username
	tokens   map[string]string // site bearer token -> username
	siteAuth map[string]string // site cookie value -> username
	guards   map[string]*guard // keyed by state and by gid
	verified map[string]bool   // verified mfa states
	trusted  map[string]bool   // username|visitor
	// submitted questionnaires, keyed by class id and evaluatee
	evaluated map[string][]map[string]any

	Requests        atomic.Int64
	CredentialPosts atomic.Int64
	CaptchaFetches  atomic.Int64
	MFADetects      atomic.Int64
	SMSSent         atomic.Int64
}

// one key for every mock, clients cache the portal key by host
var portalKey = sync.OnceValue(func() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		panic(err)
	}
	return key
})

// NewServer starts the mock; it is closed once ctx ends.
func NewServer(ctx context.Context, users ...User) *Server {
	key := portalKey()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		panic(err)
	}
	s := &Server{
		logger:   log.WithField("component", "mock-portal"),
		key:      key,
		pemKey:   pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}),
		Captcha:  DefaultCaptcha,
		Data:     DefaultSiteData(),
		users:    map[string]*User{},
		flows:    map[string]*flow{},
		tickets:  map[string]string{},
		codes:    map[string]string{},
		tokens:   map[string]string{},
		siteAuth: map[string]string{},
		guards:   map[string]*guard{},
		verified: map[string]bool{},
		trusted:  map[string]bool{},

		evaluated: map[string][]map[string]any{},
	}
	for _, u := range users {
		s.AddUser(u)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	go func() {
		<-ctx.Done()
		s.Server.Close()
	}()
	return s
}

func (s *Server) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := u
	s.users[u.Username] = &copied
}

// Transport sends every request to the mock while keeping the original
// host, so cookies and final URLs look like production.
func (s *Server) Transport() http.RoundTripper {
	target, _ := url.Parse(s.URL)
	return &rewriteTransport{target: target, base: http.DefaultTransport}
}

// SessionOptions are services defaults wired to the mock without pacing.
func (s *Server) SessionOptions() services.SessionOptions {
	return services.SessionOptions{
		Logger:    log.WithField("component", "http"),
		Transport: s.Transport(),
		RetryMax:  0,
	}
}

func (s *Server) NewSession() *services.Session {
	return services.NewSession(s.SessionOptions())
}

// HasToken reports whether token was issued to a token site.
func (s *Server) HasToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[token]
	return ok
}

type rewriteTransport struct {
	target *url.URL
	base   http.RoundTripper
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Host = req.URL.Host
	out.URL.Scheme = t.target.Scheme
	out.URL.Host = t.target.Host
	out.Header.Set(schemeHeader, req.URL.Scheme)
	resp, err := t.base.RoundTrip(out)
	if resp != nil {
		resp.Request = req
	}
	return resp, err
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.Requests.Add(1)
	host := r.Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	s.logger.WithFields(log.Fields{"host": host, "method": r.Method, "path": r.URL.Path}).Trace("mock request")
	s.dispatch(w, r, host)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, host string) {
	switch host {
	case PortalHost:
		s.servePortal(w, r)
	case OrgHost:
		s.serveOAuth(w, r)
	case webvpn.Host:
		s.serveWebVPN(w, r)
	case AttendanceHost:
		s.serveAttendance(w, r)
	case JwappHost:
		s.serveJwapp(w, r)
	case JwxtHost:
		s.serveCookieSite(w, r, "GS_SESSIONID", false, s.serveJwxtAPI)
	case EhallHost:
		s.serveCookieSite(w, r, "MOD_AUTH_CAS", false, nil)
	case GmisHost:
		s.serveGmis(w, r)
	case GsteHost:
		s.serveCookieSite(w, r, "GSTE_SESSION", false, nil)
	case YwtbHost:
		s.serveCookieSite(w, r, "YWTB_SESSION", true, nil)
	case CalendarHost:
		s.serveCalendar(w, r)
	case DeanHost, GraduateHost, SoftwareHost:
		s.serveBoard(w, r, host)
	default:
		http.Error(w, "unknown host "+host, http.StatusBadGateway)
	}
}

// absolute rebuilds the URL the client asked for
func absolute(r *http.Request) string {
	scheme := r.Header.Get(schemeHeader)
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func redirectToPortal(w http.ResponseWriter, r *http.Request, service string) {
	target := "https://" + PortalHost + "/cas/login?service=" + url.QueryEscape(service)
	http.Redirect(w, r, target, http.StatusFound)
}

func withParam(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func withoutParam(rawURL, key string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Del(key)
	u.RawQuery = q.Encode()
	return u.String()
}

// ---- portal ----

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html><head><title>统一身份认证</title>
<script>var config = { mfaEnabled: {{.MFA}}, locale: "zh" };</script>
</head><body>
{{if .Alert}}<el-alert title="{{.Alert}}" type="error"></el-alert>{{end}}
<form id="fm1" method="post" action="">
<input type="text" name="username">
<input type="password" name="password">
<input type="hidden" name="execution" value="{{.Execution}}">
<input type="hidden" name="_eventId" value="submit">
</form></body></html>`))

var chooserTemplate = template.Must(template.New("choose").Parse(`<!DOCTYPE html>
<html><body>
<form id="choose" method="post" action="">
<input type="hidden" name="execution" value="{{.Execution}}">
<input type="hidden" name="_eventId" value="choose">
{{range $i, $name := .Identities}}<label><input type="radio" name="identity" value="{{$i}}">{{$name}}</label>
{{end}}</form></body></html>`))

func (s *Server) servePortal(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/cas/login" && r.Method == http.MethodGet:
		s.handleLoginPage(w, r)
	case r.URL.Path == "/cas/login" && r.Method == http.MethodPost:
		s.handleLoginPost(w, r)
	case r.URL.Path == "/cas/jwt/publicKey":
		w.Header().Set("Content-Type", "text/plain")
		w.Write(s.pemKey)
	case r.URL.Path == "/cas/captcha.jpg":
		s.CaptchaFetches.Add(1)
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("\xff\xd8\xff\xe0captcha:" + s.Captcha))
	case r.URL.Path == "/cas/mfa/detect":
		s.handleMFADetect(w, r)
	case strings.HasPrefix(r.URL.Path, "/attest/api/guard/"):
		s.handleGuard(w, r, strings.TrimPrefix(r.URL.Path, "/attest/api/guard/"))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) flowFor(w http.ResponseWriter, r *http.Request) *flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, err := r.Cookie("SESSION"); err == nil {
		if f, ok := s.flows[c.Value]; ok {
			return f
		}
	}
	id := uuid.NewString()
	f := &flow{execution: uuid.NewString()}
	s.flows[id] = f
	http.SetCookie(w, &http.Cookie{Name: "SESSION", Value: id, Path: "/", HttpOnly: true})
	return f
}

func (s *Server) renderLogin(w http.ResponseWriter, status int, f *flow, alert string) {
	s.mu.Lock()
	f.execution = uuid.NewString()
	execution := f.execution
	s.mu.Unlock()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	loginTemplate.Execute(w, map[string]any{"MFA": s.MFAEnabled, "Execution": execution, "Alert": alert})
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	f := s.flowFor(w, r)
	s.mu.Lock()
	f.service = r.URL.Query().Get("service")
	s.mu.Unlock()
	s.renderLogin(w, http.StatusOK, f, "")
}

func (s *Server) decrypt(password string) (string, bool) {
	if !strings.HasPrefix(password, "__RSA__") {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(password, "__RSA__"))
	if err != nil {
		return "", false
	}
	plain, err := rsa.DecryptPKCS1v15(nil, s.key, raw)
	if err != nil {
		return "", false
	}
	return string(plain), true
}

func (s *Server) handleLoginPost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	f := s.flowFor(w, r)
	if r.PostFormValue("_eventId") == "choose" {
		s.handleChoice(w, r, f)
		return
	}
	s.CredentialPosts.Add(1)

	s.mu.Lock()
	execution, failN := f.execution, f.failN
	user, known := s.users[r.PostFormValue("username")]
	s.mu.Unlock()

	if r.PostFormValue("execution") != execution {
		s.renderLogin(w, http.StatusOK, f, "页面已过期，请刷新")
		return
	}
	if failN >= 3 && !strings.EqualFold(r.PostFormValue("captcha"), s.Captcha) {
		s.bumpFail(f)
		s.renderLogin(w, http.StatusOK, f, "验证码错误")
		return
	}
	password, ok := s.decrypt(r.PostFormValue("password"))
	if !ok {
		http.Error(w, "password must be encrypted", http.StatusBadRequest)
		return
	}
	if !known || password != user.Password {
		s.bumpFail(f)
		s.renderLogin(w, http.StatusUnauthorized, f, "")
		return
	}

	visitor := r.PostFormValue("fpVisitorId")
	s.mu.Lock()
	trustKey := user.Username + "|" + visitor
	needMFA := s.MFAEnabled && user.RequireMFA && !s.trusted[trustKey]
	passed := s.verified[r.PostFormValue("mfaState")]
	s.mu.Unlock()
	if needMFA && !passed {
		s.bumpFail(f)
		s.renderLogin(w, http.StatusOK, f, "请先完成二次认证")
		return
	}
	if r.PostFormValue("trustAgent") == "true" {
		s.mu.Lock()
		s.trusted[trustKey] = true
		s.mu.Unlock()
	}

	s.mu.Lock()
	f.failN = 0
	s.mu.Unlock()
	if len(user.Identities) > 1 {
		s.mu.Lock()
		f.choosing = user
		execution := f.execution
		s.mu.Unlock()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		chooserTemplate.Execute(w, map[string]any{"Execution": execution, "Identities": user.Identities})
		return
	}
	s.grantTicket(w, r, f, user.Username)
}

func (s *Server) bumpFail(f *flow) {
	s.mu.Lock()
	f.failN++
	s.mu.Unlock()
}

func (s *Server) handleChoice(w http.ResponseWriter, r *http.Request, f *flow) {
	s.mu.Lock()
	user := f.choosing
	f.choosing = nil
	s.mu.Unlock()
	if user == nil || r.PostFormValue("identity") == "" {
		s.renderLogin(w, http.StatusOK, f, "请选择身份")
		return
	}
	s.grantTicket(w, r, f, user.Username)
}

func (s *Server) grantTicket(w http.ResponseWriter, r *http.Request, f *flow, username string) {
	s.mu.Lock()
	service := f.service
	s.mu.Unlock()
	if service == "" {
		w.Write([]byte("<html><body>登录成功</body></html>"))
		return
	}

	ticket := "ST-" + uuid.NewString()
	if u, err := url.Parse(service); err == nil && u.Hostname() == YwtbHost {
		ticket = s.signedTicket(username)
	}
	s.mu.Lock()
	s.tickets[ticket] = username
	s.mu.Unlock()
	http.Redirect(w, r, withParam(service, "ticket", ticket), http.StatusFound)
}

func (s *Server) signedTicket(username string) string {
	inner := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": username, "typ": "id"})
	innerSigned, _ := inner.SignedString([]byte(ticketSecret))
	outer := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub":     username,
		"iss":     "https://" + PortalHost + "/cas",
		"idToken": innerSigned,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, _ := outer.SignedString([]byte(ticketSecret))
	return signed
}

// IDTokenSubject verifies the inner token a ywtb ticket carries and
// returns the user it names.
func (s *Server) IDTokenSubject(idToken string) (string, error) {
	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(idToken, claims, func(*jwt.Token) (any, error) {
		return []byte(ticketSecret), nil
	}); err != nil {
		return "", err
	}
	return claims.GetSubject()
}

func (s *Server) takeTicket(ticket string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.tickets[ticket]
	delete(s.tickets, ticket)
	return username, ok
}

// ---- mfa ----

type guardReply struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (s *Server) handleMFADetect(w http.ResponseWriter, r *http.Request) {
	s.MFADetects.Add(1)
	if err := r.ParseForm(); err != nil {
		writeJSON(w, guardReply{Code: 1, Message: "bad form"})
		return
	}
	username := r.PostFormValue("username")
	s.mu.Lock()
	user, ok := s.users[username]
	need := ok && user.RequireMFA && !s.trusted[username+"|"+r.PostFormValue("fpVisitorId")]
	state := uuid.NewString()
	if need {
		s.guards[state] = &guard{username: username, state: state}
	}
	s.mu.Unlock()
	writeJSON(w, map[string]any{"code": 0, "data": map[string]any{"state": state, "need": need}})
}

func (s *Server) handleGuard(w http.ResponseWriter, r *http.Request, action string) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, guardReply{Code: 1, Message: "bad form"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch action {
	case "getPhone":
		g, ok := s.guards[r.PostFormValue("state")]
		if !ok {
			writeJSON(w, guardReply{Code: 2, Message: "state expired"})
			return
		}
		if g.gid == "" {
			g.gid = uuid.NewString()
			s.guards[g.gid] = g
		}
		writeJSON(w, guardReply{Data: map[string]string{"gid": g.gid, "phone": maskPhone(s.users[g.username].Phone)}})
	case "send":
		g, ok := s.guards[r.PostFormValue("gid")]
		if !ok || g.gid == "" {
			writeJSON(w, guardReply{Code: 2, Message: "unknown gid"})
			return
		}
		g.sent = true
		s.SMSSent.Add(1)
		writeJSON(w, guardReply{Message: "sent"})
	case "valid":
		g, ok := s.guards[r.PostFormValue("gid")]
		if !ok || !g.sent {
			writeJSON(w, guardReply{Code: 2, Message: "code not sent"})
			return
		}
		if r.PostFormValue("code") != s.users[g.username].SMSCode {
			writeJSON(w, guardReply{Code: 3, Message: "验证码错误"})
			return
		}
		g.verified = true
		s.verified[g.state] = true
		writeJSON(w, guardReply{Message: "ok"})
	default:
		http.NotFound(w, r)
	}
}

func maskPhone(phone string) string {
	if len(phone) < 7 {
		return phone
	}
	return phone[:3] + strings.Repeat("*", len(phone)-7) + phone[len(phone)-4:]
}

// ---- oauth bridge used by attendance and jwapp ----

var oauthApps = map[string]string{"1372": AttendanceHost, "1370": JwappHost}

func (s *Server) serveOAuth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/openplatform/oauth/authorize" {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	if _, ok := oauthApps[q.Get("appId")]; !ok {
		http.Error(w, "unknown app", http.StatusBadRequest)
		return
	}
	ticket := q.Get("ticket")
	if ticket == "" {
		redirectToPortal(w, r, absolute(r))
		return
	}
	username, ok := s.takeTicket(ticket)
	if !ok {
		http.Error(w, "invalid ticket", http.StatusForbidden)
		return
	}
	code := uuid.NewString()
	s.mu.Lock()
	s.codes[code] = username
	s.mu.Unlock()
	http.Redirect(w, r, withParam(q.Get("redirectUri"), "code", code), http.StatusFound)
}

func (s *Server) issueToken(code string, mint func(username string) string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.codes[code]
	if !ok {
		return "", false
	}
	delete(s.codes, code)
	token := mint(username)
	s.tokens[token] = username
	return token, true
}

func (s *Server) tokenUser(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.tokens[token]
	return username, ok
}

// ---- cookie sites ----

// serveCookieSite is the shape of most campus sites: a ticket is traded
// for a cookie, after which pages (and api, when given) are served.
func (s *Server) serveCookieSite(w http.ResponseWriter, r *http.Request, cookie string, keepTicket bool, api http.HandlerFunc) {
	if ticket := r.URL.Query().Get("ticket"); ticket != "" {
		username, ok := s.takeTicket(ticket)
		if !ok {
			http.Error(w, "invalid ticket", http.StatusForbidden)
			return
		}
		value := uuid.NewString()
		s.mu.Lock()
		s.siteAuth[value] = username
		s.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: cookie, Value: value, Path: "/"})
		if keepTicket {
			w.Write([]byte("<html><body>home</body></html>"))
			return
		}
		next := withoutParam(absolute(r), "ticket")
		if service := r.URL.Query().Get("service"); service != "" {
			next = service
		}
		http.Redirect(w, r, next, http.StatusFound)
		return
	}

	if !s.hasSiteCookie(r, cookie) {
		if api != nil && strings.HasSuffix(r.URL.Path, ".do") && r.Method == http.MethodPost {
			http.Error(w, "not logged in", http.StatusUnauthorized)
			return
		}
		redirectToPortal(w, r, absolute(r))
		return
	}
	if r.URL.Path == "/login" {
		if service := r.URL.Query().Get("service"); service != "" {
			http.Redirect(w, r, service, http.StatusFound)
			return
		}
	}
	if api != nil && r.Method == http.MethodPost {
		api(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte("<html><body>home</body></html>"))
}

func (s *Server) hasSiteCookie(r *http.Request, name string) bool {
	c, err := r.Cookie(name)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.siteAuth[c.Value]
	return ok
}

// ---- webvpn gateway ----

const vpnCookie = "wengine_vpn_ticketwebvpn_xjtu_edu_cn"

func (s *Server) serveWebVPN(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/login" || r.URL.Path == "/" {
		s.serveCookieSite(w, r, vpnCookie, false, nil)
		return
	}
	if !s.hasSiteCookie(r, vpnCookie) {
		http.Error(w, "webvpn login required", http.StatusUnauthorized)
		return
	}

	scheme := r.Header.Get(schemeHeader)
	if scheme == "" {
		scheme = "https"
	}
	plain, err := webvpn.Decode(scheme + "://" + webvpn.Host + r.URL.RequestURI())
	if err != nil {
		http.Error(w, "bad webvpn url", http.StatusBadRequest)
		return
	}
	target, err := url.Parse(plain)
	if err != nil {
		http.Error(w, "bad webvpn url", http.StatusBadRequest)
		return
	}

	inner := r.Clone(r.Context())
	inner.Host = target.Host
	inner.URL.Path = target.Path
	inner.URL.RawPath = target.RawPath
	inner.URL.RawQuery = target.RawQuery
	inner.RequestURI = target.RequestURI()
	inner.Header.Set(schemeHeader, target.Scheme)
	s.dispatch(&vpnWriter{ResponseWriter: w}, inner, target.Hostname())
}

// vpnWriter rewrites redirects issued by interior hosts back through the
// gateway, the way the real gateway does.
type vpnWriter struct {
	http.ResponseWriter
	wrote bool
}

func (v *vpnWriter) WriteHeader(status int) {
	if !v.wrote {
		v.wrote = true
		if loc := v.Header().Get("Location"); loc != "" {
			if u, err := url.Parse(loc); err == nil && u.IsAbs() && !webvpn.IsVPN(loc) {
				if enc, err := webvpn.Encode(loc); err == nil {
					v.Header().Set("Location", enc)
				}
			}
		}
	}
	v.ResponseWriter.WriteHeader(status)
}

func (v *vpnWriter) Write(b []byte) (int, error) {
	if !v.wrote {
		v.WriteHeader(http.StatusOK)
	}
	return v.ResponseWriter.Write(b)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	if err := jsonEncode(w, v); err != nil {
		http.Error(w, fmt.Sprintf("encoding: %v", err), http.StatusInternalServerError)
	}
}
