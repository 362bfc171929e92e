// Package sso walks the campus login portal. A Driver is a small state
// machine: each Login call either finishes or reports what the caller has to
// supply next (a captcha, a phone code, or an identity choice) and is then
// called again.
package sso

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/webvpn"
)

type State int

const (
	Success State = iota
	Fail
	RequireCaptcha
	RequireMFA
	RequireAccountChoice
)

func (s State) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case Fail:
		return "FAIL"
	case RequireCaptcha:
		return "REQUIRE_CAPTCHA"
	case RequireMFA:
		return "REQUIRE_MFA"
	case RequireAccountChoice:
		return "REQUIRE_ACCOUNT_CHOICE"
	}
	return "UNKNOWN"
}

type AccountType int

const (
	AccountUnspecified AccountType = iota
	Undergraduate
	Postgraduate
)

// the substring of an identity label that selects each account type
func (t AccountType) marker() string {
	switch t {
	case Undergraduate:
		return "本科"
	case Postgraduate:
		return "研究"
	}
	return ""
}

const captchaThreshold = 3

var (
	ErrAlreadyLoggedIn    = errors.New("driver already completed a login")
	ErrCanceled           = errors.New("login canceled")
	ErrMissingCredentials = errors.New("username and password are required on the first login call")
	ErrMissingExecution   = errors.New("login page has no execution token")
	ErrNoMatchingAccount  = errors.New("no identity matches the requested account type")
	ErrMFANotVerified     = errors.New("phone verification has not completed")
)

const (
	wrongPasswordMessage = "wrong username or password"
	canceledMessage      = "canceled"
)

type LoginRequest struct {
	Username    string
	Password    string
	Captcha     string
	AccountType AccountType
	TrustAgent  bool
}

type AccountChoice struct {
	Name  string
	Label string
}

// Type is the account type whose marker the identity name carries.
func (c AccountChoice) Type() AccountType {
	for _, t := range []AccountType{Undergraduate, Postgraduate} {
		if strings.Contains(c.Name, t.marker()) {
			return t
		}
	}
	return AccountUnspecified
}

type Result struct {
	State   State
	Message string
	MFA     *MFAContext
	Choices []AccountChoice
	Session *services.Session
}

// PostLoginFunc runs once the portal hands control back to the site. It
// extracts whatever token the site needs and stores it on the session.
type PostLoginFunc func(ctx context.Context, d *Driver, final *url.URL) error

type Driver struct {
	session   *services.Session
	codec     *webvpn.Codec
	portal    Portal
	loginURL  string
	postLogin PostLoginFunc
	canRun    func() bool
	logger    *log.Entry

	postURL    string
	execution  string
	mfaEnabled bool
	visitorID  string
	failCount  int

	username string
	password string

	mfa        *MFAContext
	mfaState   string
	mfaChecked bool
	chooser    *chooserForm
	hasLogin   bool
}

type Option func(*Driver)

func WithPortal(p Portal) Option { return func(d *Driver) { d.portal = p } }

// WithWebVPN sends every request through the gateway described by codec.
func WithWebVPN(codec *webvpn.Codec) Option { return func(d *Driver) { d.codec = codec } }

func WithVisitorID(id string) Option { return func(d *Driver) { d.visitorID = id } }

func WithPostLogin(fn PostLoginFunc) Option { return func(d *Driver) { d.postLogin = fn } }

// WithCanRun installs the cooperative cancel check polled after every
// request.
func WithCanRun(fn func() bool) Option { return func(d *Driver) { d.canRun = fn } }

func WithLogger(l *log.Entry) Option { return func(d *Driver) { d.logger = l } }

// New bootstraps a login flow: it follows loginURL to the portal form and
// reads the execution token and the MFA switch from it.
func New(ctx context.Context, loginURL string, session *services.Session, opts ...Option) (*Driver, error) {
	d := &Driver{
		session:  session,
		portal:   DefaultPortal,
		loginURL: loginURL,
		canRun:   func() bool { return true },
		logger:   session.Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.visitorID == "" {
		d.visitorID = VisitorID()
	}
	d.logger = d.logger.WithFields(log.Fields{"login": loginURL, "webvpn": d.codec != nil})

	resp, err := d.Get(ctx, loginURL)
	body, err := services.ReadBody(resp, err)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping login: %w", err)
	}
	page, err := parseLoginPage(body, resp.Request.URL)
	if err != nil {
		return nil, services.Unparseable("login page: %v", err)
	}
	if page.execution == "" {
		return nil, errors.Join(ErrMissingExecution, services.ErrIncorrectAssumption)
	}
	d.postURL = resp.Request.URL.String()
	d.execution = page.execution
	d.mfaEnabled = page.mfaEnabled
	d.logger.WithField("mfaEnabled", d.mfaEnabled).Debug("reached login form")
	return d, nil
}

func (d *Driver) Session() *services.Session { return d.session }

func (d *Driver) FailCount() int { return d.failCount }

func (d *Driver) HasLogin() bool { return d.hasLogin }

func (d *Driver) MFAEnabled() bool { return d.mfaEnabled }

// URL returns the address actually requested for rawURL.
func (d *Driver) URL(rawURL string) (string, error) {
	if d.codec == nil || d.codec.IsVPN(rawURL) {
		return rawURL, nil
	}
	return d.codec.Encode(rawURL)
}

func (d *Driver) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	target, err := d.URL(rawURL)
	if err != nil {
		return nil, err
	}
	return d.session.Get(ctx, target)
}

func (d *Driver) PostForm(ctx context.Context, rawURL string, form url.Values) (*http.Response, error) {
	target, err := d.URL(rawURL)
	if err != nil {
		return nil, err
	}
	return d.session.PostForm(ctx, target, form)
}

// Captcha fetches a fresh captcha image. Every call invalidates the
// previous one, so callers should cache it.
func (d *Driver) Captcha(ctx context.Context) ([]byte, error) {
	return services.ReadBody(d.Get(ctx, d.portal.CaptchaURL()))
}

func (d *Driver) canceled() Result {
	d.logger.Info("login canceled")
	return Result{State: Fail, Message: canceledMessage}
}

// Login advances the flow by one step.
func (d *Driver) Login(ctx context.Context, req LoginRequest) (Result, error) {
	if d.hasLogin {
		return Result{}, ErrAlreadyLoggedIn
	}
	if d.chooser != nil {
		if req.AccountType == AccountUnspecified {
			return Result{State: RequireAccountChoice, Choices: d.chooser.choices}, nil
		}
		return d.completeChoice(ctx, req.AccountType)
	}

	if req.Username != "" {
		d.username = req.Username
	}
	if req.Password != "" {
		d.password = req.Password
	}
	if d.username == "" || d.password == "" {
		return Result{}, ErrMissingCredentials
	}

	if d.failCount >= captchaThreshold && req.Captcha == "" {
		return Result{State: RequireCaptcha}, nil
	}

	key, err := d.publicKey(ctx)
	if err != nil {
		return Result{}, err
	}
	if !d.canRun() {
		return d.canceled(), nil
	}
	encrypted, err := EncryptPassword(key, d.password)
	if err != nil {
		return Result{}, err
	}

	if d.mfaEnabled && !d.mfaChecked {
		if d.mfa == nil {
			need, state, err := d.detectMFA(ctx, encrypted)
			if err != nil {
				return Result{}, err
			}
			if !d.canRun() {
				return d.canceled(), nil
			}
			d.mfaState = state
			if !need {
				d.mfaChecked = true
			} else {
				d.mfa = &MFAContext{driver: d, state: state}
				return Result{State: RequireMFA, MFA: d.mfa}, nil
			}
		} else if !d.mfa.Verified() {
			return Result{State: RequireMFA, MFA: d.mfa}, nil
		} else {
			d.mfaChecked = true
		}
	}

	return d.submit(ctx, encrypted, req)
}

func (d *Driver) submit(ctx context.Context, encrypted string, req LoginRequest) (Result, error) {
	trust := ""
	if req.TrustAgent {
		trust = "true"
	}
	form := url.Values{
		"username":    {d.username},
		"password":    {encrypted},
		"execution":   {d.execution},
		"_eventId":    {"submit"},
		"submit1":     {"Login1"},
		"fpVisitorId": {d.visitorID},
		"captcha":     {req.Captcha},
		"currentMenu": {"1"},
		"failN":       {strconv.Itoa(d.failCount)},
		"mfaState":    {d.mfaState},
		"geolocation": {""},
		"trustAgent":  {trust},
	}
	resp, err := d.PostForm(ctx, d.postURL, form)
	if err != nil {
		return Result{}, services.RespOrStatusErr(nil, err)
	}
	if !d.canRun() {
		resp.Body.Close()
		return d.canceled(), nil
	}

	if resp.StatusCode == http.StatusUnauthorized {
		body, _ := readAll(resp)
		d.refreshExecution(body, resp.Request.URL)
		d.failCount++
		d.logger.WithField("failCount", d.failCount).Info("portal rejected credentials")
		return Result{State: Fail, Message: wrongPasswordMessage}, nil
	}
	body, err := services.ReadBody(resp, nil)
	if err != nil {
		return Result{}, err
	}
	return d.interpret(ctx, body, resp.Request.URL)
}

func (d *Driver) interpret(ctx context.Context, body []byte, final *url.URL) (Result, error) {
	page, err := parseLoginPage(body, final)
	if err != nil {
		return Result{}, services.Unparseable("login response: %v", err)
	}
	if page.hasAlert {
		if page.execution != "" {
			d.execution = page.execution
		}
		d.failCount++
		d.logger.WithFields(log.Fields{"failCount": d.failCount, "alert": page.alert}).Info("portal showed an alert")
		return Result{State: Fail, Message: page.alert}, nil
	}
	if page.chooser != nil {
		d.chooser = page.chooser
		return Result{State: RequireAccountChoice, Choices: page.chooser.choices}, nil
	}

	d.failCount = 0
	return d.finish(ctx, final)
}

func (d *Driver) completeChoice(ctx context.Context, accountType AccountType) (Result, error) {
	chooser := d.chooser
	var picked *AccountChoice
	for i, c := range chooser.choices {
		if strings.Contains(c.Name, accountType.marker()) {
			picked = &chooser.choices[i]
			break
		}
	}
	if picked == nil {
		return Result{State: Fail, Message: ErrNoMatchingAccount.Error()}, nil
	}

	form := url.Values{}
	for k, v := range chooser.fields {
		form[k] = v
	}
	form.Set(chooser.radio, picked.Label)
	resp, err := d.PostForm(ctx, chooser.action.String(), form)
	body, err := services.ReadBody(resp, err)
	if err != nil {
		return Result{}, err
	}
	if !d.canRun() {
		return d.canceled(), nil
	}
	d.chooser = nil
	d.logger.WithField("identity", picked.Name).Debug("identity chosen")
	return d.interpret(ctx, body, resp.Request.URL)
}

func (d *Driver) finish(ctx context.Context, final *url.URL) (Result, error) {
	if d.postLogin != nil {
		if err := d.postLogin(ctx, d, final); err != nil {
			return Result{}, err
		}
		if !d.canRun() {
			return d.canceled(), nil
		}
	}
	d.hasLogin = true
	d.logger.Info("login succeeded")
	return Result{State: Success, Session: d.session}, nil
}

func (d *Driver) refreshExecution(body []byte, base *url.URL) {
	if len(body) == 0 {
		return
	}
	if page, err := parseLoginPage(body, base); err == nil && page.execution != "" {
		d.execution = page.execution
	}
}

// LoginOrRaise runs the whole flow for callers that cannot answer prompts.
// Every state other than SUCCESS comes back as a *services.ServerError.
func LoginOrRaise(ctx context.Context, d *Driver, username, password string, accountType AccountType) (*services.Session, error) {
	res, err := d.Login(ctx, LoginRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	if res.State == RequireAccountChoice && accountType != AccountUnspecified {
		res, err = d.Login(ctx, LoginRequest{AccountType: accountType})
		if err != nil {
			return nil, err
		}
	}
	switch res.State {
	case Success:
		return res.Session, nil
	case Fail:
		if res.Message == canceledMessage && !d.canRun() {
			return nil, ErrCanceled
		}
		return nil, services.NewServerError(services.CodeLoginFail, res.Message)
	case RequireCaptcha:
		return nil, services.NewServerError(services.CodeCaptchaRequired, "captcha required")
	case RequireMFA:
		return nil, services.NewServerError(services.CodeMFARequired, "phone verification required")
	default:
		return nil, services.NewServerError(services.CodeAccountChoice, "identity choice required")
	}
}
