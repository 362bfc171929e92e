package collection

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sites"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sso"
)

// SessionKey is the exclusive key of an account's site session.
func SessionKey(creds sites.Credentials, site sites.Site) string {
	return creds.Username + "/" + string(site)
}

// ScheduleSite is where the timetable of creds lives: gmis for
// postgraduates, jwxt for everyone else.
func ScheduleSite(creds sites.Credentials) sites.Site {
	if creds.AccountType == sso.Postgraduate {
		return sites.Gmis
	}
	return sites.Jwxt
}

// ScoreSite is where the grades of creds live.
func ScoreSite(creds sites.Credentials) sites.Site {
	if creds.AccountType == sso.Postgraduate {
		return sites.Gmis
	}
	return sites.Jwapp
}

// Account is what a task needs to reach the sites as one user.
type Account struct {
	Registry *sites.Registry
	Creds    sites.Credentials
}

// session returns a logged in site session, logging in without prompts
// when the session is new or idle.
func (a Account) session(ctx context.Context, w *Worker, site sites.Site) (*sites.SiteSession, error) {
	ss, err := a.Registry.Get(site)
	if err != nil {
		return nil, err
	}
	if ss.HasLogin() {
		return ss, nil
	}
	w.Message(fmt.Sprintf("Logging in to %s", site))
	if err := ss.Login(ctx, a.Creds); err != nil {
		return nil, err
	}
	if !w.CanRun() {
		return nil, ErrStopped
	}
	return ss, nil
}

// LoginTask logs one site in interactively. Captcha, phone verification
// and identity choice are asked through prompts.
type LoginTask struct {
	Account
	Site       sites.Site
	Method     *sites.LoginMethod
	TrustAgent bool
	// how often a rejected password is asked for again
	Retries int
}

func (t *LoginTask) Name() string { return "login:" + string(t.Site) }

func (t *LoginTask) Run(ctx context.Context, w *Worker) error {
	ss, err := t.Registry.Get(t.Site)
	if err != nil {
		return err
	}
	method := ss.Preferred()
	if t.Method != nil {
		method = *t.Method
	}
	flow, err := ss.Begin(method, w.CanRun)
	if err != nil {
		return err
	}

	w.Progress(0)
	for i := 0; ; i++ {
		d, name, ok, err := flow.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		w.Message(fmt.Sprintf("Logging in to %s", name))
		if err := t.drive(ctx, w, d, name); err != nil {
			return err
		}
		w.Progress((i + 1) * 100 / flow.Steps())
	}
	if err := flow.Complete(); err != nil {
		return err
	}
	w.Message("Login succeeded")
	w.SetResult(map[string]string{"site": string(t.Site), "method": method.String()})
	return nil
}

func (t *LoginTask) drive(ctx context.Context, w *Worker, d *sso.Driver, step string) error {
	logger := w.Logger().WithField("step", step)
	req := sso.LoginRequest{Username: t.Creds.Username, Password: t.Creds.Password, TrustAgent: t.TrustAgent}
	retries := 0
	for {
		res, err := d.Login(ctx, req)
		if err != nil {
			return err
		}
		w.pool.metrics.LoginState(step, res.State.String())
		logger.WithField("state", res.State).Debug("login step")
		req = sso.LoginRequest{TrustAgent: t.TrustAgent}

		switch res.State {
		case sso.Success:
			return nil
		case sso.Fail:
			if !w.CanRun() {
				return ErrStopped
			}
			if retries >= t.Retries {
				return services.NewServerError(services.CodeLoginFail, res.Message)
			}
			retries++
			a, err := w.Ask(ctx, Prompt{Kind: PromptPassword, Site: step, Message: res.Message})
			if err != nil {
				return err
			}
			req.Password = a.Text
		case sso.RequireCaptcha:
			img, err := d.Captcha(ctx)
			if err != nil {
				return err
			}
			a, err := w.Ask(ctx, Prompt{Kind: PromptCaptcha, Site: step, Captcha: img})
			if err != nil {
				return err
			}
			req.Captcha = a.Text
		case sso.RequireMFA:
			if err := t.verifyPhone(ctx, w, res.MFA, step, logger); err != nil {
				return err
			}
		case sso.RequireAccountChoice:
			if t.Creds.AccountType != sso.AccountUnspecified {
				req.AccountType = t.Creds.AccountType
				continue
			}
			choice, err := t.choose(ctx, w, res.Choices, step)
			if err != nil {
				return err
			}
			req.AccountType = choice
		}
	}
}

func (t *LoginTask) verifyPhone(ctx context.Context, w *Worker, mfa *sso.MFAContext, step string, logger *log.Entry) error {
	phone, err := mfa.PhoneNumber(ctx)
	if err != nil {
		return err
	}
	if err := mfa.SendVerifyCode(ctx); err != nil {
		return err
	}
	logger.Info("verification code sent")
	for !mfa.Verified() {
		a, err := w.Ask(ctx, Prompt{Kind: PromptMFA, Site: step, Phone: phone})
		if err != nil {
			return err
		}
		if err := mfa.VerifyPhoneCode(ctx, a.Text); err != nil {
			var serverErr *services.ServerError
			if !errors.As(err, &serverErr) {
				return err
			}
			w.Message("Wrong verification code")
		}
	}
	return nil
}

// choose asks for an identity; the answer is an index into choices or the
// identity name itself.
func (t *LoginTask) choose(ctx context.Context, w *Worker, choices []sso.AccountChoice, step string) (sso.AccountType, error) {
	names := make([]string, len(choices))
	for i, c := range choices {
		names[i] = c.Name
	}
	for {
		a, err := w.Ask(ctx, Prompt{Kind: PromptAccountChoice, Site: step, Choices: names})
		if err != nil {
			return sso.AccountUnspecified, err
		}
		for i, c := range choices {
			if a.Text == c.Name || a.Text == strconv.Itoa(i) {
				if typ := c.Type(); typ != sso.AccountUnspecified {
					return typ, nil
				}
			}
		}
		w.Message("Unknown identity, pick one of the listed choices")
	}
}
