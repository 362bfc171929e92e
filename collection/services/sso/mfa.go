package sso

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
)

// MFAContext drives the phone verification the portal asks for when it
// does not trust the device. After VerifyPhoneCode succeeds the caller
// calls Login again.
type MFAContext struct {
	driver   *Driver
	state    string
	gid      string
	phone    string
	verified bool
}

type guardResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (d *Driver) detectMFA(ctx context.Context, encryptedPassword string) (need bool, state string, err error) {
	var resp struct {
		Code int `json:"code"`
		Data struct {
			State string `json:"state"`
			Need  bool   `json:"need"`
		} `json:"data"`
	}
	form := url.Values{
		"username":    {d.username},
		"password":    {encryptedPassword},
		"fpVisitorId": {d.visitorID},
	}
	r, err := d.PostForm(ctx, d.portal.MFADetectURL(), form)
	if err := services.DecodeJSON(r, err, &resp); err != nil {
		return false, "", err
	}
	if resp.Code != 0 {
		return false, "", services.NewServerError(resp.Code, "mfa detection failed")
	}
	return resp.Data.Need, resp.Data.State, nil
}

func (m *MFAContext) guard(ctx context.Context, endpoint string, form url.Values, data any) error {
	var resp guardResponse
	r, err := m.driver.PostForm(ctx, endpoint, form)
	if err := services.DecodeJSON(r, err, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return services.NewServerError(resp.Code, resp.Message)
	}
	if data != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, data); err != nil {
			return services.Unparseable("guard response: %v", err)
		}
	}
	return nil
}

// PhoneNumber returns the masked phone number codes will be sent to.
func (m *MFAContext) PhoneNumber(ctx context.Context) (string, error) {
	if m.phone != "" {
		return m.phone, nil
	}
	var data struct {
		GID   string `json:"gid"`
		Phone string `json:"phone"`
	}
	if err := m.guard(ctx, m.driver.portal.GuardPhoneURL(), url.Values{"state": {m.state}}, &data); err != nil {
		return "", err
	}
	m.gid, m.phone = data.GID, data.Phone
	return m.phone, nil
}

func (m *MFAContext) SendVerifyCode(ctx context.Context) error {
	if m.gid == "" {
		if _, err := m.PhoneNumber(ctx); err != nil {
			return err
		}
	}
	return m.guard(ctx, m.driver.portal.GuardSendURL(), url.Values{"gid": {m.gid}}, nil)
}

func (m *MFAContext) VerifyPhoneCode(ctx context.Context, code string) error {
	if m.gid == "" {
		return ErrMFANotVerified
	}
	if err := m.guard(ctx, m.driver.portal.GuardValidURL(), url.Values{"gid": {m.gid}, "code": {code}}, nil); err != nil {
		return err
	}
	m.verified = true
	return nil
}

func (m *MFAContext) Verified() bool { return m.verified }

func readAll(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
