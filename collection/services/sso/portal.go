package sso

// Login entry points. A GET on any of these lands on the portal login form
// and, once authenticated, returns to the site.
const (
	EhallLoginURL        = "https://ehall.xjtu.edu.cn/login?service=https://ehall.xjtu.edu.cn/new/index.html?browser=no"
	WebVPNLoginURL       = "https://webvpn.xjtu.edu.cn/login?oauth_login=true"
	AttendanceLoginURL   = "http://org.xjtu.edu.cn/openplatform/oauth/authorize?appId=1372&redirectUri=http://bkkq.xjtu.edu.cn/berserker-auth/auth/attendance-pc/casReturn&responseType=code&scope=user_info&state=1234"
	AttendanceWebVPNURL  = "http://bkkq.xjtu.edu.cn"
	JwxtLoginURL         = "https://jwxt.xjtu.edu.cn/jwapp/sys/homeapp/index.do"
	JwappLoginURL        = "https://org.xjtu.edu.cn/openplatform/oauth/authorize?appId=1370&redirectUri=http://jwapp.xjtu.edu.cn/app/index&responseType=code&scope=user_info&state=1234"
	GmisLoginURL         = "https://gmis.xjtu.edu.cn/pyxx/sso/login"
	GsteLoginURL         = "https://gste.xjtu.edu.cn/login.do"
	YwtbLoginURL         = "https://ywtb.xjtu.edu.cn/?path=https%3A%2F%2Fywtb.xjtu.edu.cn%2Fmain.html%23%2F"
	DefaultPortalBaseURL = "https://login.xjtu.edu.cn"
)

// Portal names the endpoints of the login portal itself.
type Portal struct {
	Base string
}

var DefaultPortal = Portal{Base: DefaultPortalBaseURL}

func (p Portal) PublicKeyURL() string { return p.Base + "/cas/jwt/publicKey" }
func (p Portal) CaptchaURL() string   { return p.Base + "/cas/captcha.jpg" }
func (p Portal) MFADetectURL() string { return p.Base + "/cas/mfa/detect" }
func (p Portal) GuardPhoneURL() string {
	return p.Base + "/attest/api/guard/getPhone"
}
func (p Portal) GuardSendURL() string  { return p.Base + "/attest/api/guard/send" }
func (p Portal) GuardValidURL() string { return p.Base + "/attest/api/guard/valid" }
