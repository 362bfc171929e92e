package sites_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sites"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sso"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sso/testsso"
)

var student = testsso.User{Username: "2210000001", Password: "pw"}

var creds = sites.Credentials{Username: student.Username, Password: student.Password}

func newRegistry(mock *testsso.Server) *sites.Registry {
	return sites.NewRegistry(sites.Config{
		Session:   mock.SessionOptions(),
		VisitorID: "0123456789abcdef0123456789abcdef",
	})
}

func TestAttendanceTokenHeader(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)
	reg := newRegistry(mock)

	for _, method := range []sites.LoginMethod{sites.MethodNormal, sites.MethodWebVPN} {
		t.Run(method.String(), func(t *testing.T) {
			s, err := reg.Get(sites.Attendance)
			require.NoError(t, err)
			require.NoError(t, s.LoginWith(ctx, creds, method))
			assert.True(t, s.HasLogin())
			assert.Equal(t, method, s.Method())

			header := s.Session().Header("Synjones-Auth")
			require.True(t, strings.HasPrefix(header, "bearer "), header)
			assert.True(t, mock.HasToken(strings.TrimPrefix(header, "bearer ")))
		})
	}
}

func TestJwappCarriesJWT(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)

	s, err := newRegistry(mock).Get(sites.Jwapp)
	require.NoError(t, err)
	require.NoError(t, s.Login(ctx, creds))
	token := s.Session().Header("Authorization")
	assert.Equal(t, 2, strings.Count(token, "."))
	assert.True(t, mock.HasToken(token))
}

func TestYwtbIDToken(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)

	s, err := newRegistry(mock).Get(sites.Ywtb)
	require.NoError(t, err)
	require.NoError(t, s.Login(ctx, creds))
	assert.Equal(t, "PC", s.Session().Header("x-device-info"))
	sub, err := mock.IDTokenSubject(s.Session().Header("x-id-token"))
	require.NoError(t, err)
	assert.Equal(t, student.Username, sub)
}

func TestCookieSites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)
	reg := newRegistry(mock)

	for _, site := range []sites.Site{sites.Ehall, sites.Jwxt, sites.Gmis, sites.Gste} {
		t.Run(string(site), func(t *testing.T) {
			s, err := reg.Get(site)
			require.NoError(t, err)
			require.NoError(t, s.Login(ctx, creds))
			assert.True(t, s.HasLogin())
		})
	}
	assert.Equal(t, []sites.Site{sites.Ehall, sites.Jwxt, sites.Gmis, sites.Gste}, reg.Active())
}

func TestWebVPNRewritesRequests(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)

	s, err := newRegistry(mock).Get(sites.Gste)
	require.NoError(t, err)
	require.NoError(t, s.LoginWith(ctx, creds, sites.MethodWebVPN))

	u, err := s.URL("https://gste.xjtu.edu.cn/index.do")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "https://webvpn.xjtu.edu.cn/https/"))

	resp, err := s.Get(ctx, "https://gste.xjtu.edu.cn/index.do")
	body, err := services.ReadBody(resp, err)
	require.NoError(t, err)
	assert.Contains(t, string(body), "home")
}

func TestNoWebVPNVariant(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)

	s, err := newRegistry(mock).Get(sites.Jwapp)
	require.NoError(t, err)
	assert.ErrorIs(t, s.LoginWith(ctx, creds, sites.MethodWebVPN), sites.ErrNoWebVPN)
}

func TestLoginFailureIsServerError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)

	s, err := newRegistry(mock).Get(sites.Ehall)
	require.NoError(t, err)
	err = s.Login(ctx, sites.Credentials{Username: student.Username, Password: "bad"})
	var serverErr *services.ServerError
	require.True(t, errors.As(err, &serverErr))
	assert.Equal(t, services.CodeLoginFail, serverErr.Code)
	assert.False(t, s.HasLogin())
}

func TestIdleTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)

	reg := sites.NewRegistry(sites.Config{Session: mock.SessionOptions(), Timeout: 250 * time.Millisecond})
	s, err := reg.Get(sites.Ehall)
	require.NoError(t, err)
	assert.True(t, s.HasTimeout())

	require.NoError(t, s.EnsureLogin(ctx, creds))
	posts := mock.CredentialPosts.Load()
	require.NoError(t, s.EnsureLogin(ctx, creds))
	assert.Equal(t, posts, mock.CredentialPosts.Load())

	time.Sleep(400 * time.Millisecond)
	assert.True(t, s.HasTimeout())
	assert.False(t, s.HasLogin())
	require.NoError(t, s.EnsureLogin(ctx, creds))
	assert.Equal(t, posts+1, mock.CredentialPosts.Load())
}

func TestInteractiveFlow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)

	s, err := newRegistry(mock).Get(sites.Attendance)
	require.NoError(t, err)
	flow, err := s.Begin(sites.MethodWebVPN, nil)
	require.NoError(t, err)
	require.Equal(t, 2, flow.Steps())

	var names []string
	for {
		d, name, ok, err := flow.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		names = append(names, name)
		res, err := d.Login(ctx, sso.LoginRequest{Username: student.Username, Password: student.Password})
		require.NoError(t, err)
		require.Equal(t, sso.Success, res.State)
	}
	require.NoError(t, flow.Complete())
	assert.Equal(t, []string{"webvpn", "attendance"}, names)
	assert.True(t, s.HasLogin())
}

func TestSetMethodWhileLoggedIn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)
	reg := newRegistry(mock)

	s, err := reg.Get(sites.Attendance)
	require.NoError(t, err)
	require.NoError(t, s.Login(ctx, creds))
	require.Equal(t, sites.MethodNormal, s.Method())

	// settings change from the server while a task reads the session
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.SetMethod(sites.Attendance, sites.MethodWebVPN)
		}()
		go func() {
			defer wg.Done()
			s.HasLogin()
			s.Method()
			_, _ = s.URL("http://bkkq.xjtu.edu.cn/attendance-student/kqtj/getKqtjCurrentWeek")
		}()
	}
	wg.Wait()

	assert.True(t, s.HasLogin())
	assert.Equal(t, sites.MethodNormal, s.Method(), "the live login keeps its transport")
	assert.Equal(t, sites.MethodWebVPN, s.Preferred())
	target, err := s.URL("http://bkkq.xjtu.edu.cn/attendance-student/kqtj/getKqtjCurrentWeek")
	require.NoError(t, err)
	assert.Equal(t, "http://bkkq.xjtu.edu.cn/attendance-student/kqtj/getKqtjCurrentWeek", target)

	require.NoError(t, s.Login(ctx, creds))
	assert.Equal(t, sites.MethodWebVPN, s.Method())
	target, err = s.URL("http://bkkq.xjtu.edu.cn/attendance-student/kqtj/getKqtjCurrentWeek")
	require.NoError(t, err)
	assert.NotEqual(t, "http://bkkq.xjtu.edu.cn/attendance-student/kqtj/getKqtjCurrentWeek", target)
}

func TestRegistry(t *testing.T) {
	reg := sites.NewRegistry(sites.Config{})
	a, err := reg.Get(sites.Jwxt)
	require.NoError(t, err)
	b, err := reg.Get(sites.Jwxt)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = reg.Get(sites.Site("library"))
	assert.ErrorIs(t, err, sites.ErrUnknownSite)

	reg.SetMethod(sites.Jwxt, sites.MethodWebVPN)
	assert.Equal(t, sites.MethodWebVPN, a.Method())

	reg.Reset()
	c, err := reg.Get(sites.Jwxt)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, sites.MethodWebVPN, c.Method())

	m, err := sites.ParseLoginMethod("webvpn")
	require.NoError(t, err)
	assert.Equal(t, sites.MethodWebVPN, m)
	_, err = sites.ParseLoginMethod("carrier pigeon")
	assert.Error(t, err)
}
