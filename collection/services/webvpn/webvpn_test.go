package webvpn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKnownURL(t *testing.T) {
	plain := "https://kns.cnki.net/KCMS/detail/detail.aspx?dbcode=CJFQ"
	want := "https://webvpn.xjtu.edu.cn/https/77726476706e69737468656265737421fbf952d2243e635930068cb8/KCMS/detail/detail.aspx?dbcode=CJFQ"

	got, err := Encode(plain)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	back, err := Decode(got)
	require.NoError(t, err)
	assert.Equal(t, plain, back)
}

func TestRoundTrip(t *testing.T) {
	urls := []string{
		"http://bkkq.xjtu.edu.cn",
		"http://bkkq.xjtu.edu.cn/",
		"http://bkkq.xjtu.edu.cn:8080/attendance-student/global/getNearTerm",
		"https://login.xjtu.edu.cn/cas/login?service=https://ehall.xjtu.edu.cn/new/index.html",
		"https://jwxt.xjtu.edu.cn?x=1",
		"https://a.b#frag",
	}
	for _, u := range urls {
		t.Run(u, func(t *testing.T) {
			enc, err := Encode(u)
			require.NoError(t, err)
			assert.True(t, IsVPN(enc))
			dec, err := Decode(enc)
			require.NoError(t, err)
			assert.Equal(t, u, dec)
		})
	}
}

func TestPortGoesIntoSchemeSegment(t *testing.T) {
	enc, err := Encode("http://org.xjtu.edu.cn:8443/x")
	require.NoError(t, err)
	assert.Contains(t, enc, "/http-8443/")
}

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		"https://example.com/https/77726476706e69737468656265737421ab/",
		"https://webvpn.xjtu.edu.cn/https/77726476706e69737468656265737421/KCMS",
		"https://webvpn.xjtu.edu.cn/https/00000000000000000000000000000000ab/KCMS",
		"https://webvpn.xjtu.edu.cn/https",
		"https://webvpn.xjtu.edu.cn/https/77726476706e69737468656265737421zz/",
	}
	for _, c := range cases {
		_, err := Decode(c)
		assert.ErrorIs(t, err, ErrMalformed, c)
	}
}

func TestEncodeRejectsEmptyHost(t *testing.T) {
	_, err := Encode("https:///path")
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = Encode("no-scheme")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCustomGateway(t *testing.T) {
	c := New("http", "127.0.0.1:9999")
	enc, err := c.Encode("https://login.xjtu.edu.cn/cas/login")
	require.NoError(t, err)
	assert.True(t, c.IsVPN(enc))
	assert.False(t, IsVPN(enc))
	dec, err := c.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, "https://login.xjtu.edu.cn/cas/login", dec)
}
