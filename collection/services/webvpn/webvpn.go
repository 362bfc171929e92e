// Package webvpn rewrites campus-internal URLs into the form the WebVPN
// gateway forwards, and back.
package webvpn

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	Host = "webvpn.xjtu.edu.cn"
	key  = "wrdvpnisthebest!"
)

var ErrMalformed = errors.New("malformed webvpn url")

// Codec carries the gateway address. Tests point it at a local server.
type Codec struct {
	Scheme string
	Host   string
	key    []byte
}

var Default = New("https", Host)

func New(scheme, host string) *Codec {
	return &Codec{Scheme: scheme, Host: host, key: []byte(key)}
}

func Encode(rawURL string) (string, error) { return Default.Encode(rawURL) }

func Decode(vpnURL string) (string, error) { return Default.Decode(vpnURL) }

func IsVPN(rawURL string) bool { return Default.IsVPN(rawURL) }

func (c *Codec) prefix() string {
	return c.Scheme + "://" + c.Host
}

// IsVPN reports whether the URL already targets the gateway.
func (c *Codec) IsVPN(rawURL string) bool {
	p := c.prefix()
	return rawURL == p || strings.HasPrefix(rawURL, p+"/")
}

// Encode turns scheme://host[:port]/rest into
// <gateway>/<scheme>[-<port>]/<iv-hex><cipher-hex>/rest
func (c *Codec) Encode(rawURL string) (string, error) {
	// only the first :// counts, login return urls embed another one
	scheme, after, ok := strings.Cut(rawURL, "://")
	if !ok {
		return "", fmt.Errorf("%w: missing scheme in %q", ErrMalformed, rawURL)
	}
	authority, rest := splitAuthority(after)
	host, port, hasPort := strings.Cut(authority, ":")
	if host == "" {
		return "", fmt.Errorf("%w: empty host in %q", ErrMalformed, rawURL)
	}

	cipherHex, err := c.encrypt(host)
	if err != nil {
		return "", err
	}
	segment := scheme
	if hasPort {
		segment += "-" + port
	}
	return c.prefix() + "/" + segment + "/" + hex.EncodeToString(c.key) + cipherHex + rest, nil
}

// Decode is the inverse of Encode.
func (c *Codec) Decode(vpnURL string) (string, error) {
	p := c.prefix() + "/"
	if !strings.HasPrefix(vpnURL, p) {
		return "", fmt.Errorf("%w: %q is not on %s", ErrMalformed, vpnURL, c.Host)
	}
	remainder := strings.TrimPrefix(vpnURL, p)
	segment, remainder, ok := strings.Cut(remainder, "/")
	if !ok {
		return "", fmt.Errorf("%w: no host segment in %q", ErrMalformed, vpnURL)
	}
	scheme, port, hasPort := strings.Cut(segment, "-")

	encoded, rest := splitAuthority(remainder)
	ivHex := hex.EncodeToString(c.key)
	// an iv with nothing after it means no host was ever encrypted
	if !strings.HasPrefix(encoded, ivHex) || len(encoded) == len(ivHex) {
		return "", fmt.Errorf("%w: bad host block in %q", ErrMalformed, vpnURL)
	}
	host, err := c.decrypt(encoded[len(ivHex):])
	if err != nil {
		return "", err
	}
	if hasPort {
		host += ":" + port
	}
	return scheme + "://" + host + rest, nil
}

// splits "host:port/path?q" at the first '/', '?' or '#'
func splitAuthority(s string) (string, string) {
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		return s[:i], s[i:]
	}
	return s, ""
}

func (c *Codec) stream(decrypt bool) (cipher.Stream, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	if decrypt {
		return cipher.NewCFBDecrypter(block, c.key), nil
	}
	return cipher.NewCFBEncrypter(block, c.key), nil
}

func (c *Codec) encrypt(host string) (string, error) {
	stream, err := c.stream(false)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(host))
	stream.XORKeyStream(out, []byte(host))
	return hex.EncodeToString(out), nil
}

func (c *Codec) decrypt(cipherHex string) (string, error) {
	raw, err := hex.DecodeString(cipherHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	stream, err := c.stream(true)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(raw))
	stream.XORKeyStream(out, raw)
	return string(out), nil
}
