package sso

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
)

const rsaPrefix = "__RSA__"

// public keys per portal, the portal rotates them rarely
var publicKeys = cache.New(6*time.Hour, 30*time.Minute)

func (d *Driver) publicKey(ctx context.Context) (*rsa.PublicKey, error) {
	cacheKey := d.portal.Base
	if d.codec != nil {
		cacheKey = d.codec.Host + "|" + cacheKey
	}
	if k, ok := publicKeys.Get(cacheKey); ok {
		return k.(*rsa.PublicKey), nil
	}
	body, err := services.ReadBody(d.Get(ctx, d.portal.PublicKeyURL()))
	if err != nil {
		return nil, err
	}
	key, err := parsePublicKey(body)
	if err != nil {
		return nil, err
	}
	publicKeys.Set(cacheKey, key, cache.DefaultExpiration)
	return key, nil
}

func parsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, services.Unparseable("public key is not PEM")
	}
	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if rsaKey, ok := pub.(*rsa.PublicKey); ok {
			return rsaKey, nil
		}
		return nil, services.Unparseable("public key is not RSA")
	}
	rsaKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, services.Unparseable("parsing public key: %v", err)
	}
	return rsaKey, nil
}

// EncryptPassword produces the portal's "__RSA__<base64>" password form.
func EncryptPassword(key *rsa.PublicKey, password string) (string, error) {
	cipherText, err := rsa.EncryptPKCS1v15(rand.Reader, key, []byte(password))
	if err != nil {
		return "", err
	}
	return rsaPrefix + base64.StdEncoding.EncodeToString(cipherText), nil
}
