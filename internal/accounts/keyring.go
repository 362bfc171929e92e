package accounts

import (
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
)

const (
	KeyringService = "XJTUToolbox"
	keyringUser    = "accounts"
)

// Keyring is the slice of an OS secret store the accounts need.
type Keyring interface {
	Get(service, user string) (string, error)
	Set(service, user, secret string) error
	Delete(service, user string) error
}

type systemKeyring struct{}

func (systemKeyring) Get(service, user string) (string, error) { return keyring.Get(service, user) }

func (systemKeyring) Set(service, user, secret string) error {
	return keyring.Set(service, user, secret)
}

func (systemKeyring) Delete(service, user string) error { return keyring.Delete(service, user) }

// SafeKeyring turns backend failures into warnings: Get reports not found
// and Set and Delete do nothing. Desktops without a secret service keep
// working, just without stored secrets.
type SafeKeyring struct {
	Inner  Keyring
	Logger *log.Entry
}

func NewSystemKeyring() *SafeKeyring {
	return &SafeKeyring{Inner: systemKeyring{}, Logger: log.WithField("component", "keyring")}
}

func (k *SafeKeyring) Get(service, user string) (string, error) {
	secret, err := k.Inner.Get(service, user)
	if err == nil || errors.Is(err, keyring.ErrNotFound) {
		return secret, err
	}
	k.Logger.WithError(err).Warn("keyring unavailable, get ignored")
	return "", keyring.ErrNotFound
}

func (k *SafeKeyring) Set(service, user, secret string) error {
	if err := k.Inner.Set(service, user, secret); err != nil {
		k.Logger.WithError(err).Warn("keyring unavailable, set ignored")
	}
	return nil
}

func (k *SafeKeyring) Delete(service, user string) error {
	err := k.Inner.Delete(service, user)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		k.Logger.WithError(err).Warn("keyring unavailable, delete ignored")
	}
	return nil
}
