// Package accounts stores the campus accounts the toolbox logs in with,
// either as plain JSON, AES encrypted with a user key, or with the
// secrets kept in the OS keyring.
package accounts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type AccountType int

const (
	Undergraduate AccountType = iota
	Postgraduate
)

func (t AccountType) String() string {
	if t == Postgraduate {
		return "POSTGRADUATE"
	}
	return "UNDERGRADUATE"
}

func (t AccountType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts the name or its number; anything unknown is an
// undergraduate.
func (t *AccountType) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*t = AccountType(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("account type: %w", err)
	}
	if strings.EqualFold(s, "POSTGRADUATE") {
		*t = Postgraduate
	} else {
		*t = Undergraduate
	}
	return nil
}

func ParseAccountType(s string) (AccountType, error) {
	switch strings.ToUpper(s) {
	case "", "UNDERGRADUATE":
		return Undergraduate, nil
	case "POSTGRADUATE":
		return Postgraduate, nil
	}
	return Undergraduate, fmt.Errorf("unknown account type %q", s)
}

type Account struct {
	Username   string      `json:"username" validate:"required"`
	Password   string      `json:"password"`
	Nickname   string      `json:"nickname"`
	UUID       string      `json:"uuid" validate:"required,uuid"`
	AvatarPath string      `json:"avatar_path"`
	Type       AccountType `json:"type"`
}

// DisplayName is the nickname, or the username when there is none.
func (a Account) DisplayName() string {
	if a.Nickname != "" {
		return a.Nickname
	}
	return a.Username
}

// Collection is every account plus the index of the current one, -1 when
// there are none.
type Collection struct {
	Accounts []Account
	Current  int
}

// normalize fills what old files lack: a uuid per account and a current
// index that points at an account.
func (c *Collection) normalize() {
	for i := range c.Accounts {
		if c.Accounts[i].UUID == "" {
			c.Accounts[i].UUID = uuid.NewString()
		}
	}
	if len(c.Accounts) == 0 {
		c.Current = -1
	} else if c.Current < 0 || c.Current >= len(c.Accounts) {
		c.Current = 0
	}
}
