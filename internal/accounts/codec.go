package accounts

import (
	"bytes"
	"crypto/aes"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrWrongKey    = errors.New("wrong key")
	ErrKeyRequired = errors.New("accounts are encrypted, a key is required")
	ErrKeyTooLong  = errors.New("key longer than 32 bytes")
	ErrMalformed   = errors.New("malformed accounts file")
)

// envelope is the on-disk form. Data is either the account list or, when
// Encrypted, the hex of the AES-ECB encrypted list.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	Encrypted bool            `json:"encrypted"`
	Salt      string          `json:"salt,omitempty"`
	MD5       string          `json:"md5,omitempty"`
	Keyring   bool            `json:"keyring,omitempty"`
	Current   *int            `json:"current,omitempty"`
}

// zeroPad pads b with zero bytes to a multiple of the AES block size;
// already aligned input is returned as is.
func zeroPad(b []byte) []byte {
	if len(b)%aes.BlockSize == 0 {
		return b
	}
	out := make([]byte, len(b), len(b)+aes.BlockSize-len(b)%aes.BlockSize)
	copy(out, b)
	return append(out, make([]byte, cap(out)-len(out))...)
}

func paddedKey(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrKeyRequired
	}
	if len(key) > 32 {
		return nil, ErrKeyTooLong
	}
	return zeroPad(key), nil
}

// keyCheck is md5(salt || padded key) where salt is used as its hex text.
func keyCheck(salt string, key []byte) string {
	sum := md5.Sum(append([]byte(salt), key...))
	return hex.EncodeToString(sum[:])
}

func ecb(key, in []byte, decrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(in)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not block aligned", ErrMalformed)
	}
	out := make([]byte, len(in))
	for i := 0; i < len(in); i += aes.BlockSize {
		if decrypt {
			block.Decrypt(out[i:i+aes.BlockSize], in[i:i+aes.BlockSize])
		} else {
			block.Encrypt(out[i:i+aes.BlockSize], in[i:i+aes.BlockSize])
		}
	}
	return out, nil
}

func current(c Collection) *int {
	n := c.Current
	return &n
}

// EncodePlain writes c without encryption.
func EncodePlain(c Collection) ([]byte, error) {
	list, err := json.Marshal(c.Accounts)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(envelope{Data: list, Current: current(c)}, "", "    ")
}

// EncodeEncrypted writes c encrypted with key. A fresh salt is drawn on
// every call.
func EncodeEncrypted(c Collection, key []byte) ([]byte, error) {
	k, err := paddedKey(key)
	if err != nil {
		return nil, err
	}
	list, err := json.Marshal(c.Accounts)
	if err != nil {
		return nil, err
	}
	sealed, err := ecb(k, zeroPad(list), false)
	if err != nil {
		return nil, err
	}
	rawSalt := make([]byte, 16)
	if _, err := rand.Read(rawSalt); err != nil {
		return nil, err
	}
	salt := hex.EncodeToString(rawSalt)
	data, err := json.Marshal(hex.EncodeToString(sealed))
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(envelope{
		Data:      data,
		Encrypted: true,
		Salt:      salt,
		MD5:       keyCheck(salt, k),
		Current:   current(c),
	}, "", "    ")
}

// Decode reads either form. For an encrypted blob the key is checked
// against the stored digest before anything is decrypted, so a wrong key
// fails with ErrWrongKey and never reaches the JSON parser.
func Decode(raw []byte, key []byte) (Collection, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Collection{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	list := []byte(env.Data)
	if env.Encrypted {
		k, err := paddedKey(key)
		if err != nil {
			return Collection{}, err
		}
		if keyCheck(env.Salt, k) != env.MD5 {
			return Collection{}, ErrWrongKey
		}
		var text string
		if err := json.Unmarshal(env.Data, &text); err != nil {
			return Collection{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		sealed, err := hex.DecodeString(text)
		if err != nil {
			return Collection{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		plain, err := ecb(k, sealed, true)
		if err != nil {
			return Collection{}, err
		}
		list = bytes.TrimRight(plain, "\x00")
	}

	c := Collection{Current: 0}
	if len(list) > 0 && string(list) != "null" {
		if err := json.Unmarshal(list, &c.Accounts); err != nil {
			return Collection{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if env.Current != nil {
		c.Current = *env.Current
	}
	c.normalize()
	return c, nil
}

// IsEncrypted reports whether raw holds an encrypted collection.
func IsEncrypted(raw []byte) bool {
	var env envelope
	return json.Unmarshal(raw, &env) == nil && env.Encrypted
}
