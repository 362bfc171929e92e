package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
)

type EventKind string

const (
	AccountAdded               EventKind = "accountAdded"
	AccountDeleted             EventKind = "accountDeleted"
	CurrentAccountChanged      EventKind = "currentAccountChanged"
	AccountEncryptStateChanged EventKind = "accountEncryptStateChanged"
	AccountDecrypted           EventKind = "accountDecrypted"
	AccountCleared             EventKind = "accountCleared"
)

// Event is delivered synchronously on the goroutine that changed the store.
// Account is set for the add, delete and current events.
type Event struct {
	Kind      EventKind
	Account   *Account
	Encrypted bool
}

var (
	ErrNoAccount = errors.New("no such account")
	// ErrAmbiguous is returned when a username is shared by several
	// accounts (one per account type); use the uuid instead.
	ErrAmbiguous = errors.New("username matches more than one account")
)

// Store owns accounts.json and the per account data directories.
type Store struct {
	path    string
	dataDir string
	ring    Keyring
	logger  *log.Entry
	check   *validator.Validate

	mu         sync.Mutex
	accounts   []Account
	current    int
	encrypted  bool
	useKeyring bool
	key        []byte
	listeners  map[int]func(Event)
	nextListen int
}

type Option func(*Store)

func WithKeyring(k Keyring) Option { return func(s *Store) { s.ring = k } }

// UseKeyring keeps secrets in the keyring instead of the file. It has no
// effect while the store is encrypted.
func UseKeyring(on bool) Option { return func(s *Store) { s.useKeyring = on } }

func WithLogger(l *log.Entry) Option { return func(s *Store) { s.logger = l } }

// New returns an empty store for path; call Load to read it. Account data
// directories are created under dataDir.
func New(path, dataDir string, opts ...Option) *Store {
	s := &Store{
		path:      path,
		dataDir:   dataDir,
		current:   -1,
		check:     validator.New(),
		listeners: map[int]func(Event){},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ring == nil {
		s.ring = NewSystemKeyring()
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "accounts")
	}
	return s
}

// Subscribe registers fn for every event and returns its cancel func.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// emit must be called without s.mu held.
func (s *Store) emit(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// NeedsKey reports whether the file on disk is encrypted.
func (s *Store) NeedsKey() (bool, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return IsEncrypted(raw), nil
}

// Load reads the file. key is only needed for an encrypted file and is
// kept for later saves. A missing file is an empty store.
func (s *Store) Load(key []byte) error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.mu.Lock()
		s.accounts, s.current = nil, -1
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}
	c, err := Decode(raw, key)
	if err != nil {
		return err
	}
	encrypted := IsEncrypted(raw)

	var env envelope
	_ = json.Unmarshal(raw, &env)
	if env.Keyring && !encrypted {
		s.fillSecrets(&c)
	}

	s.mu.Lock()
	s.accounts = c.Accounts
	s.current = c.Current
	s.encrypted = encrypted
	if encrypted {
		s.key = append([]byte(nil), key...)
	}
	s.mu.Unlock()

	if encrypted {
		s.emit(Event{Kind: AccountDecrypted, Encrypted: true})
	}
	return nil
}

// fillSecrets copies passwords from the keyring onto c by uuid.
func (s *Store) fillSecrets(c *Collection) {
	secret, err := s.ring.Get(KeyringService, keyringUser)
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			s.logger.WithError(err).Warn("reading keyring")
		}
		return
	}
	var stored []Account
	if err := json.Unmarshal([]byte(secret), &stored); err != nil {
		s.logger.WithError(err).Warn("keyring entry is not an account list")
		return
	}
	byUUID := map[string]string{}
	for _, a := range stored {
		byUUID[a.UUID] = a.Password
	}
	for i := range c.Accounts {
		if pw, ok := byUUID[c.Accounts[i].UUID]; ok {
			c.Accounts[i].Password = pw
		}
	}
}

func (s *Store) collection() Collection {
	return Collection{Accounts: append([]Account(nil), s.accounts...), Current: s.current}
}

// Save writes the file in the form the store is in. An encrypted store
// never writes a plaintext password, and a keyring store writes them only
// to the keyring.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

func (s *Store) save() error {
	c := s.collection()
	var (
		raw []byte
		err error
	)
	switch {
	case s.encrypted:
		raw, err = EncodeEncrypted(c, s.key)
	case s.useKeyring:
		raw, err = s.encodeWithKeyring(c)
	default:
		raw, err = EncodePlain(c)
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) encodeWithKeyring(c Collection) ([]byte, error) {
	secret, err := json.Marshal(c.Accounts)
	if err != nil {
		return nil, err
	}
	if err := s.ring.Set(KeyringService, keyringUser, string(secret)); err != nil {
		return nil, err
	}
	bare := Collection{Accounts: make([]Account, len(c.Accounts)), Current: c.Current}
	for i, a := range c.Accounts {
		a.Password = ""
		bare.Accounts[i] = a
	}
	list, err := json.Marshal(bare.Accounts)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(envelope{Data: list, Keyring: true, Current: current(bare)}, "", "    ")
}

func (s *Store) Accounts() []Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Account(nil), s.accounts...)
}

func (s *Store) Encrypted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encrypted
}

// Current returns the current account; ok is false when there is none.
func (s *Store) Current() (Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current < 0 || s.current >= len(s.accounts) {
		return Account{}, false
	}
	return s.accounts[s.current], true
}

// indexOf resolves id as a uuid first, then as a username when exactly one
// account has it.
func (s *Store) indexOf(id string) (int, error) {
	for i, a := range s.accounts {
		if a.UUID == id {
			return i, nil
		}
	}
	found := -1
	for i, a := range s.accounts {
		if a.Username != id {
			continue
		}
		if found >= 0 {
			return -1, fmt.Errorf("%w: %s", ErrAmbiguous, id)
		}
		found = i
	}
	if found < 0 {
		return -1, fmt.Errorf("%w: %s", ErrNoAccount, id)
	}
	return found, nil
}

// Find looks an account up by uuid or username.
func (s *Store) Find(id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.indexOf(id)
	if err != nil {
		return Account{}, err
	}
	return s.accounts[i], nil
}

// DataDir is where the account's schedule database and caches live.
func (s *Store) DataDir(a Account) string { return filepath.Join(s.dataDir, a.UUID) }

// Add stores a, giving it a uuid and a data directory. The first account
// becomes current.
func (s *Store) Add(a Account) (Account, error) {
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	if err := s.check.Struct(a); err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	for _, b := range s.accounts {
		if b.UUID == a.UUID {
			s.mu.Unlock()
			return Account{}, fmt.Errorf("account %s already exists", a.UUID)
		}
		if b.Username == a.Username {
			s.logger.WithFields(log.Fields{"username": a.Username, "type": a.Type, "other": b.Type}).
				Warn("username already stored, address these accounts by uuid")
		}
	}
	if err := os.MkdirAll(s.DataDir(a), 0o755); err != nil {
		s.mu.Unlock()
		return Account{}, err
	}
	prevAccounts, prevCurrent := s.accounts, s.current
	s.accounts = append(append([]Account(nil), s.accounts...), a)
	first := s.current < 0
	if first {
		s.current = len(s.accounts) - 1
	}
	err := s.save()
	if err != nil {
		s.accounts, s.current = prevAccounts, prevCurrent
	}
	s.mu.Unlock()
	if err != nil {
		return Account{}, err
	}

	s.logger.WithField("account", a.DisplayName()).Info("account added")
	s.emit(Event{Kind: AccountAdded, Account: &a})
	if first {
		s.emit(Event{Kind: CurrentAccountChanged, Account: &a})
	}
	return a, nil
}

// Remove deletes the account and its data directory.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	i, err := s.indexOf(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	removed := s.accounts[i]
	prevAccounts, prevCurrent := s.accounts, s.current
	s.accounts = append(append([]Account(nil), s.accounts[:i]...), s.accounts[i+1:]...)
	wasCurrent := i == s.current
	switch {
	case len(s.accounts) == 0:
		s.current = -1
	case i < s.current:
		s.current--
	case wasCurrent:
		s.current = 0
	}
	var next *Account
	if wasCurrent && s.current >= 0 {
		a := s.accounts[s.current]
		next = &a
	}
	if err := s.save(); err != nil {
		s.accounts, s.current = prevAccounts, prevCurrent
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if err := os.RemoveAll(s.DataDir(removed)); err != nil {
		s.logger.WithError(err).Warn("could not remove account data")
	}
	s.emit(Event{Kind: AccountDeleted, Account: &removed})
	if wasCurrent {
		s.emit(Event{Kind: CurrentAccountChanged, Account: next})
	}
	return nil
}

func (s *Store) SetCurrent(id string) error {
	s.mu.Lock()
	i, err := s.indexOf(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	changed, prev := i != s.current, s.current
	s.current = i
	a := s.accounts[i]
	if err = s.save(); err != nil {
		s.current = prev
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		s.emit(Event{Kind: CurrentAccountChanged, Account: &a})
	}
	return nil
}

// Rename changes the nickname. Renaming the current account counts as a
// change of current account so views refresh.
func (s *Store) Rename(id, nickname string) error {
	return s.update(id, func(a *Account) { a.Nickname = nickname })
}

func (s *Store) SetPassword(id, password string) error {
	return s.update(id, func(a *Account) { a.Password = password })
}

func (s *Store) update(id string, fn func(*Account)) error {
	s.mu.Lock()
	i, err := s.indexOf(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	prev := s.accounts[i]
	fn(&s.accounts[i])
	a := s.accounts[i]
	isCurrent := i == s.current
	if err = s.save(); err != nil {
		s.accounts[i] = prev
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if isCurrent {
		s.emit(Event{Kind: CurrentAccountChanged, Account: &a})
	}
	return nil
}

// Encrypt switches to the encrypted form with key and rewrites the file.
func (s *Store) Encrypt(key []byte) error {
	if _, err := paddedKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	s.encrypted = true
	s.key = append([]byte(nil), key...)
	err := s.save()
	if err != nil {
		s.encrypted, s.key = false, nil
	}
	useKeyring := s.useKeyring
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if useKeyring {
		// secrets now live in the encrypted file only
		_ = s.ring.Delete(KeyringService, keyringUser)
	}
	s.emit(Event{Kind: AccountEncryptStateChanged, Encrypted: true})
	return nil
}

// Decrypt switches back to the unencrypted form.
func (s *Store) Decrypt() error {
	s.mu.Lock()
	s.encrypted = false
	s.key = nil
	err := s.save()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.emit(Event{Kind: AccountEncryptStateChanged, Encrypted: false})
	return nil
}

// Clear removes every account and its data, turns encryption off and
// forgets the keyring entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.accounts = nil
	s.current = -1
	s.encrypted = false
	s.key = nil
	err := s.save()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	_ = s.ring.Delete(KeyringService, keyringUser)
	if err := os.RemoveAll(s.dataDir); err != nil {
		return err
	}
	s.logger.Info("all accounts cleared")
	s.emit(Event{Kind: AccountCleared})
	return nil
}
