// Package app wires the account store, the schedule databases and the
// worker pool together. The CLI and the local API both drive the toolbox
// through an App.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/xjtu-toolbox/xjtutoolbox/collection"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/background"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/hook"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sites"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sso"
	"github.com/xjtu-toolbox/xjtutoolbox/data"
	"github.com/xjtu-toolbox/xjtutoolbox/data/schedule"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/accounts"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/config"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/logging"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/paths"
)

var ErrNoCurrentAccount = errors.New("no account selected")

type App struct {
	Dirs     paths.Dirs
	Config   *config.Manager
	Accounts *accounts.Store
	Pool     *collection.Pool
	Notifier *collection.Latest
	Logs     *logging.Fanout

	logger   *log.Entry
	validate *validator.Validate
	session  func() services.SessionOptions
	portal   sso.Portal

	mu         sync.Mutex
	registries map[string]*sites.Registry
	schedules  map[string]*schedule.Service
	hook       *hook.Runner
	unsub      func()
}

type Option func(*App)

// WithSessionOptions replaces the HTTP options every site session starts
// from; tests use it to reach a mock portal.
func WithSessionOptions(fn func() services.SessionOptions) Option {
	return func(a *App) { a.session = fn }
}

func WithPortal(p sso.Portal) Option { return func(a *App) { a.portal = p } }

func WithPool(p *collection.Pool) Option { return func(a *App) { a.Pool = p } }

func WithFanout(f *logging.Fanout) Option { return func(a *App) { a.Logs = f } }

func New(dirs paths.Dirs, cfg *config.Manager, store *accounts.Store, opts ...Option) *App {
	a := &App{
		Dirs:       dirs,
		Config:     cfg,
		Accounts:   store,
		logger:     log.WithField("component", "app"),
		validate:   validator.New(),
		registries: map[string]*sites.Registry{},
		schedules:  map[string]*schedule.Service{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.Pool == nil {
		a.Pool = collection.NewPool(collection.WithMetrics(collection.NewMetrics()))
	}
	if a.Logs == nil {
		a.Logs = logging.NewFanout()
	}
	if a.session == nil {
		a.session = a.defaultSession
	}
	a.Notifier = collection.NewLatest(collection.LogNotifier{Logger: log.WithField("component", "notify")})
	a.unsub = store.Subscribe(a.onAccountEvent)
	return a
}

// NewAccountStore builds the store the config asks for; Load still has to
// be called.
func NewAccountStore(dirs paths.Dirs, cfg *config.Manager) *accounts.Store {
	return accounts.New(dirs.AccountsFile(), dirs.AccountsRoot(),
		accounts.UseKeyring(cfg.Account.UseKeyring),
		accounts.WithLogger(log.WithField("component", "accounts")))
}

func (a *App) defaultSession() services.SessionOptions {
	opts := services.DefaultSessionOptions()
	cfg := a.Config.HTTP
	if cfg.RateLimitMS > 0 {
		every := rate.Every(time.Duration(cfg.RateLimitMS) * time.Millisecond)
		opts.Limiter = services.NewAdaptiveRateLimiter(every, 5, every)
	}
	opts.RetryMax = cfg.RetryMax
	opts.UserAgent = a.Config.Login.UserAgent
	return opts
}

func (a *App) onAccountEvent(ev accounts.Event) {
	switch ev.Kind {
	case accounts.AccountDeleted:
		if ev.Account != nil {
			a.forget(ev.Account.UUID)
		}
	case accounts.AccountCleared:
		a.forget("")
	}
}

// forget drops the cached sessions and database of one account, or of all
// of them when id is empty.
func (a *App) forget(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, svc := range a.schedules {
		if id != "" && key != id {
			continue
		}
		if err := svc.Store().Close(); err != nil {
			a.logger.WithError(err).Warn("closing schedule database")
		}
		delete(a.schedules, key)
	}
	for key := range a.registries {
		if id == "" || key == id {
			delete(a.registries, key)
		}
	}
}

// Account finds an account by uuid or username; an empty id is the current
// account.
func (a *App) Account(id string) (accounts.Account, error) {
	if id == "" {
		acct, ok := a.Accounts.Current()
		if !ok {
			return accounts.Account{}, ErrNoCurrentAccount
		}
		return acct, nil
	}
	return a.Accounts.Find(id)
}

// Credentials is how the site layer sees an account. The stored type
// answers the identity chooser without asking.
func Credentials(acct accounts.Account) sites.Credentials {
	typ := sso.Undergraduate
	if acct.Type == accounts.Postgraduate {
		typ = sso.Postgraduate
	}
	return sites.Credentials{Username: acct.Username, Password: acct.Password, AccountType: typ}
}

// Registry returns the account's site sessions, kept for the life of the
// App so logins are reused.
func (a *App) Registry(acct accounts.Account) (*sites.Registry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.registries[acct.UUID]; ok {
		return r, nil
	}
	method, err := sites.ParseLoginMethod(a.Config.Login.AttendanceMethod)
	if err != nil {
		return nil, err
	}
	opts := a.session()
	opts.Logger = log.WithFields(log.Fields{"component": "http", "account": acct.DisplayName()})
	r := sites.NewRegistry(sites.Config{
		Session:   opts,
		VisitorID: a.Config.Login.VisitorID,
		Portal:    a.portal,
		Methods:   map[sites.Site]sites.LoginMethod{sites.Attendance: method},
	})
	a.registries[acct.UUID] = r
	return r, nil
}

func (a *App) collectionAccount(acct accounts.Account) (collection.Account, error) {
	r, err := a.Registry(acct)
	if err != nil {
		return collection.Account{}, err
	}
	return collection.Account{Registry: r, Creds: Credentials(acct)}, nil
}

// Schedule opens the account's schedule database on first use.
func (a *App) Schedule(acct accounts.Account) (*schedule.Service, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if svc, ok := a.schedules[acct.UUID]; ok {
		return svc, nil
	}
	if err := os.MkdirAll(a.Dirs.AccountDir(acct.UUID), 0o755); err != nil {
		return nil, err
	}
	logger := log.WithFields(log.Fields{"component": "schedule", "account": acct.DisplayName()})
	store, err := data.Open(a.Dirs.ScheduleDB(acct.UUID), data.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("opening schedule of %s: %w", acct.DisplayName(), err)
	}
	svc := schedule.New(store, logger)
	a.schedules[acct.UUID] = svc
	return svc, nil
}

// Hook is the score hook built from the current config.
func (a *App) Hook() *hook.Runner {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hook == nil {
		a.hook = hook.New(a.hookConfig(), log.WithField("component", "hook"))
	}
	return a.hook
}

// ReloadHook applies changed hook settings; cooldowns start over.
func (a *App) ReloadHook() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hook = nil
}

func (a *App) hookConfig() hook.Config {
	h := a.Config.Hook.Score
	return hook.Config{
		Enabled:     h.Enabled,
		Program:     h.Program,
		Args:        h.Args,
		Cooldown:    h.Cooldown,
		KeepPayload: h.KeepPayload,
		IncludeAll:  h.IncludeAll,
		Dir:         a.Dirs.HookDir(),
	}
}

// ScoreTask is the grade check of one account.
func (a *App) ScoreTask(acct accounts.Account, force bool) (*collection.ScoreCheckTask, error) {
	ca, err := a.collectionAccount(acct)
	if err != nil {
		return nil, err
	}
	return &collection.ScoreCheckTask{
		Account:      ca,
		Nickname:     acct.DisplayName(),
		SnapshotPath: a.Dirs.ScoreSnapshot(acct.UUID),
		Hook:         a.Hook(),
		Notifier:     a.Notifier,
		Force:        force,
	}, nil
}

// Scheduler runs the background grade check for every account at the
// configured times.
func (a *App) Scheduler() *collection.Scheduler {
	return a.timer("score", func() config.Timer { return a.Config.Background.Score }, func() []collection.Scheduled {
		var jobs []collection.Scheduled
		for _, acct := range a.Accounts.Accounts() {
			task, err := a.ScoreTask(acct, false)
			if err != nil {
				a.logger.WithError(err).WithField("account", acct.DisplayName()).Warn("skipping grade check")
				continue
			}
			jobs = append(jobs, collection.Scheduled{
				Task: task,
				Key:  collection.SessionKey(task.Creds, collection.ScoreSite(task.Creds)),
			})
		}
		return jobs
	})
}

// NoticeScheduler reads the subscribed notice boards at the configured
// times. Boards are public, no account is involved.
func (a *App) NoticeScheduler() *collection.Scheduler {
	return a.timer("notice", func() config.Timer { return a.Config.Background.Notice }, func() []collection.Scheduled {
		return []collection.Scheduled{{Task: a.NoticeTask(), Key: collection.NoticeKey}}
	})
}

// NoticeTask checks the subscriptions of the current config.
func (a *App) NoticeTask() *collection.NoticeTask {
	opts := a.session()
	opts.Logger = log.WithField("component", "http")
	return &collection.NoticeTask{
		Session:       services.NewSession(opts),
		Subscriptions: a.Config.Notice.Subscriptions,
		Pages:         a.Config.Notice.Pages,
		SnapshotPath:  a.Dirs.NoticeSnapshot(),
		Notifier:      a.Notifier,
	}
}

func (a *App) timer(name string, cfg func() config.Timer, tasks func() []collection.Scheduled) *collection.Scheduler {
	key := "background." + name + ".last_fire"
	return collection.NewScheduler(a.Pool, collection.SchedulerConfig{
		Name: name,
		Times: func() []string {
			if !cfg().Enabled {
				return nil
			}
			return cfg().Times
		},
		LastFire: func() time.Time {
			t, err := background.ParseStamp(cfg().LastFire)
			if err != nil {
				a.logger.WithError(err).Warn(key + " unreadable")
			}
			return t
		},
		SetLastFire: func(t time.Time) error {
			if err := a.Config.Set(key, t.Format(background.StampLayout)); err != nil {
				return err
			}
			return a.Config.Save()
		},
		Tasks: tasks,
	})
}

// Close stops every worker and closes the open databases.
func (a *App) Close(ctx context.Context) error {
	err := a.Pool.Shutdown(ctx)
	if a.unsub != nil {
		a.unsub()
	}
	a.forget("")
	return err
}
