package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/xjtu-toolbox/xjtutoolbox/internal/accounts"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/app"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/config"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/logging"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/paths"
)

type env struct {
	dirs paths.Dirs
	cfg  *config.Manager
	logs io.Closer
}

// legacyDir is where releases before the move to the OS directories kept
// their files: a config folder next to the executable.
func legacyDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(exe), "config"), nil
}

// loadEnv resolves the directories, migrates a legacy install, reads the
// config and sets up logging.
func loadEnv() (*env, error) {
	var dirs paths.Dirs
	if dataDirFlag != "" {
		dirs = paths.Under(dataDirFlag)
	} else {
		d, err := paths.Default()
		if err != nil {
			return nil, err
		}
		dirs = d
	}
	if err := dirs.Ensure(); err != nil {
		return nil, err
	}

	if dataDirFlag == "" {
		if old, err := legacyDir(); err == nil {
			if moved, err := paths.MigrateLegacy(old, dirs); err != nil {
				log.WithError(err).Warn("could not migrate the legacy config directory")
			} else if moved {
				log.WithField("from", old).Info("migrated legacy data")
			}
		}
	}

	cfg, err := config.Load(dirs.ConfigFile())
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	closer, err := logging.Setup(level, dirs.Log)
	if err != nil {
		return nil, err
	}
	return &env{dirs: dirs, cfg: cfg, logs: closer}, nil
}

// openStore loads accounts.json, asking for the key when it is encrypted.
// After three wrong keys it offers to clear every account.
func openStore(e *env) (*accounts.Store, error) {
	store := app.NewAccountStore(e.dirs, e.cfg)
	needsKey, err := store.NeedsKey()
	if err != nil {
		return nil, err
	}
	if !needsKey {
		return store, store.Load(nil)
	}
	for i := 0; i < promptRetries; i++ {
		key, err := readSecret("Enter the accounts key: ")
		if err != nil {
			return nil, err
		}
		err = store.Load([]byte(key))
		if err == nil {
			return store, nil
		}
		if !errors.Is(err, accounts.ErrWrongKey) && !errors.Is(err, accounts.ErrMalformed) {
			return nil, err
		}
		fmt.Println("The key is wrong. Please try again.")
	}
	if confirm("Could not unlock the accounts. Remove every account and start over?") {
		if err := store.Clear(); err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, accounts.ErrWrongKey
}

// openApp is the setup every command touching accounts goes through. The
// returned func shuts the App down.
func openApp() (*app.App, func(), error) {
	e, err := loadEnv()
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore(e)
	if err != nil {
		e.logs.Close()
		return nil, nil, err
	}
	fanout := logging.NewFanout()
	log.AddHook(fanout)
	a := app.New(e.dirs, e.cfg, store, app.WithFanout(fanout))
	return a, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			log.WithError(err).Warn("workers did not stop in time")
		}
		e.logs.Close()
	}, nil
}

func selectedAccount(a *app.App) (accounts.Account, error) {
	return a.Account(accountFlag)
}
