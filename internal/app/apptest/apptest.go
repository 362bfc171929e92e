// Package apptest builds an App in a temp dir whose site sessions talk to a
// mock portal.
package apptest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sso/testsso"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/accounts"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/app"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/config"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/paths"
)

var Student = testsso.User{Username: "2210000001", Password: "pw"}

// New returns an App with Student as its current account.
func New(t testing.TB, users ...testsso.User) (*app.App, *testsso.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if len(users) == 0 {
		users = []testsso.User{Student}
	}
	mock := testsso.NewServer(ctx, users...)

	dirs := paths.Under(t.TempDir())
	require.NoError(t, dirs.Ensure())
	cfg, err := config.Load(dirs.ConfigFile())
	require.NoError(t, err)
	store := app.NewAccountStore(dirs, cfg)
	require.NoError(t, store.Load(nil))
	for _, u := range users {
		_, err := store.Add(accounts.Account{Username: u.Username, Password: u.Password})
		require.NoError(t, err)
	}

	a := app.New(dirs, cfg, store, app.WithSessionOptions(func() services.SessionOptions {
		return mock.SessionOptions()
	}))
	t.Cleanup(func() { a.Close(context.Background()) })
	return a, mock
}
