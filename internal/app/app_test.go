package app_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xjtu-toolbox/xjtutoolbox/collection"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/accounts"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/app"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/app/apptest"
)

func wait(t *testing.T, w *collection.Worker) collection.EventKind {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not finish")
	}
	return w.Outcome()
}

func TestScheduleJobFillsTheAccountDatabase(t *testing.T) {
	a, _ := apptest.New(t)
	ctx := context.Background()

	w, err := a.Start(ctx, app.Job{Kind: app.JobSchedule})
	require.NoError(t, err)
	require.Equal(t, collection.EventFinished, wait(t, w))

	acct, err := a.Account("")
	require.NoError(t, err)
	sched, err := a.Schedule(acct)
	require.NoError(t, err)
	assert.FileExists(t, a.Dirs.ScheduleDB(acct.UUID))

	term, err := sched.CurrentTerm(ctx)
	require.NoError(t, err)
	lessons, err := sched.CourseInTerm(ctx, term)
	require.NoError(t, err)
	assert.NotEmpty(t, lessons)
}

func TestJobValidation(t *testing.T) {
	a, _ := apptest.New(t)
	ctx := context.Background()

	_, err := a.Start(ctx, app.Job{Kind: "bake"})
	assert.Error(t, err)
	_, err = a.Start(ctx, app.Job{Kind: app.JobLogin})
	assert.Error(t, err, "login needs a site")
	_, err = a.Start(ctx, app.Job{Kind: app.JobScores, Account: "nobody"})
	assert.ErrorIs(t, err, accounts.ErrNoAccount)
}

func TestLoginJobReusesTheSession(t *testing.T) {
	a, _ := apptest.New(t)
	ctx := context.Background()

	w, err := a.Start(ctx, app.Job{Kind: app.JobLogin, Site: "ehall"})
	require.NoError(t, err)
	require.Equal(t, collection.EventFinished, wait(t, w))

	acct, err := a.Account("")
	require.NoError(t, err)
	r, err := a.Registry(acct)
	require.NoError(t, err)
	ss, err := r.Get("ehall")
	require.NoError(t, err)
	assert.True(t, ss.HasLogin())

	again, err := a.Registry(acct)
	require.NoError(t, err)
	assert.Same(t, r, again)
}

func TestRemovingAnAccountForgetsItsSessions(t *testing.T) {
	a, _ := apptest.New(t)
	acct, err := a.Account("")
	require.NoError(t, err)
	r, err := a.Registry(acct)
	require.NoError(t, err)
	_, err = a.Schedule(acct)
	require.NoError(t, err)

	require.NoError(t, a.Accounts.Remove(acct.UUID))
	_, err = a.Account("")
	assert.ErrorIs(t, err, app.ErrNoCurrentAccount)

	again, err := a.Registry(acct)
	require.NoError(t, err)
	assert.NotSame(t, r, again)
}

func TestSchedulerRunsEveryAccount(t *testing.T) {
	a, _ := apptest.New(t)
	require.NoError(t, a.Config.Set("background.score.enabled", true))
	require.NoError(t, a.Config.Set("background.score.times", []string{"00:00"}))

	fired, finished, err := a.Scheduler().Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, fired)
	assert.EqualValues(t, 1, finished)
	assert.NotEmpty(t, a.Config.Background.Score.LastFire)

	acct, err := a.Account("")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(a.Dirs.AccountDir(acct.UUID), "score.json"))
}

func TestDisabledSchedulerNeverFires(t *testing.T) {
	a, _ := apptest.New(t)
	fired, _, err := a.Scheduler().Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestEmptyRoomJob(t *testing.T) {
	a, _ := apptest.New(t)
	ctx := context.Background()

	_, err := a.Start(ctx, app.Job{Kind: app.JobEmptyRooms, Campus: "兴庆校区"})
	assert.Error(t, err, "a building is needed")
	_, err = a.Start(ctx, app.Job{Kind: app.JobEmptyRooms, Campus: "兴庆校区", Building: "主楼A", Date: "tomorrow"})
	assert.Error(t, err)

	w, err := a.Start(ctx, app.Job{Kind: app.JobEmptyRooms, Campus: "兴庆校区", Building: "主楼A", Date: "2024-03-04"})
	require.NoError(t, err)
	require.Equal(t, collection.EventFinished, wait(t, w))
	summary := w.Result().(collection.EmptyRoomSummary)
	assert.Equal(t, "2024-03-04", summary.Date)
	assert.NotEmpty(t, summary.Rooms)
}

func TestEvaluateJobRejectsBadGrades(t *testing.T) {
	a, _ := apptest.New(t)
	_, err := a.Start(context.Background(), app.Job{Kind: app.JobEvaluate, Grade: 6})
	assert.Error(t, err)
}

func TestNoticeScheduler(t *testing.T) {
	a, _ := apptest.New(t)
	require.NoError(t, a.Config.Set("background.notice.enabled", true))
	require.NoError(t, a.Config.Set("background.notice.times", []string{"00:00"}))

	fired, finished, err := a.NoticeScheduler().Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, fired)
	assert.EqualValues(t, 1, finished)
	assert.NotEmpty(t, a.Config.Background.Notice.LastFire)
	assert.Empty(t, a.Config.Background.Score.LastFire)
	assert.FileExists(t, a.Dirs.NoticeSnapshot())

	// a manual run reads the same boards
	w, err := a.Start(context.Background(), app.Job{Kind: app.JobNotices})
	require.NoError(t, err)
	require.Equal(t, collection.EventFinished, wait(t, w))
	summary := w.Result().(collection.NoticeSummary)
	assert.Equal(t, 2, summary.Total)
	assert.Empty(t, summary.New)
}
