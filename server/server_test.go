package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xjtu-toolbox/xjtutoolbox/collection"
	"github.com/xjtu-toolbox/xjtutoolbox/data/db"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/app"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/app/apptest"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()
	a, _ := apptest.New(t)
	ts := httptest.NewServer(New(a).Router())
	t.Cleanup(ts.Close)
	return ts, a
}

func do(t *testing.T, method, url string, body any, header ...string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// until reads events of worker id until pred holds.
func until(t *testing.T, conn *websocket.Conn, id string, pred func(collection.Event) bool) collection.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var ev collection.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Worker == id && pred(ev) {
			return ev
		}
	}
}

func itoa(id uint) string { return strconv.FormatUint(uint64(id), 10) }

func terminal(ev collection.Event) bool { return ev.Kind.Terminal() }

func TestTokenAuth(t *testing.T) {
	ts, a := newTestServer(t)
	hash, err := HashToken("s3cret")
	require.NoError(t, err)
	require.NoError(t, a.Config.Set("server.token_hash", hash))

	assert.Equal(t, http.StatusUnauthorized, do(t, "GET", ts.URL+"/accounts", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, do(t, "POST", ts.URL+"/login", loginRequest{Token: "guess"}).StatusCode)

	resp := do(t, "POST", ts.URL+"/login", loginRequest{Token: "s3cret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	session := decodeBody[loginResponse](t, resp).Session
	require.NotEmpty(t, session)

	resp = do(t, "GET", ts.URL+"/accounts", nil, "Authorization", "Bearer "+session)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accts := decodeBody[[]accountView](t, resp)
	require.Len(t, accts, 1)
	assert.Equal(t, apptest.Student.Username, accts[0].Username)
	assert.True(t, accts[0].Current)

	// metrics stay open for scraping
	assert.Equal(t, http.StatusOK, do(t, "GET", ts.URL+"/metrics", nil).StatusCode)
}

func TestSessionsExpire(t *testing.T) {
	store := newTokenStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	session := store.issue()
	assert.True(t, store.valid(session))

	now = now.Add(59 * time.Second)
	assert.True(t, store.valid(session), "use slides the expiry")
	now = now.Add(2 * time.Minute)
	assert.False(t, store.valid(session))
	assert.False(t, store.valid(""))
}

func TestScheduleOverTheAPI(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, "GET", ts.URL+"/schedule/term", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "nothing imported yet")

	events := dial(t, ts, "/workers/events")
	resp = do(t, "POST", ts.URL+"/workers", app.Job{Kind: app.JobSchedule})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	worker := decodeBody[workerView](t, resp)
	assert.Equal(t, "schedule+exams", worker.Task)
	ev := until(t, events, worker.ID, terminal)
	require.Equal(t, collection.EventFinished, ev.Kind, ev.Detail)

	resp = do(t, "GET", ts.URL+"/schedule/term", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	term := decodeBody[termView](t, resp)
	assert.Equal(t, "2023-2024-2", term.Term)
	require.NotNil(t, term.Start)
	assert.Equal(t, "2024-02-26", *term.Start)

	resp = do(t, "GET", ts.URL+"/schedule/week/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	week := decodeBody[weekView](t, resp)
	require.Len(t, week.Lessons, 2)
	lesson := week.Lessons[0]

	resp = do(t, "PUT", ts.URL+"/schedule/lessons/"+itoa(lesson.ID)+"/status", setStatusRequest{Status: "late"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	name := "Renamed"
	resp = do(t, "PATCH", ts.URL+"/schedule/lessons/"+itoa(lesson.ID), editLessonRequest{Name: &name})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, "PUT", ts.URL+"/schedule/lessons/"+itoa(lesson.ID)+"/status", setStatusRequest{Status: "sleepy"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = do(t, "PUT", ts.URL+"/schedule/lessons/999999/status", setStatusRequest{Status: "late"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	week = decodeBody[weekView](t, do(t, "GET", ts.URL+"/schedule/week/1", nil))
	var edited db.CourseInstance
	for _, l := range week.Lessons {
		if l.ID == lesson.ID {
			edited = l
		}
	}
	assert.Equal(t, "Renamed", edited.Name)
	assert.Equal(t, db.StatusLate, edited.Status)

	exams := decodeBody[[]db.Exam](t, do(t, "GET", ts.URL+"/schedule/exams", nil))
	require.Len(t, exams, 1)
	assert.Equal(t, "12", exams[0].Seat)

	resp = do(t, "GET", ts.URL+"/schedule/export.ics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/calendar")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "BEGIN:VCALENDAR")
}

func TestPromptAnsweredOverTheAPI(t *testing.T) {
	ts, a := newTestServer(t)
	acct, err := a.Account("")
	require.NoError(t, err)
	require.NoError(t, a.Accounts.SetPassword(acct.UUID, "stale"))

	events := dial(t, ts, "/workers/events")
	resp := do(t, "POST", ts.URL+"/workers", app.Job{Kind: app.JobLogin, Site: "ehall"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	worker := decodeBody[workerView](t, resp)

	ev := until(t, events, worker.ID, func(ev collection.Event) bool { return ev.Kind == collection.EventPrompt })
	assert.Equal(t, collection.PromptPassword, ev.Prompt.Kind)

	listed := decodeBody[[]workerView](t, do(t, "GET", ts.URL+"/workers", nil))
	require.Len(t, listed, 1)
	require.NotNil(t, listed[0].Prompt, "a reconnecting client can see the open prompt")

	wk, ok := a.Pool.Get(worker.ID)
	require.True(t, ok)
	resp = do(t, "POST", ts.URL+"/workers/"+worker.ID+"/answer", collection.Answer{Text: apptest.Student.Password})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	ev = until(t, events, worker.ID, terminal)
	assert.Equal(t, collection.EventFinished, ev.Kind, ev.Detail)
	<-wk.Done()

	resp = do(t, "POST", ts.URL+"/workers/"+worker.ID+"/answer", collection.Answer{Text: "late"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBusyAndInvalidJobs(t *testing.T) {
	ts, a := newTestServer(t)
	acct, err := a.Account("")
	require.NoError(t, err)
	require.NoError(t, a.Accounts.SetPassword(acct.UUID, "stale"))

	resp := do(t, "POST", ts.URL+"/workers", app.Job{Kind: app.JobLogin, Site: "jwxt"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	worker := decodeBody[workerView](t, resp)

	// the login holds the jwxt session until its prompt is answered
	require.Eventually(t, func() bool {
		wk, ok := a.Pool.Get(worker.ID)
		return ok && wk.Pending() != nil
	}, 5*time.Second, 10*time.Millisecond)
	resp = do(t, "POST", ts.URL+"/workers", app.Job{Kind: app.JobSchedule})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, "POST", ts.URL+"/workers", map[string]string{"kind": "bake"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, "DELETE", ts.URL+"/workers/"+worker.ID, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp = do(t, "DELETE", ts.URL+"/workers/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLogStream(t *testing.T) {
	ts, a := newTestServer(t)
	conn := dial(t, ts, "/logs?level=warn")

	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
			}
			for _, lvl := range []log.Level{log.DebugLevel, log.WarnLevel} {
				e := log.WithField("component", "test")
				e.Level = lvl
				e.Message = lvl.String() + " line"
				e.Time = time.Now()
				a.Logs.Fire(e)
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var line logLine
	require.NoError(t, conn.ReadJSON(&line))
	assert.Equal(t, "warning", line.Level)
	assert.Equal(t, "warning line", line.Message)
	assert.Equal(t, "test", line.Fields["component"])
}

func TestNotification(t *testing.T) {
	ts, a := newTestServer(t)
	assert.Equal(t, http.StatusNoContent, do(t, "GET", ts.URL+"/notification", nil).StatusCode)

	a.Notifier.Notify(collection.Notification{Title: "2 new scores"})
	n := decodeBody[collection.Notification](t, do(t, "GET", ts.URL+"/notification", nil))
	assert.Equal(t, "2 new scores", n.Title)

	assert.Equal(t, http.StatusNoContent, do(t, "DELETE", ts.URL+"/notification", nil).StatusCode)
	assert.Equal(t, http.StatusNoContent, do(t, "GET", ts.URL+"/notification", nil).StatusCode)
}
