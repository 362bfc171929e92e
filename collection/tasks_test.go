package collection

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/background"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/hook"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/notices"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sites"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sso"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sso/testsso"
	"github.com/xjtu-toolbox/xjtutoolbox/data/db"
	"github.com/xjtu-toolbox/xjtutoolbox/data/schedule"
	"github.com/xjtu-toolbox/xjtutoolbox/data/testdb"
)

var student = testsso.User{Username: "2210000001", Password: "pw"}

func account(mock *testsso.Server, creds sites.Credentials) Account {
	return Account{
		Registry: sites.NewRegistry(sites.Config{
			Session:   mock.SessionOptions(),
			VisitorID: "0123456789abcdef0123456789abcdef",
		}),
		Creds: creds,
	}
}

func studentAccount(mock *testsso.Server) Account {
	return account(mock, sites.Credentials{Username: student.Username, Password: student.Password})
}

// drive submits task and answers its prompts until the terminal event.
func drive(t *testing.T, p *Pool, task Task, answer func(Prompt) Answer, opts ...SubmitOption) (*Worker, []Event) {
	t.Helper()
	events, cancel := p.Subscribe()
	defer cancel()
	w, err := p.Submit(context.Background(), task, opts...)
	require.NoError(t, err)

	var got []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Worker != w.ID() {
				continue
			}
			got = append(got, ev)
			if ev.Kind == EventPrompt {
				require.NotNil(t, answer, "unexpected prompt %s", ev.Prompt.Kind)
				require.NoError(t, w.Answer(answer(*ev.Prompt)))
			}
			if ev.Kind.Terminal() {
				return w, got
			}
		case <-timeout:
			t.Fatalf("worker did not finish, got %v", kindsOf(got))
		}
	}
}

func prompts(events []Event) []PromptKind {
	var out []PromptKind
	for _, ev := range events {
		if ev.Kind == EventPrompt {
			out = append(out, ev.Prompt.Kind)
		}
	}
	return out
}

func TestLoginTaskRetriesPasswordThenCaptcha(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)

	task := &LoginTask{
		Account: account(mock, sites.Credentials{Username: student.Username, Password: "bad"}),
		Site:    sites.Ehall,
		Retries: 3,
	}
	passwords := []string{"bad2", "bad3", student.Password}
	w, events := drive(t, NewPool(), task, func(p Prompt) Answer {
		switch p.Kind {
		case PromptPassword:
			next := passwords[0]
			passwords = passwords[1:]
			return Answer{Text: next}
		case PromptCaptcha:
			assert.NotEmpty(t, p.Captcha)
			return Answer{Text: testsso.DefaultCaptcha}
		}
		return Answer{Cancel: true}
	})

	assert.Equal(t, EventFinished, w.Outcome(), kindsOf(events))
	assert.Equal(t, []PromptKind{PromptPassword, PromptPassword, PromptPassword, PromptCaptcha}, prompts(events))
	ss, err := task.Registry.Get(sites.Ehall)
	require.NoError(t, err)
	assert.True(t, ss.HasLogin())
}

func TestLoginTaskWrongPasswordWithoutRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)

	task := &LoginTask{
		Account: account(mock, sites.Credentials{Username: student.Username, Password: "bad"}),
		Site:    sites.Jwxt,
	}
	w, events := drive(t, NewPool(), task, nil)
	assert.Equal(t, EventCanceled, w.Outcome())
	ev, ok := find(events, EventError)
	require.True(t, ok)
	assert.Equal(t, "Server error", ev.Title)
}

func TestLoginTaskPhoneVerification(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	user := testsso.User{Username: "2210000002", Password: "pw", RequireMFA: true, Phone: "13812345678", SMSCode: "246810"}
	mock := testsso.NewServer(ctx, user)
	mock.MFAEnabled = true

	codes := []string{"000000", user.SMSCode}
	task := &LoginTask{
		Account:    account(mock, sites.Credentials{Username: user.Username, Password: user.Password}),
		Site:       sites.Ehall,
		TrustAgent: true,
	}
	w, events := drive(t, NewPool(), task, func(p Prompt) Answer {
		assert.Equal(t, PromptMFA, p.Kind)
		assert.Equal(t, "138****5678", p.Phone)
		code := codes[0]
		codes = codes[1:]
		return Answer{Text: code}
	})
	assert.Equal(t, EventFinished, w.Outcome(), kindsOf(events))
	assert.Equal(t, []PromptKind{PromptMFA, PromptMFA}, prompts(events))
	assert.EqualValues(t, 1, mock.SMSSent.Load())
}

func TestLoginTaskAccountChoice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	user := testsso.User{Username: "3120000003", Password: "pw", Identities: []string{"本科生 2019级", "研究生 2023级"}}
	mock := testsso.NewServer(ctx, user)

	task := &LoginTask{
		Account: account(mock, sites.Credentials{Username: user.Username, Password: user.Password}),
		Site:    sites.Gmis,
	}
	w, events := drive(t, NewPool(), task, func(p Prompt) Answer {
		assert.Equal(t, []string{"本科生 2019级", "研究生 2023级"}, p.Choices)
		return Answer{Text: "1"}
	})
	assert.Equal(t, EventFinished, w.Outcome(), kindsOf(events))
	assert.Equal(t, []PromptKind{PromptAccountChoice}, prompts(events))
}

func importSchedule(t *testing.T, p *Pool, acct Account, sched *schedule.Service) ScheduleSummary {
	t.Helper()
	w, events := drive(t, p, &ScheduleTask{Account: acct, Schedule: sched}, nil)
	require.Equal(t, EventFinished, w.Outcome(), kindsOf(events))
	return w.Result().(ScheduleSummary)
}

func TestScheduleTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)
	sched := schedule.New(testdb.Open(t), nil)

	summary := importSchedule(t, NewPool(), studentAccount(mock), sched)
	assert.Equal(t, ScheduleSummary{Term: "2023-2024-2", Lessons: 2, Exams: 1}, summary)

	term, err := sched.CurrentTerm(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2023-2024-2", term)
	start, ok, err := sched.TermStart(ctx, term)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-02-26", start.Format("2006-01-02"))

	lessons, err := sched.CourseInTerm(ctx, term)
	require.NoError(t, err)
	assert.Len(t, lessons, 16+8)
	exams, err := sched.ExamsInTerm(ctx, term)
	require.NoError(t, err)
	require.Len(t, exams, 1)
	assert.Equal(t, "12", exams[0].Seat)

	// a second import replaces rather than duplicates
	importSchedule(t, NewPool(), studentAccount(mock), sched)
	lessons, err = sched.CourseInTerm(ctx, term)
	require.NoError(t, err)
	assert.Len(t, lessons, 16+8)
}

func lessonAt(t *testing.T, sched *schedule.Service, week, day, start int) db.CourseInstance {
	t.Helper()
	rows, err := sched.CourseInWeek(context.Background(), week, "2023-2024-2")
	require.NoError(t, err)
	for _, r := range rows {
		if r.DayOfWeek == day && r.StartTime == start {
			return r
		}
	}
	t.Fatalf("no lesson in week %d on day %d at period %d", week, day, start)
	return db.CourseInstance{}
}

func TestAttendanceTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)
	sched := schedule.New(testdb.Open(t), nil)
	acct := studentAccount(mock)
	p := NewPool()
	importSchedule(t, p, acct, sched)

	task := NewAttendanceTask(acct, sched)
	w, events := drive(t, p, task, nil, WithMonitor(task.Monitor()))
	require.Equal(t, EventFinished, w.Outcome(), kindsOf(events))
	assert.Equal(t, AttendanceSummary{Term: "2023-2024-2", Records: 1, Swipes: 1, Updated: 2}, w.Result())

	assert.Equal(t, db.StatusLate, lessonAt(t, sched, 5, 1, 1).Status)
	assert.Equal(t, db.StatusChecked, lessonAt(t, sched, 5, 3, 3).Status)
	assert.Equal(t, db.StatusUnknown, lessonAt(t, sched, 6, 3, 3).Status)
}

func TestAttendanceSlowFlowCanBeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)
	mock.FlowDelay = 5 * time.Second
	sched := schedule.New(testdb.Open(t), nil)
	acct := studentAccount(mock)
	p := NewPool()
	importSchedule(t, p, acct, sched)

	task := NewAttendanceTask(acct, sched)
	task.SlowFlow = 50 * time.Millisecond
	events, unsubscribe := p.Subscribe()
	defer unsubscribe()
	w, err := p.Submit(ctx, task, WithMonitor(task.Monitor()))
	require.NoError(t, err)

	var got []Event
	for ev := range events {
		if ev.Worker != w.ID() {
			continue
		}
		got = append(got, ev)
		if ev.Kind == EventMessage && ev.Text == SlowFlowMessage {
			w.Stop()
		}
		if ev.Kind.Terminal() {
			break
		}
	}

	dead, ok := find(got, EventDeadTime)
	require.True(t, ok)
	assert.Equal(t, 2.0, dead.DeadTime)
	assert.Equal(t, EventCanceled, w.Outcome())
	_, failed := find(got, EventError)
	assert.False(t, failed)

	summary := w.Result().(AttendanceSummary)
	assert.True(t, summary.Partial)
	assert.Equal(t, db.StatusLate, lessonAt(t, sched, 5, 1, 1).Status)
	assert.Equal(t, db.StatusUnknown, lessonAt(t, sched, 5, 3, 3).Status)
}

type recordingNotifier struct{ got []Notification }

func (r *recordingNotifier) Notify(n Notification) { r.got = append(r.got, n) }

func TestScoreCheckTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)
	dir := t.TempDir()
	notes := &recordingNotifier{}

	var runner *hook.Runner
	if _, err := os.Stat("/bin/sh"); err == nil {
		runner = hook.New(hook.Config{
			Enabled: true,
			Program: "/bin/sh",
			Args:    []string{"-c", "test -s \"$1\"", "hook", "${payload}"},
			Dir:     filepath.Join(dir, "hooks"),
		}, nil)
	}
	newTask := func() *ScoreCheckTask {
		return &ScoreCheckTask{
			Account:      studentAccount(mock),
			Nickname:     "nick",
			SnapshotPath: filepath.Join(dir, "data", "acct", "score.json"),
			Hook:         runner,
			Notifier:     notes,
		}
	}

	p := NewPool()
	w, events := drive(t, p, newTask(), nil)
	require.Equal(t, EventFinished, w.Outcome(), kindsOf(events))
	first := w.Result().(ScoreSummary)
	assert.Equal(t, 2, first.Total)
	assert.Empty(t, first.New, "the first fetch is the baseline")
	assert.Empty(t, notes.got)

	mock.Data.Scores["2023-2024-2"] = append(mock.Data.Scores["2023-2024-2"],
		map[string]any{"id": "S3", "termCode": "2023-2024-2", "courseName": "线性代数", "score": 88, "coursePoint": 3, "passFlag": true})

	w, events = drive(t, p, newTask(), nil)
	require.Equal(t, EventFinished, w.Outcome(), kindsOf(events))
	second := w.Result().(ScoreSummary)
	assert.Equal(t, 3, second.Total)
	require.Len(t, second.New, 1)
	assert.Equal(t, "线性代数", second.New[0].Name)
	require.Len(t, notes.got, 1)
	assert.Equal(t, "1 new scores", notes.got[0].Title)
	assert.Equal(t, runner != nil, second.Hooked)
}

func TestSchedulerTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)
	dir := t.TempDir()

	var last time.Time
	now := time.Date(2024, 5, 10, 13, 0, 0, 0, time.Local)
	s := NewScheduler(NewPool(), SchedulerConfig{
		Times:       func() []string { return []string{"12:00"} },
		LastFire:    func() time.Time { return last },
		SetLastFire: func(t time.Time) error { last = t; return nil },
		Name:        "score",
		Tasks: func() []Scheduled {
			task := &ScoreCheckTask{
				Account:      studentAccount(mock),
				SnapshotPath: filepath.Join(dir, "score.json"),
			}
			return []Scheduled{{Task: task, Key: SessionKey(task.Creds, ScoreSite(task.Creds))}}
		},
		Now: func() time.Time { return now },
	})

	fired, finished, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, fired)
	assert.EqualValues(t, 1, finished)
	assert.Equal(t, now, last)
	assert.FileExists(t, filepath.Join(dir, "score.json"))

	fired, _, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, fired, "already fired for this slot")
}

var graduate = testsso.User{Username: "3123000001", Password: "pw"}

func graduateAccount(mock *testsso.Server) Account {
	return account(mock, sites.Credentials{Username: graduate.Username, Password: graduate.Password, AccountType: sso.Postgraduate})
}

func TestGraduateScheduleTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, graduate)
	sched := schedule.New(testdb.Open(t), nil)
	acct := graduateAccount(mock)
	p := NewPool()

	w, events := drive(t, p, &ScheduleTask{Account: acct, Schedule: sched}, nil,
		WithKey(SessionKey(acct.Creds, ScheduleSite(acct.Creds))))
	require.Equal(t, EventFinished, w.Outcome(), kindsOf(events))
	assert.Equal(t, ScheduleSummary{Term: "2023-2024-2", Lessons: 2}, w.Result())
	assert.Equal(t, "3123000001/gmis", w.Key())

	start, ok, err := sched.TermStart(ctx, "2023-2024-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-02-26", start.Format(time.DateOnly))
	lessons, err := sched.CourseInTerm(ctx, "2023-2024-2")
	require.NoError(t, err)
	assert.Len(t, lessons, 16+8)

	w, events = drive(t, p, &ScheduleTask{Account: acct, Schedule: sched, SkipLessons: true}, nil)
	ev, failed := find(events, EventError)
	require.True(t, failed, kindsOf(events))
	assert.Contains(t, ev.Detail, ErrNoExams.Error())
}

func TestGraduateScoreCheckTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, graduate)
	acct := graduateAccount(mock)
	assert.Equal(t, sites.Gmis, ScoreSite(acct.Creds))
	assert.Equal(t, sites.Jwapp, ScoreSite(studentAccount(mock).Creds))

	task := &ScoreCheckTask{Account: acct, SnapshotPath: filepath.Join(t.TempDir(), "score.json")}
	w, events := drive(t, NewPool(), task, nil)
	require.Equal(t, EventFinished, w.Outcome(), kindsOf(events))
	assert.Equal(t, 3, w.Result().(ScoreSummary).Total)

	snap, ok, err := background.LoadSnapshot(task.SnapshotPath)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, hook.Score{Name: "矩阵论", Score: "91", Credit: 3}, snap.Scores[0])
}

func TestEmptyRoomTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)

	task := &EmptyRoomTask{
		Account:  studentAccount(mock),
		Campus:   "兴庆校区",
		Building: "主楼A",
		Date:     time.Date(2024, 3, 25, 0, 0, 0, 0, time.Local),
	}
	w, events := drive(t, NewPool(), task, nil)
	require.Equal(t, EventFinished, w.Outcome(), kindsOf(events))
	summary := w.Result().(EmptyRoomSummary)
	assert.Equal(t, "2024-03-25", summary.Date)
	require.Len(t, summary.Rooms, 2)

	busy := func(r RoomDay) []int {
		var out []int
		for i, free := range r.Free {
			if !free {
				out = append(out, i+1)
			}
		}
		return out
	}
	assert.Equal(t, "A-101", summary.Rooms[0].Name)
	assert.Equal(t, []int{1, 2, 3, 4}, busy(summary.Rooms[0]))
	assert.Equal(t, []int{9, 10, 11}, busy(summary.Rooms[1]))

	// codes are accepted as well as names
	task.Campus, task.Building = "1", "102"
	w, _ = drive(t, NewPool(), task, nil)
	require.Equal(t, EventFinished, w.Outcome())
	assert.Len(t, w.Result().(EmptyRoomSummary).Rooms, 1)

	task.Building = "图书馆"
	w, events = drive(t, NewPool(), task, nil)
	ev, failed := find(events, EventError)
	require.True(t, failed)
	assert.Contains(t, ev.Detail, "图书馆")
}

func TestEvaluateTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)
	// a questionnaire without items cannot be handed in
	mock.Data.Questionnaires = append(mock.Data.Questionnaires, map[string]any{
		"BPJS": "赵老师", "BPR": "T004", "JXBID": "C004", "KCM": "体育", "PCDM": "P1", "PGLXDM": "01",
		"PGNR": "C004", "WJDM": "W9", "XNXQDM": "2023-2024-2",
	})
	acct := studentAccount(mock)
	p := NewPool()

	w, events := drive(t, p, &EvaluateTask{Account: acct, Grade: 2, Comment: "很好"}, nil)
	require.Equal(t, EventFinished, w.Outcome(), kindsOf(events))
	summary := w.Result().(EvaluateSummary)
	assert.Equal(t, "2023-2024-2", summary.Term)
	assert.ElementsMatch(t, []string{"大学英语", "高等数学", "大学物理"}, summary.Done)
	assert.Equal(t, []string{"体育"}, summary.Failed)

	sent, ok := mock.Evaluation("C002", "T002")
	require.True(t, ok)
	assert.Equal(t, "B", sent[0]["DA"])
	assert.Equal(t, "很好", sent[2]["ZGDA"])

	// nothing left but the broken one, unless asked to redo
	w, _ = drive(t, p, &EvaluateTask{Account: acct}, nil)
	assert.Empty(t, w.Result().(EvaluateSummary).Done)

	w, events = drive(t, p, &EvaluateTask{Account: acct, Grade: 1, Only: []string{"物理"}, Redo: true}, nil)
	require.Equal(t, EventFinished, w.Outcome(), kindsOf(events))
	assert.Equal(t, []string{"大学物理"}, w.Result().(EvaluateSummary).Done)
	sent, ok = mock.Evaluation("C002", "T002")
	require.True(t, ok)
	assert.Equal(t, "A", sent[0]["DA"])

	w, events = drive(t, p, &EvaluateTask{Account: acct, Grade: 9}, nil)
	_, failed := find(events, EventError)
	assert.True(t, failed)
}

func TestNoticeTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx)
	notes := &recordingNotifier{}
	newTask := func() *NoticeTask {
		return &NoticeTask{
			Session: mock.NewSession(),
			Subscriptions: []notices.Subscription{{
				Source: notices.Dean,
				Rules:  []notices.Ruleset{{{Kind: notices.TagExcludes, Value: "选课"}}},
			}},
			Pages:        2,
			SnapshotPath: filepath.Join(t.TempDir(), "notice.json"),
			Notifier:     notes,
		}
	}
	first := newTask()
	p := NewPool()

	w, events := drive(t, p, first, nil, WithKey(NoticeKey))
	require.Equal(t, EventFinished, w.Outcome(), kindsOf(events))
	summary := w.Result().(NoticeSummary)
	assert.Equal(t, 2, summary.Total)
	assert.Empty(t, summary.New, "the first read is the baseline")
	assert.Empty(t, notes.got)

	board := testsso.DeanHost + "/jxxx/jxtz2.htm"
	mock.Data.Notices[board] = append([]testsso.NoticeEntry{
		{Title: "关于考试纪律的通知", Href: "/info/1011/1005.htm", Date: "2024-02-25", Tag: "考试"},
		{Title: "关于退课的通知", Href: "/info/1011/1004.htm", Date: "2024-02-24", Tag: "选课"},
	}, mock.Data.Notices[board]...)

	second := newTask()
	second.SnapshotPath = first.SnapshotPath
	w, events = drive(t, p, second, nil, WithKey(NoticeKey))
	require.Equal(t, EventFinished, w.Outcome(), kindsOf(events))
	summary = w.Result().(NoticeSummary)
	require.Len(t, summary.New, 1)
	assert.Equal(t, "关于考试纪律的通知", summary.New[0].Title)
	require.Len(t, notes.got, 1)
	assert.Equal(t, "1 new notices", notes.got[0].Title)
}
