package jwxt_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/jwxt"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sites"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sso/testsso"
)

var student = testsso.User{Username: "2210000001", Password: "pw"}

func TestTimetable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx, student)
	s, err := sites.NewRegistry(sites.Config{Session: mock.SessionOptions()}).Get(sites.Jwxt)
	require.NoError(t, err)
	require.NoError(t, s.Login(ctx, sites.Credentials{Username: student.Username, Password: student.Password}))
	c := jwxt.New(s, nil)

	term, err := c.CurrentTerm(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2023-2024-2", term)

	start, err := c.TermStart(ctx, term)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 26, 0, 0, 0, 0, time.Local), start)

	_, err = c.TermStart(ctx, "2019-2020-1")
	assert.Error(t, err)

	lessons, err := c.Lessons(ctx, term)
	require.NoError(t, err)
	require.Len(t, lessons, 2)
	assert.Equal(t, "高等数学", lessons[0].Name)
	assert.Equal(t, 3, lessons[0].Weekday)
	assert.Len(t, lessons[0].Weeks, 16)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, lessons[1].Weeks)

	exams, err := c.Exams(ctx, term)
	require.NoError(t, err)
	require.Len(t, exams, 1)
	assert.Equal(t, 14, exams[0].Start.Hour())
	assert.Equal(t, 30, exams[0].Start.Minute())
	assert.Equal(t, 16, exams[0].End.Hour())
	assert.Equal(t, "12", exams[0].Seat)
}

func TestParseWeeks(t *testing.T) {
	assert.Equal(t, []int{1, 3, 5}, jwxt.ParseWeeks("10101"))
	assert.Empty(t, jwxt.ParseWeeks("0000"))
}

func TestParseExamTime(t *testing.T) {
	_, _, err := jwxt.ParseExamTime("待定")
	assert.Error(t, err)
	start, end, err := jwxt.ParseExamTime("2024-01-09 8:30 - 10:30")
	require.NoError(t, err)
	assert.Equal(t, 8, start.Hour())
	assert.Equal(t, 2*time.Hour, end.Sub(start))
}

func loggedIn(t *testing.T, ctx context.Context) (*testsso.Server, *jwxt.Client) {
	t.Helper()
	mock := testsso.NewServer(ctx, student)
	s, err := sites.NewRegistry(sites.Config{Session: mock.SessionOptions()}).Get(sites.Jwxt)
	require.NoError(t, err)
	require.NoError(t, s.Login(ctx, sites.Credentials{Username: student.Username, Password: student.Password}))
	return mock, jwxt.New(s, nil)
}

func TestEmptyRooms(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, c := loggedIn(t, ctx)

	campuses, err := c.Campuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", campuses["兴庆校区"])
	buildings, err := c.Buildings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "101", buildings["主楼A"])

	day := time.Date(2024, 3, 25, 0, 0, 0, 0, time.Local)
	all, err := c.EmptyRooms(ctx, "1", "101", day, 0, 0)
	require.NoError(t, err)
	names := make([]string, len(all))
	for i, r := range all {
		names[i] = r.Name
	}
	// the test room and the one without a type are left out
	assert.Equal(t, []string{"A-101", "A-102"}, names)
	assert.Equal(t, 120, all[0].Capacity)
	assert.Equal(t, 60, all[0].ExamCapacity)
	assert.Equal(t, "多媒体教室", all[0].Type)

	free, err := c.EmptyRooms(ctx, "1", "101", day, 3, 4)
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, "A-102", free[0].Name)
}

func TestEvaluation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock, c := loggedIn(t, ctx)

	term, err := c.EvaluationTerm(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2023-2024-2", term)

	open, err := c.AllQuestionnaires(ctx, term, false)
	require.NoError(t, err)
	require.Len(t, open, 3)
	assert.Equal(t, jwxt.EvalMidterm, open[0].Kind)

	q := open[1]
	items, err := c.Items(ctx, q)
	require.NoError(t, err)
	require.Len(t, items, 3)
	options, err := c.Options(ctx, q, student.Username, false)
	require.NoError(t, err)
	require.Len(t, options["Z1"], 3)

	answers, err := jwxt.Fill(q, student.Username, items, options, 1, "")
	require.NoError(t, err)
	require.NoError(t, c.Submit(ctx, q, answers))

	sent, ok := mock.Evaluation(q.ClassID, q.Evaluatee)
	require.True(t, ok)
	assert.Equal(t, "A", sent[0]["DA"])
	assert.Equal(t, "100", sent[1]["DA"])
	assert.Equal(t, jwxt.DefaultComment, sent[2]["ZGDA"])

	done, err := c.Questionnaires(ctx, term, jwxt.EvalFinal, true)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, q.ClassID, done[0].ClassID)

	require.NoError(t, c.Reopen(ctx, q, student.Username))
	_, ok = mock.Evaluation(q.ClassID, q.Evaluatee)
	assert.False(t, ok)

	// a blank answer is refused by the site
	answers[0].Value = ""
	var serr *services.ServerError
	assert.ErrorAs(t, c.Submit(ctx, q, answers), &serr)
}

func TestFill(t *testing.T) {
	q := jwxt.Questionnaire{Evaluatee: "T1", ClassID: "C1", Content: "C1", Batch: "P1"}
	items := []jwxt.Item{
		{Form: "W", ID: "choice", Type: jwxt.ItemChoice, Title: "choice"},
		{Form: "W", ID: "score", Type: jwxt.ItemScore, Title: "score", Max: "10"},
		{Form: "W", ID: "text", Type: jwxt.ItemText, Title: "text"},
	}
	options := map[string][]jwxt.Option{"choice": {
		{Item: "choice", Value: "best", Rank: "1"},
		{Item: "choice", Value: "good", Rank: "2"},
		{Item: "choice", Value: "fair", Rank: "3"},
	}}

	worst, err := jwxt.Fill(q, "u", items, options, 5, "ok")
	require.NoError(t, err)
	// only three ranks, the nearest one is taken
	assert.Equal(t, "fair", worst[0].Value)
	assert.Equal(t, "2", worst[1].Value)
	assert.Equal(t, "ok", worst[2].Text)
	assert.Equal(t, "u", worst[0].Evaluator)

	mid, err := jwxt.Fill(q, "u", items, options, 2, "")
	require.NoError(t, err)
	assert.Equal(t, "good", mid[0].Value)
	assert.Equal(t, "8", mid[1].Value)

	_, err = jwxt.Fill(q, "u", items, options, 0, "")
	assert.ErrorIs(t, err, jwxt.ErrBadGrade)
	_, err = jwxt.Fill(q, "u", items, nil, 1, "")
	assert.ErrorIs(t, err, services.ErrIncorrectAssumption)
}
