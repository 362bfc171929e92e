package notices_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/notices"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sso/testsso"
)

func crawler(t *testing.T, ctx context.Context, pages int) *notices.Crawler {
	t.Helper()
	mock := testsso.NewServer(ctx)
	c := notices.New(mock.NewSession(), nil)
	c.Pages = pages
	return c
}

func titles(ns []notices.Notice) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.Title
	}
	return out
}

func TestDeanBoard(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := crawler(t, ctx, 1).Fetch(ctx, notices.Dean)
	require.NoError(t, err)
	require.Len(t, first, 2)
	n := first[0]
	assert.Equal(t, "关于2024年春季学期选课的通知", n.Title)
	assert.Equal(t, "https://dean.xjtu.edu.cn/info/1011/1001.htm", n.Link)
	assert.Equal(t, []string{"选课"}, n.Tags)
	assert.Equal(t, time.Date(2024, 2, 20, 0, 0, 0, 0, time.Local), n.Date)
	assert.Equal(t, notices.Dean, n.Source)

	// the pager leads to the older entries
	all, err := crawler(t, ctx, 3).Fetch(ctx, notices.Dean)
	require.NoError(t, err)
	assert.Equal(t, []string{"关于2024年春季学期选课的通知", "关于期末考试安排的通知", "关于补考报名的通知"}, titles(all))
}

func TestGraduateBoards(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx)
	c := notices.New(mock.NewSession(), nil)

	// every section must answer
	_, err := c.Fetch(ctx, notices.Graduate)
	require.Error(t, err)

	for _, section := range []string{"zsgz", "gjjl", "yggz", "zhgz"} {
		mock.Data.Notices[testsso.GraduateHost+"/tzgg/"+section+".htm"] = []testsso.NoticeEntry{
			{Title: "研究生课程调整通知", Href: "/info/1021/2001.htm", Date: "2024-02-21"},
		}
	}
	got, err := c.Fetch(ctx, notices.Graduate)
	require.NoError(t, err)
	// the same notice listed in several sections is kept once
	assert.Equal(t, []string{"研究生课程调整通知", "学位论文答辩安排"}, titles(got))
	assert.Equal(t, []string{"招生工作"}, got[0].Tags)
	assert.Equal(t, []string{"学位工作"}, got[1].Tags)
}

func TestSoftwareBoard(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got, err := crawler(t, ctx, 1).Fetch(ctx, notices.Software)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "软件学院奖学金评定通知", got[0].Title)
	assert.Equal(t, "https://se.xjtu.edu.cn/info/1041/4001.htm", got[0].Link)
	assert.Empty(t, got[0].Tags)
}

func TestRules(t *testing.T) {
	exam := notices.Notice{Title: "关于期末考试安排的通知", Source: notices.Dean, Tags: []string{"考试"}}
	course := notices.Notice{Title: "关于选课的通知", Source: notices.Dean, Tags: []string{"选课"}}
	other := notices.Notice{Title: "考试通知", Source: notices.Software}

	sub := notices.Subscription{Source: notices.Dean}
	assert.Len(t, sub.Select([]notices.Notice{exam, course, other}), 2)

	// every filter of a ruleset has to agree
	sub.Rules = []notices.Ruleset{{
		{Kind: notices.TitleIncludes, Value: "通知"},
		{Kind: notices.TagExcludes, Value: "选课"},
	}}
	assert.Equal(t, []notices.Notice{exam}, sub.Select([]notices.Notice{exam, course, other}))

	// any ruleset is enough
	sub.Rules = append(sub.Rules, notices.Ruleset{{Kind: notices.TagIncludes, Value: "选课"}})
	assert.Len(t, sub.Select([]notices.Notice{exam, course, other}), 2)

	assert.False(t, notices.Filter{Kind: notices.TitleExcludes, Value: "考试"}.Keep(exam))
	assert.False(t, notices.Filter{Kind: "nonsense", Value: "x"}.Keep(exam))
	assert.Equal(t, `not tagged "选课"`, notices.Filter{Kind: notices.TagExcludes, Value: "选课"}.String())
}

func TestUnseen(t *testing.T) {
	a := notices.Notice{Title: "a", Link: "l1", Source: notices.Dean}
	b := notices.Notice{Title: "b", Link: "l2", Source: notices.Dean}
	assert.Equal(t, []notices.Notice{b}, notices.Unseen([]string{a.Key()}, []notices.Notice{a, b}))
	assert.Empty(t, notices.Unseen([]string{a.Key(), b.Key()}, []notices.Notice{a, b}))
}
