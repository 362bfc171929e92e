// Package jwxt reads the undergraduate timetable and exam arrangements.
package jwxt

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
)

const BaseURL = "https://jwxt.xjtu.edu.cn/jwapp/sys/"

const (
	currentTermPath = "wdkb/modules/jshkcb/dqxnxq.do"
	lessonsPath     = "wdkb/modules/xskcb/xskcb.do"
	examsPath       = "studentWdksapApp/modules/wdksap/wdksap.do"
	termStartPath   = "wdkb/modules/jshkcb/cxjcs.do"
)

type Lesson struct {
	Name     string
	Teacher  string
	Location string
	// 1 is Monday
	Weekday int
	Start   int
	End     int
	Weeks   []int
	Term    string
}

type Exam struct {
	Name     string
	Location string
	Seat     string
	Term     string
	Start    time.Time
	End      time.Time
}

type Client struct {
	r      services.Requester
	logger *log.Entry
}

func New(r services.Requester, logger *log.Entry) *Client {
	if logger == nil {
		logger = log.WithField("component", "jwxt")
	}
	return &Client{r: r, logger: logger}
}

// every endpoint answers {"code":"0","datas":{<key>:{"rows":[...]}}}
func (c *Client) rows(ctx context.Context, path, key string, form url.Values, out any) error {
	var reply struct {
		Code  services.FlexString `json:"code"`
		Datas map[string]struct {
			Rows json.RawMessage `json:"rows"`
		} `json:"datas"`
	}
	resp, err := c.r.PostForm(ctx, BaseURL+path, form)
	if err := services.DecodeJSON(resp, err, &reply); err != nil {
		return err
	}
	if reply.Code != "0" {
		return services.NewServerError(services.CodeGeneric, "jwxt answered code "+string(reply.Code))
	}
	data, ok := reply.Datas[key]
	if !ok {
		return services.Unparseable("jwxt reply has no %s", key)
	}
	if err := json.Unmarshal(data.Rows, out); err != nil {
		return services.Unparseable("jwxt %s rows: %v", key, err)
	}
	return nil
}

func (c *Client) CurrentTerm(ctx context.Context) (string, error) {
	var rows []struct {
		DM string `json:"DM"`
	}
	if err := c.rows(ctx, currentTermPath, "dqxnxq", url.Values{}, &rows); err != nil {
		return "", err
	}
	if len(rows) == 0 || rows[0].DM == "" {
		return "", services.Unparseable("no current term")
	}
	return rows[0].DM, nil
}

type lessonRow struct {
	KCM    string           `json:"KCM"`
	SKJS   string           `json:"SKJS"`
	JASMC  string           `json:"JASMC"`
	SKXQ   services.FlexInt `json:"SKXQ"`
	KSJC   services.FlexInt `json:"KSJC"`
	JSJC   services.FlexInt `json:"JSJC"`
	SKZC   string           `json:"SKZC"`
	XNXQDM string           `json:"XNXQDM"`
}

// Lessons returns the timetable of term.
func (c *Client) Lessons(ctx context.Context, term string) ([]Lesson, error) {
	var rows []lessonRow
	if err := c.rows(ctx, lessonsPath, "xskcb", url.Values{"XNXQDM": {term}}, &rows); err != nil {
		return nil, err
	}
	lessons := make([]Lesson, 0, len(rows))
	for _, r := range rows {
		if r.SKXQ < 1 || r.SKXQ > 7 || r.KSJC < 1 || r.JSJC < r.KSJC {
			c.logger.WithField("course", r.KCM).Warn("skipping lesson with no usable time")
			continue
		}
		lessons = append(lessons, Lesson{
			Name:     r.KCM,
			Teacher:  r.SKJS,
			Location: r.JASMC,
			Weekday:  int(r.SKXQ),
			Start:    int(r.KSJC),
			End:      int(r.JSJC),
			Weeks:    ParseWeeks(r.SKZC),
			Term:     r.XNXQDM,
		})
	}
	return lessons, nil
}

// ParseWeeks reads the week bitmap, character i set to 1 meaning week i+1.
func ParseWeeks(bits string) []int {
	var weeks []int
	for i, ch := range bits {
		if ch == '1' {
			weeks = append(weeks, i+1)
		}
	}
	return weeks
}

var examTime = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\s+(\d{1,2}:\d{2})\s*-\s*(\d{1,2}:\d{2})`)

// ParseExamTime reads the "2024-06-20 14:30-16:30" form the exam rows use.
func ParseExamTime(s string) (start, end time.Time, err error) {
	m := examTime.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, time.Time{}, services.Unparseable("exam time %q", s)
	}
	const layout = "2006-01-02 15:04"
	if start, err = time.ParseInLocation(layout, m[1]+" "+m[2], time.Local); err != nil {
		return time.Time{}, time.Time{}, services.Unparseable("exam time %q", s)
	}
	if end, err = time.ParseInLocation(layout, m[1]+" "+m[3], time.Local); err != nil {
		return time.Time{}, time.Time{}, services.Unparseable("exam time %q", s)
	}
	return start, end, nil
}

func (c *Client) Exams(ctx context.Context, term string) ([]Exam, error) {
	var rows []struct {
		KCM    string              `json:"KCM"`
		KSSJMS string              `json:"KSSJMS"`
		JASMC  string              `json:"JASMC"`
		ZWH    services.FlexString `json:"ZWH"`
		XNXQDM string              `json:"XNXQDM"`
	}
	if err := c.rows(ctx, examsPath, "wdksap", url.Values{"XNXQDM": {term}}, &rows); err != nil {
		return nil, err
	}
	exams := make([]Exam, 0, len(rows))
	for _, r := range rows {
		start, end, err := ParseExamTime(r.KSSJMS)
		if err != nil {
			// arrangements not yet published have no time
			c.logger.WithField("course", r.KCM).WithError(err).Debug("skipping exam")
			continue
		}
		exams = append(exams, Exam{
			Name:     r.KCM,
			Location: r.JASMC,
			Seat:     string(r.ZWH),
			Term:     r.XNXQDM,
			Start:    start,
			End:      end,
		})
	}
	return exams, nil
}

// TermStart returns the Monday the term's first week starts on.
func (c *Client) TermStart(ctx context.Context, term string) (time.Time, error) {
	i := strings.LastIndex(term, "-")
	if i <= 0 {
		return time.Time{}, services.Unparseable("term code %q", term)
	}
	var rows []struct {
		XQKSRQ string `json:"XQKSRQ"`
	}
	form := url.Values{"XN": {term[:i]}, "XQ": {term[i+1:]}}
	if err := c.rows(ctx, termStartPath, "cxjcs", form, &rows); err != nil {
		return time.Time{}, err
	}
	if len(rows) == 0 {
		return time.Time{}, services.Unparseable("no start date for %s", term)
	}
	raw := rows[0].XQKSRQ
	if len(raw) > 10 {
		raw = raw[:10]
	}
	start, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return time.Time{}, services.Unparseable("term start %q", rows[0].XQKSRQ)
	}
	return start, nil
}
