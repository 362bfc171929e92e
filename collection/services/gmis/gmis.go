// Package gmis reads the postgraduate timetable and grades. The site only
// serves HTML, so everything here is scraped.
package gmis

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
)

const BaseURL = "https://gmis.xjtu.edu.cn/pyxx/pygl/"

const (
	schedulePath = "xskbcx"
	scorePath    = "xscjcx/index"
)

// CalendarURL is the public school calendar that knows when terms start.
const CalendarURL = "http://one2020.xjtu.edu.cn/EIP/schoolcalendar/terms.htm"

type Client struct {
	r      services.Requester
	logger *log.Entry
}

func New(r services.Requester, logger *log.Entry) *Client {
	if logger == nil {
		logger = log.WithField("component", "gmis")
	}
	return &Client{r: r, logger: logger}
}

func (c *Client) page(ctx context.Context, rawURL string) (*goquery.Document, []byte, error) {
	body, err := services.ReadBody(c.r.Get(ctx, rawURL))
	if err != nil {
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, services.Unparseable("gmis page: %v", err)
	}
	return doc, body, nil
}

// ---- terms ----

// TermCode turns the site's "2024秋" or "2025春" into 2024-2025-1 or
// 2024-2025-2.
func TermCode(name string) (string, error) {
	name = strings.TrimSpace(name)
	season, ok := strings.CutSuffix(name, "秋")
	autumn := ok
	if !ok {
		if season, ok = strings.CutSuffix(name, "春"); !ok {
			return "", services.Unparseable("term name %q", name)
		}
	}
	year, err := strconv.Atoi(season)
	if err != nil || len(season) != 4 {
		return "", services.Unparseable("term name %q", name)
	}
	if autumn {
		return fmt.Sprintf("%d-%d-1", year, year+1), nil
	}
	return fmt.Sprintf("%d-%d-2", year-1, year), nil
}

// TermName is the reverse of TermCode. Summer terms have no name.
func TermName(code string) (string, error) {
	parts := strings.Split(code, "-")
	if len(parts) != 3 {
		return "", services.Unparseable("term code %q", code)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", services.Unparseable("term code %q", code)
	}
	switch parts[2] {
	case "1":
		return fmt.Sprintf("%d秋", year), nil
	case "2":
		return fmt.Sprintf("%d春", year+1), nil
	}
	return "", services.Unparseable("gmis has no term %s", code)
}

// ---- timetable ----

type Lesson struct {
	Name     string
	Teacher  string
	Location string
	Weekday  int
	Start    int
	End      int
	Weeks    []int
}

// Timetable is one term's page: its lessons and the term picker.
type Timetable struct {
	Term    string
	Lessons []Lesson
	// term code -> picker value
	Terms map[string]string
}

// every lesson cell is filled by a script statement like
// td=document.getElementById("td_3_5");if(td.innerHTML!="")td.innerHTML+="<br><br>";td.innerHTML+="课程：...";
var cellScript = regexp.MustCompile(`document\.getElementById\("td_(\d+)_(\d+)"\);\s*if\s*\(td\.innerHTML!=""\)\s*td\.innerHTML\+="<br><br>";\s*td\.innerHTML\+="([^"]+)";`)

func field(text, label string) (string, bool) {
	_, rest, ok := strings.Cut(text, label+"：")
	if !ok {
		return "", false
	}
	if i := strings.Index(rest, "<"); i >= 0 {
		rest = rest[:i]
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}

// ParsePeriods reads "3-4" or "5".
func ParsePeriods(s string) (start, end int, err error) {
	lo, hi, isRange := strings.Cut(strings.TrimSpace(s), "-")
	if start, err = strconv.Atoi(strings.TrimSpace(lo)); err != nil {
		return 0, 0, services.Unparseable("periods %q", s)
	}
	end = start
	if isRange {
		if end, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil || end < start {
			return 0, 0, services.Unparseable("periods %q", s)
		}
	}
	return start, end, nil
}

// ParseWeeks reads week lists like "1-16周", "1-8,10周" or "2-16双周".
func ParseWeeks(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	parity := 0
	switch {
	case strings.Contains(s, "单"):
		parity = 1
	case strings.Contains(s, "双"):
		parity = 2
	}
	s = strings.NewReplacer("周", "", "单", "", "双", "", "(", "", ")", "", "（", "", "）", "", "，", ",").Replace(s)
	seen := map[int]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		from, to, err := ParsePeriods(part)
		if err != nil {
			return nil, services.Unparseable("weeks %q", s)
		}
		for w := from; w <= to; w++ {
			if parity == 1 && w%2 == 0 || parity == 2 && w%2 == 1 {
				continue
			}
			seen[w] = true
		}
	}
	weeks := make([]int, 0, len(seen))
	for w := range seen {
		weeks = append(weeks, w)
	}
	sort.Ints(weeks)
	return weeks, nil
}

// ParseTimetable reads a timetable page. Cells that cannot be read are
// logged and skipped.
func ParseTimetable(doc *goquery.Document, raw []byte, logger *log.Entry) (Timetable, error) {
	tt := Timetable{Terms: map[string]string{}}
	doc.Find(`select#drpxq option`).Each(func(_ int, s *goquery.Selection) {
		value, _ := s.Attr("value")
		code, err := TermCode(s.Text())
		if err != nil || value == "" {
			return
		}
		tt.Terms[code] = strings.TrimSpace(value)
		if _, ok := s.Attr("selected"); ok {
			tt.Term = code
		}
	})
	if tt.Term == "" {
		return tt, services.Unparseable("timetable has no selected term")
	}

	seen := map[string]bool{}
	for _, m := range cellScript.FindAllSubmatch(raw, -1) {
		day, _ := strconv.Atoi(string(m[1]))
		text := string(m[3])
		name, ok1 := field(text, "课程")
		teacher, ok2 := field(text, "教师")
		room, ok3 := field(text, "教室")
		periods, ok4 := field(text, "节次")
		weekText, ok5 := field(text, "周次")
		if !(ok1 && ok2 && ok3 && ok4 && ok5) {
			logger.WithField("cell", text).Warn("skipping timetable cell")
			continue
		}
		start, end, err := ParsePeriods(periods)
		if err != nil {
			logger.WithError(err).Warn("skipping timetable cell")
			continue
		}
		weeks, err := ParseWeeks(weekText)
		if err != nil {
			logger.WithError(err).Warn("skipping timetable cell")
			continue
		}
		// a lesson spanning periods fills one cell per period
		key := fmt.Sprintf("%s|%s|%d|%d|%d|%s", name, room, day, start, end, weekText)
		if seen[key] {
			continue
		}
		seen[key] = true
		tt.Lessons = append(tt.Lessons, Lesson{
			Name:     name,
			Teacher:  teacher,
			Location: room,
			Weekday:  day,
			Start:    start,
			End:      end,
			Weeks:    weeks,
		})
	}
	return tt, nil
}

// Timetable returns the lessons of term, the current term when empty.
func (c *Client) Timetable(ctx context.Context, term string) (Timetable, error) {
	doc, raw, err := c.page(ctx, BaseURL+schedulePath)
	if err != nil {
		return Timetable{}, err
	}
	tt, err := ParseTimetable(doc, raw, c.logger)
	if err != nil || term == "" || term == tt.Term {
		return tt, err
	}
	value, ok := tt.Terms[term]
	if !ok {
		return Timetable{}, services.Unparseable("gmis has no timetable for %s", term)
	}
	if doc, raw, err = c.page(ctx, BaseURL+schedulePath+"/index/"+value); err != nil {
		return Timetable{}, err
	}
	other, err := ParseTimetable(doc, raw, c.logger)
	if err != nil {
		return Timetable{}, err
	}
	other.Term = term
	return other, nil
}

// TermStarts asks the school calendar when each listed term starts.
func (c *Client) TermStarts(ctx context.Context) (map[string]time.Time, error) {
	var reply struct {
		Data []struct {
			TermNum   string `json:"term_num"`
			YearNum   string `json:"year_num"`
			StartDate string `json:"start_date"`
		} `json:"data"`
	}
	resp, err := c.r.PostForm(ctx, CalendarURL, nil)
	if err := services.DecodeJSON(resp, err, &reply); err != nil {
		return nil, err
	}
	out := map[string]time.Time{}
	for _, t := range reply.Data {
		var code string
		switch {
		case strings.Contains(t.TermNum, "第一学期"):
			code = t.YearNum + "-1"
		case strings.Contains(t.TermNum, "第二学期"):
			code = t.YearNum + "-2"
		default:
			continue
		}
		raw := t.StartDate
		if len(raw) > 10 {
			raw = raw[:10]
		}
		start, err := time.ParseInLocation(time.DateOnly, raw, time.Local)
		if err != nil {
			c.logger.WithField("term", code).Warn("unreadable term start")
			continue
		}
		out[code] = start
	}
	return out, nil
}

// ---- grades ----

type Score struct {
	Name     string
	Credit   float64
	Score    float64
	Kind     string
	ExamDate string
	GPA      float64
}

// the three grade tables, in page order
var tableKinds = []string{"学位课程", "选修课程", "必修环节"}

// ParseScores reads the grade page. Rows without a numeric grade are
// courses still running and are left out.
func ParseScores(doc *goquery.Document) []Score {
	var out []Score
	doc.Find(`table[id="sample-table-1"]`).Each(func(i int, table *goquery.Selection) {
		kind := "未知"
		if i < len(tableKinds) {
			kind = tableKinds[i]
		}
		// the requirement table has no term column
		scoreCol, dateCol := 3, 4
		if kind == "必修环节" {
			scoreCol, dateCol = 2, 3
		}
		table.Find("tr").Each(func(j int, row *goquery.Selection) {
			cells := row.Find("td")
			if j == 0 || cells.Length() <= dateCol {
				return
			}
			text := func(n int) string { return strings.TrimSpace(cells.Eq(n).Text()) }
			name := text(0)
			score, err := strconv.ParseFloat(text(scoreCol), 64)
			if name == "" || err != nil {
				return
			}
			credit, _ := strconv.ParseFloat(text(1), 64)
			out = append(out, Score{
				Name:     name,
				Credit:   credit,
				Score:    score,
				Kind:     kind,
				ExamDate: text(dateCol),
				GPA:      GPA(score),
			})
		})
	})
	return out
}

// Scores lists every graded course; the page does not say which term a
// grade belongs to.
func (c *Client) Scores(ctx context.Context) ([]Score, error) {
	doc, _, err := c.page(ctx, BaseURL+scorePath)
	if err != nil {
		return nil, err
	}
	return ParseScores(doc), nil
}

var gpaSteps = []struct {
	min float64
	gpa float64
}{
	{95, 4.3}, {90, 4.0}, {85, 3.7}, {81, 3.3}, {78, 3.0},
	{75, 2.7}, {72, 2.3}, {68, 2.0}, {64, 1.7}, {60, 1.0},
}

// GPA maps a percentage grade onto the 4.3 scale.
func GPA(score float64) float64 {
	for _, s := range gpaSteps {
		if score >= s.min {
			return s.gpa
		}
	}
	return 0
}
