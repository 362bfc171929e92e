// Package notices scrapes the notice boards of the dean's office, the
// graduate school and the school of software. The boards are public, no
// login is needed.
package notices

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
)

type Source string

const (
	Dean     Source = "jwc"
	Graduate Source = "gs"
	Software Source = "se"
)

func Sources() []Source { return []Source{Dean, Graduate, Software} }

func ParseSource(s string) (Source, error) {
	for _, src := range Sources() {
		if string(src) == s {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown notice source %q", s)
}

// Notice is one entry of a board. Boards only list titles, the text stays
// behind Link.
type Notice struct {
	Title  string    `json:"title"`
	Link   string    `json:"link"`
	Source Source    `json:"source"`
	Tags   []string  `json:"tags,omitempty"`
	Date   time.Time `json:"date"`
}

// Key identifies a notice across fetches.
func (n Notice) Key() string {
	return string(n.Source) + "|" + n.Title + "|" + n.Link
}

func (n Notice) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// board describes where a list page keeps its entries.
type board struct {
	// tag given to every entry, for boards split into sections
	tag   string
	url   string
	items string
	title string
	// removed from the title before reading it
	titleNoise string
	date       string
	// tag read from the entry itself
	entryTag string
}

var boards = map[Source][]board{
	Dean: {{
		url:        "https://dean.xjtu.edu.cn/jxxx/jxtz2.htm",
		items:      "#ny-main > div:nth-of-type(3) > ul > li",
		title:      "a",
		titleNoise: "i",
		date:       "span",
		entryTag:   "a > i",
	}},
	Graduate: graduateBoards(),
	Software: {{
		url:   "https://se.xjtu.edu.cn/xwgg/tzgg.htm",
		items: "main > div > div:nth-of-type(2) > div:nth-of-type(2) > ul > li",
		title: "a > p:nth-of-type(2)",
		date:  "a > p:nth-of-type(1) > span",
	}},
}

func graduateBoards() []board {
	sections := []struct{ path, tag string }{
		{"zsgz", "招生工作"},
		{"pygz", "培养工作"},
		{"gjjl", "国际交流"},
		{"xwgz", "学位工作"},
		{"yggz", "研工工作"},
		{"zhgz", "综合工作"},
	}
	out := make([]board, len(sections))
	for i, s := range sections {
		out[i] = board{
			tag:   s.tag,
			url:   "https://gs.xjtu.edu.cn/tzgg/" + s.path + ".htm",
			items: "#wrapper > div:nth-of-type(4) > div > div:nth-of-type(2) > div:nth-of-type(2) > ul > li",
			title: "a",
			date:  "span",
		}
	}
	return out
}

// pager links that lead further back
var nextLabels = []string{"下页", "下一页"}

type Crawler struct {
	r      services.Requester
	logger *log.Entry
	// list pages read per board
	Pages int
	Now   func() time.Time
}

func New(r services.Requester, logger *log.Entry) *Crawler {
	if logger == nil {
		logger = log.WithField("component", "notices")
	}
	return &Crawler{r: r, logger: logger, Pages: 1, Now: time.Now}
}

// Fetch reads every board of src, newest page first, without duplicates.
func (c *Crawler) Fetch(ctx context.Context, src Source) ([]Notice, error) {
	bs, ok := boards[src]
	if !ok {
		return nil, fmt.Errorf("unknown notice source %q", src)
	}
	seen := map[string]bool{}
	var out []Notice
	for _, b := range bs {
		found, err := c.board(ctx, src, b)
		if err != nil {
			return nil, err
		}
		for _, n := range found {
			if !seen[n.Key()] {
				seen[n.Key()] = true
				out = append(out, n)
			}
		}
	}
	return out, nil
}

func (c *Crawler) board(ctx context.Context, src Source, b board) ([]Notice, error) {
	var out []Notice
	next := b.url
	for page := 0; page < max(c.Pages, 1) && next != ""; page++ {
		resp, err := c.r.Get(ctx, next)
		base, _ := url.Parse(next)
		if resp != nil && resp.Request != nil {
			base = resp.Request.URL
		}
		body, err := services.ReadBody(resp, err)
		if err != nil {
			return nil, err
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, services.Unparseable("notice page: %v", err)
		}
		items := doc.Find(b.items)
		if items.Length() == 0 {
			return nil, services.Unparseable("no notices on %s", next)
		}
		items.Each(func(_ int, li *goquery.Selection) {
			if n, ok := c.entry(src, b, base, li); ok {
				out = append(out, n)
			}
		})
		next = nextPage(doc, base)
	}
	return out, nil
}

func (c *Crawler) entry(src Source, b board, base *url.URL, li *goquery.Selection) (Notice, bool) {
	title := li.Find(b.title).First().Clone()
	if b.titleNoise != "" {
		title.Find(b.titleNoise).Remove()
	}
	href, _ := li.Find("a").First().Attr("href")
	n := Notice{
		Title:  strings.TrimSpace(title.Text()),
		Source: src,
	}
	if n.Title == "" || href == "" {
		return n, false
	}
	link, err := base.Parse(href)
	if err != nil {
		c.logger.WithField("href", href).Warn("skipping notice with a bad link")
		return n, false
	}
	n.Link = link.String()
	raw := strings.TrimSpace(li.Find(b.date).First().Text())
	if n.Date, err = time.ParseInLocation(time.DateOnly, raw, time.Local); err != nil {
		now := c.Now()
		n.Date = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	}
	if b.tag != "" {
		n.Tags = append(n.Tags, b.tag)
	}
	if b.entryTag != "" {
		if tag := strings.Trim(strings.TrimSpace(li.Find(b.entryTag).First().Text()), "[]【】"); tag != "" {
			n.Tags = append(n.Tags, tag)
		}
	}
	return n, true
}

func nextPage(doc *goquery.Document, base *url.URL) string {
	var next string
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := strings.TrimSpace(a.Text())
		for _, label := range nextLabels {
			if text != label {
				continue
			}
			href, ok := a.Attr("href")
			if !ok || href == "" || strings.HasPrefix(href, "javascript") {
				return false
			}
			if u, err := base.Parse(href); err == nil {
				next = u.String()
			}
			return false
		}
		return true
	})
	return next
}
