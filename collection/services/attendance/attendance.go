// Package attendance reads the undergraduate attendance system: the term
// it considers current, per lesson check records and raw card swipes.
package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
)

const BaseURL = "http://bkkq.xjtu.edu.cn/attendance-student/"

const dateLayout = "2006-01-02"

// WaterType is the verdict on a finished lesson.
type WaterType int

const (
	Normal     WaterType = 1
	Late       WaterType = 2
	Absence    WaterType = 3
	EarlyLeave WaterType = 4
	Leave      WaterType = 5
)

// FlowRecordType classifies one card swipe.
type FlowRecordType int

const (
	// a swipe in a room with no lesson
	Invalid  FlowRecordType = 0
	Valid    FlowRecordType = 1
	Repeated FlowRecordType = 2
)

type Term struct {
	Bh        int    `json:"bh"`
	Name      string `json:"name"`
	StartDate string `json:"startdate"`
	EndDate   string `json:"enddate"`
	Weeks     int    `json:"weeks"`
}

type Record struct {
	Bh          string
	Term        string
	StartPeriod int
	EndPeriod   int
	Week        int
	Location    string
	Teacher     string
	Status      WaterType
	Date        time.Time
}

type Flow struct {
	Bh        string         `json:"sBh"`
	Place     string         `json:"eqno"`
	WaterTime string         `json:"watertime"`
	Type      FlowRecordType `json:"isdone"`
}

func (f *Flow) UnmarshalJSON(b []byte) error {
	var raw struct {
		Bh        services.FlexString `json:"sBh"`
		Place     string              `json:"eqno"`
		WaterTime string              `json:"watertime"`
		Type      services.FlexInt    `json:"isdone"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*f = Flow{Bh: string(raw.Bh), Place: raw.Place, WaterTime: raw.WaterTime, Type: FlowRecordType(raw.Type)}
	return nil
}

// Time parses the swipe timestamp in local time.
func (f Flow) Time() (time.Time, error) {
	return time.ParseInLocation("2006-01-02 15:04:05", f.WaterTime, time.Local)
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

type Client struct {
	r      services.Requester
	logger *log.Entry
	termNo int
}

func New(r services.Requester, logger *log.Entry) *Client {
	if logger == nil {
		logger = log.WithField("component", "attendance")
	}
	return &Client{r: r, logger: logger}
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	var env envelope
	resp, err := c.r.PostJSON(ctx, BaseURL+path, body)
	if err := services.DecodeJSON(resp, err, &env); err != nil {
		return err
	}
	if !env.Success {
		return services.NewServerError(env.Code, env.Msg)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return services.Unparseable("attendance %s: %v", path, err)
	}
	return nil
}

func (c *Client) NearTerm(ctx context.Context) (Term, error) {
	var t Term
	if err := c.post(ctx, "global/getNearTerm", nil, &t); err != nil {
		return Term{}, err
	}
	c.termNo = t.Bh
	return t, nil
}

type recordJSON struct {
	ClassWaterBean struct {
		Bh     services.FlexString `json:"bh"`
		Status services.FlexInt    `json:"status"`
	} `json:"classWaterBean"`
	StuClassBean struct {
		TermNo services.FlexString `json:"termNo"`
	} `json:"stuClassBean"`
	AccountBean struct {
		StartJc   services.FlexInt `json:"startJc"`
		EndJc     services.FlexInt `json:"endJc"`
		Week      services.FlexInt `json:"week"`
		Checkdate string           `json:"checkdate"`
	} `json:"accountBean"`
	BuildBean struct {
		Name string `json:"name"`
	} `json:"buildBean"`
	RoomBean struct {
		Roomnum string `json:"roomnum"`
	} `json:"roomBean"`
	TeachNameList string `json:"teachNameList"`
}

func (r recordJSON) record() (Record, error) {
	date, err := time.ParseInLocation(dateLayout, r.AccountBean.Checkdate, time.Local)
	if err != nil {
		return Record{}, services.Unparseable("record date %q", r.AccountBean.Checkdate)
	}
	return Record{
		Bh:          string(r.ClassWaterBean.Bh),
		Term:        string(r.StuClassBean.TermNo),
		StartPeriod: int(r.AccountBean.StartJc),
		EndPeriod:   int(r.AccountBean.EndJc),
		Week:        int(r.AccountBean.Week),
		Location:    r.BuildBean.Name + "-" + r.RoomBean.Roomnum,
		Teacher:     r.TeachNameList,
		Status:      WaterType(r.ClassWaterBean.Status),
		Date:        date,
	}, nil
}

// Records returns one page of lesson check records between start and end.
func (c *Client) Records(ctx context.Context, start, end time.Time, page, pageSize int) ([]Record, error) {
	if c.termNo == 0 {
		if _, err := c.NearTerm(ctx); err != nil {
			return nil, err
		}
	}
	body := map[string]any{
		"startDate":      start.Format(dateLayout),
		"endDate":        end.Format(dateLayout),
		"current":        page,
		"pageSize":       pageSize,
		"timeCondition":  "",
		"subjectBean":    map[string]string{"sCode": ""},
		"classWaterBean": map[string]string{"status": ""},
		"classBean":      map[string]int{"termNo": c.termNo},
	}
	var data struct {
		List []recordJSON `json:"list"`
	}
	if err := c.post(ctx, "classWater/getClassWaterPage", body, &data); err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(data.List))
	for _, raw := range data.List {
		rec, err := raw.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

const maxPages = 50

// AllRecords pages through Records until a short page.
func (c *Client) AllRecords(ctx context.Context, start, end time.Time) ([]Record, error) {
	const pageSize = 50
	var all []Record
	for page := 1; page <= maxPages; page++ {
		records, err := c.Records(ctx, start, end, page, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
		if len(records) < pageSize {
			return all, nil
		}
	}
	c.logger.WithField("pages", maxPages).Warn("stopped paging attendance records")
	return all, nil
}

// Flow returns the card swipes between start and end. The upstream can
// take several seconds to answer this one.
func (c *Client) Flow(ctx context.Context, start, end time.Time) ([]Flow, error) {
	body := map[string]any{
		"startdate":  start.Format(dateLayout),
		"enddate":    end.Format(dateLayout),
		"current":    1,
		"pageSize":   50,
		"calendarBh": "",
	}
	var data struct {
		List []Flow `json:"list"`
	}
	if err := c.post(ctx, "waterList/page", body, &data); err != nil {
		return nil, fmt.Errorf("fetching flow: %w", err)
	}
	return data.List, nil
}
