package jwxt

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
)

const codeBaseURL = "https://jwxt.xjtu.edu.cn/jwapp/code/"

const (
	campusCodesPath   = "83a986fc-e677-400e-99a4-c7bb39c2ca35.do"
	buildingCodesPath = "551fbcc3-cf07-4566-af1e-fc7ce272ddc1.do"
	emptyRoomsPath    = "kxjas/modules/kxjscx/cxkxjs.do"
)

// Periods is the number of lesson periods in a day.
const Periods = 11

// Room is a classroom free during the asked periods.
type Room struct {
	Name         string `json:"name"`
	Building     string `json:"building"`
	Type         string `json:"type"`
	Capacity     int    `json:"capacity"`
	ExamCapacity int    `json:"exam_capacity"`
	Campus       string `json:"campus"`
}

// codes reads one of the name -> code tables the query form is built from.
func (c *Client) codes(ctx context.Context, path string) (map[string]string, error) {
	var reply struct {
		Datas struct {
			Code struct {
				Rows []struct {
					ID   services.FlexString `json:"id"`
					Name string              `json:"name"`
				} `json:"rows"`
			} `json:"code"`
		} `json:"datas"`
	}
	resp, err := c.r.PostForm(ctx, codeBaseURL+path, url.Values{})
	if err := services.DecodeJSON(resp, err, &reply); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(reply.Datas.Code.Rows))
	for _, r := range reply.Datas.Code.Rows {
		out[r.Name] = string(r.ID)
	}
	if len(out) == 0 {
		return nil, services.Unparseable("empty code table %s", path)
	}
	return out, nil
}

// Campuses maps campus names to their codes.
func (c *Client) Campuses(ctx context.Context) (map[string]string, error) {
	return c.codes(ctx, campusCodesPath)
}

// Buildings maps building names to their codes, across every campus.
func (c *Client) Buildings(ctx context.Context) (map[string]string, error) {
	return c.codes(ctx, buildingCodesPath)
}

// EmptyRooms lists the rooms of a building free from period from to period
// to on date. Asking for periods 0 to 0 lists every room of the building.
func (c *Client) EmptyRooms(ctx context.Context, campus, building string, date time.Time, from, to int) ([]Room, error) {
	var rows []struct {
		JASMC         string           `json:"JASMC"`
		JXLDMDisplay  string           `json:"JXLDM_DISPLAY"`
		JASLXDM       *string          `json:"JASLXDM"`
		JASLXDisplay  string           `json:"JASLXDM_DISPLAY"`
		SKZWS         services.FlexInt `json:"SKZWS"`
		KSZWS         services.FlexInt `json:"KSZWS"`
		XXXQDMDisplay string           `json:"XXXQDM_DISPLAY"`
	}
	form := url.Values{
		"XXXQDM":     {campus},
		"JXLDM":      {building},
		"KXRQ":       {date.Format(time.DateOnly)},
		"KSJC":       {strconv.Itoa(from)},
		"JSJC":       {strconv.Itoa(to)},
		"pageSize":   {"500"},
		"pageNumber": {"1"},
	}
	if err := c.rows(ctx, emptyRoomsPath, "cxkxjs", form, &rows); err != nil {
		return nil, err
	}
	rooms := make([]Room, 0, len(rows))
	for _, r := range rows {
		// rooms without a type are placeholders, and test rooms carry 测试专用
		if r.JASLXDM == nil || strings.Contains(r.JASMC, "测试专用") {
			continue
		}
		rooms = append(rooms, Room{
			Name:         r.JASMC,
			Building:     r.JXLDMDisplay,
			Type:         r.JASLXDisplay,
			Capacity:     int(r.SKZWS),
			ExamCapacity: int(r.KSZWS),
			Campus:       r.XXXQDMDisplay,
		})
	}
	return rooms, nil
}
